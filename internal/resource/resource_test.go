package resource

import (
	"encoding/binary"
	"math"
	"testing"
	"testing/fstest"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/gpu/gputest"
)

type fixture struct {
	backend *gputest.Backend
	dev     gpu.Device
	alloc   gpu.Allocator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	b := gputest.New()
	inst, err := b.CreateInstance(gpu.InstanceInfo{})
	require.NoError(t, err)
	pds, err := inst.PhysicalDevices()
	require.NoError(t, err)
	dev, err := pds[0].CreateDevice(nil, gpu.DeviceCandidate{}, gpu.DeviceRequirements{})
	require.NoError(t, err)
	alloc, err := dev.CreateAllocator()
	require.NoError(t, err)
	return fixture{backend: b, dev: dev, alloc: alloc}
}

func TestBufferUpdateEncodesLittleEndian(t *testing.T) {
	f := newFixture(t)
	buf, err := BufferBuilder{Size: 16, Usage: gpu.BufferUsageUniformBuffer, Memory: gpu.MemoryUsageCPUToGPU}.Build(f.alloc)
	require.NoError(t, err)
	defer buf.Destroy()

	require.NoError(t, buf.Update([2]float32{1.5, -2}))

	out := make([]byte, 8)
	require.NoError(t, buf.Read(out))
	require.Equal(t, float32(1.5), math.Float32frombits(binary.LittleEndian.Uint32(out[0:])))
	require.Equal(t, float32(-2), math.Float32frombits(binary.LittleEndian.Uint32(out[4:])))
}

func TestBufferUpdateRejectsOversizedData(t *testing.T) {
	f := newFixture(t)
	buf, err := BufferBuilder{Size: 4, Usage: gpu.BufferUsageUniformBuffer, Memory: gpu.MemoryUsageCPUToGPU}.Build(f.alloc)
	require.NoError(t, err)

	require.Error(t, buf.Update([2]float32{}))
	require.Error(t, buf.Update("not fixed size"))
}

func TestBuilderValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		build func() error
		field string
	}{
		{"buffer size", func() error {
			_, err := BufferBuilder{Usage: gpu.BufferUsageVertexBuffer}.Build(f.alloc)
			return err
		}, "BufferBuilder.Size"},
		{"buffer usage", func() error {
			_, err := BufferBuilder{Size: 4}.Build(f.alloc)
			return err
		}, "BufferBuilder.Usage"},
		{"image extent", func() error {
			_, err := ImageBuilder{Format: gpu.FormatD32SFloat, Usage: gpu.ImageUsageDepthStencilAttachment}.Build(f.alloc)
			return err
		}, "ImageBuilder.Extent"},
		{"image format", func() error {
			_, err := ImageBuilder{Extent: gpu.Extent2D{Width: 1, Height: 1}, Usage: gpu.ImageUsageSampled}.Build(f.alloc)
			return err
		}, "ImageBuilder.Format"},
		{"layout bindings", func() error {
			var b DescriptorSetLayoutBuilder
			_, err := b.Build(f.dev)
			return err
		}, "DescriptorSetLayoutBuilder.Bindings"},
		{"duplicate binding", func() error {
			var b DescriptorSetLayoutBuilder
			b.AddBinding(0, gpu.DescriptorTypeUniformBuffer, gpu.ShaderStageVertex)
			b.AddBinding(0, gpu.DescriptorTypeStorageImage, gpu.ShaderStageCompute)
			_, err := b.Build(f.dev)
			return err
		}, "DescriptorSetLayoutBuilder.Bindings"},
		{"pool max sets", func() error {
			var b DescriptorPoolBuilder
			b.AddPoolSize(gpu.DescriptorTypeUniformBuffer, 1)
			_, err := b.Build(f.dev, 0)
			return err
		}, "DescriptorPoolBuilder.maxSets"},
		{"pipeline layout", func() error {
			_, err := DefaultGraphicsPipeline().Build(f.dev)
			return err
		}, "GraphicsPipelineBuilder.Layout"},
		{"compute stage", func() error {
			layout, err := PipelineLayoutBuilder{}.Build(f.dev)
			require.NoError(t, err)
			_, err = ComputePipelineBuilder{Layout: layout}.Build(f.dev)
			return err
		}, "ComputePipelineBuilder.Stage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build()
			require.True(t, errors.Is(err, ErrInvalidBuilder), "got %v", err)
			require.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	buf, err := BufferBuilder{Size: 4, Usage: gpu.BufferUsageVertexBuffer}.Build(f.alloc)
	require.NoError(t, err)

	buf.Destroy()
	buf.Destroy()

	require.Empty(t, f.backend.Violations)
	require.Equal(t, 0, f.backend.Live("buffer"))
	require.Nil(t, buf.Handle())
}

func TestReleaseTransfersOwnership(t *testing.T) {
	f := newFixture(t)
	img, err := ImageBuilder{
		Extent: gpu.Extent2D{Width: 4, Height: 4},
		Format: gpu.FormatD32SFloat,
		Usage:  gpu.ImageUsageDepthStencilAttachment,
	}.Build(f.alloc)
	require.NoError(t, err)

	handle := img.Release()
	img.Destroy()
	require.Equal(t, 1, f.backend.Live("image"))

	handle.Destroy()
	require.Equal(t, 0, f.backend.Live("image"))
}

func TestImageTransitionTracksLayout(t *testing.T) {
	f := newFixture(t)
	img, err := ImageBuilder{
		Extent: gpu.Extent2D{Width: 4, Height: 4},
		Format: gpu.FormatD24UNormS8UInt,
		Usage:  gpu.ImageUsageDepthStencilAttachment,
	}.Build(f.alloc)
	require.NoError(t, err)
	require.Equal(t, gpu.ImageAspectDepth|gpu.ImageAspectStencil, img.Aspect())

	pool, err := CommandPoolBuilder{Buffers: 1}.Build(f.dev)
	require.NoError(t, err)
	cmd := pool.Buffer(0)
	require.NoError(t, cmd.Begin(true))

	img.Transition(cmd, Transition{NewLayout: gpu.ImageLayoutTransferDstOptimal})
	img.Transition(cmd, Transition{NewLayout: gpu.ImageLayoutShaderReadOnlyOptimal})
	img.Transition(cmd, Transition{NewLayout: gpu.ImageLayoutGeneral, Discard: true})
	require.NoError(t, cmd.End())

	barriers := gputest.Find(cmd.(*gputest.CommandBuffer).Commands, gputest.OpBarrier)
	require.Len(t, barriers, 3)
	require.Equal(t, gpu.ImageLayoutUndefined, barriers[0].Barrier.OldLayout)
	require.Equal(t, gpu.ImageLayoutTransferDstOptimal, barriers[1].Barrier.OldLayout)
	require.Equal(t, gpu.ImageLayoutUndefined, barriers[2].Barrier.OldLayout)
	require.Equal(t, gpu.ImageLayoutGeneral, img.Layout())

	img.Discard()
	require.Equal(t, gpu.ImageLayoutUndefined, img.Layout())
}

func TestSwapchainImagesAreNotDestroyed(t *testing.T) {
	f := newFixture(t)
	sc, err := f.dev.CreateSwapchain(gpu.SwapchainInfo{MinImageCount: 3})
	require.NoError(t, err)
	handles, err := sc.Images()
	require.NoError(t, err)

	images := WrapSwapchainImages(handles, gpu.FormatB8G8R8A8SRGB, gpu.Extent2D{Width: 800, Height: 600})
	require.Len(t, images, 3)
	for _, img := range images {
		img.Destroy()
	}
	require.Empty(t, f.backend.Violations)
}

func TestDescriptorSetWrites(t *testing.T) {
	f := newFixture(t)

	var lb DescriptorSetLayoutBuilder
	lb.AddBinding(0, gpu.DescriptorTypeUniformBuffer, gpu.ShaderStageVertex)
	layout, err := lb.Build(f.dev)
	require.NoError(t, err)

	var pb DescriptorPoolBuilder
	pb.AddPoolSize(gpu.DescriptorTypeUniformBuffer, 2)
	pool, err := pb.Build(f.dev, 2)
	require.NoError(t, err)

	sets, err := DescriptorSetBuilder{Pool: pool, Layouts: []*DescriptorSetLayout{layout, layout}}.Build()
	require.NoError(t, err)
	require.Len(t, sets, 2)

	ubo, err := BufferBuilder{Size: 128, Usage: gpu.BufferUsageUniformBuffer, Memory: gpu.MemoryUsageCPUToGPU}.Build(f.alloc)
	require.NoError(t, err)
	sets[1].AddBufferWrite(0, gpu.DescriptorTypeUniformBuffer, ubo)
	require.NoError(t, sets[1].Update())

	got := sets[1].Handle().(*gputest.DescriptorSet).Writes[0]
	require.Equal(t, 128, got.Range)
	require.Equal(t, ubo.Handle(), got.Buffer)

	_, err = DescriptorSetBuilder{Pool: pool, Layouts: []*DescriptorSetLayout{layout}}.Build()
	require.Error(t, err, "pool holds two sets")
}

func TestLoadShaderStage(t *testing.T) {
	f := newFixture(t)
	fsys := fstest.MapFS{
		"shaders/triangle.vert.spv": {Data: []byte{0x03, 0x02, 0x23, 0x07}},
	}

	stage, err := LoadShaderStage(f.dev, fsys, "shaders/triangle.vert.spv", gpu.ShaderStageVertex)
	require.NoError(t, err)
	require.Equal(t, gpu.ShaderStageVertex, stage.Stage())
	stage.Destroy()

	_, err = LoadShaderStage(f.dev, fsys, "shaders/missing.frag.spv", gpu.ShaderStageFragment)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read shader shaders/missing.frag.spv")
}

func TestGraphicsPipelineNeedsBothStages(t *testing.T) {
	f := newFixture(t)
	fsys := fstest.MapFS{"v.spv": {Data: make([]byte, 4)}, "f.spv": {Data: make([]byte, 4)}}
	vert, err := LoadShaderStage(f.dev, fsys, "v.spv", gpu.ShaderStageVertex)
	require.NoError(t, err)
	frag, err := LoadShaderStage(f.dev, fsys, "f.spv", gpu.ShaderStageFragment)
	require.NoError(t, err)
	layout, err := PipelineLayoutBuilder{}.Build(f.dev)
	require.NoError(t, err)

	b := DefaultGraphicsPipeline()
	b.Layout = layout
	b.ColorFormats = []gpu.Format{gpu.FormatB8G8R8A8SRGB}
	b.Stages = []*ShaderStage{vert}
	_, err = b.Build(f.dev)
	require.ErrorIs(t, err, ErrInvalidBuilder)

	b.Stages = []*ShaderStage{vert, frag}
	b.DepthTest = true
	_, err = b.Build(f.dev)
	require.ErrorIs(t, err, ErrInvalidBuilder)

	b.DepthFormat = gpu.FormatD32SFloat
	p, err := b.Build(f.dev)
	require.NoError(t, err)

	info := p.Handle().(*gputest.Pipeline).Graphics
	require.Equal(t, gpu.CullModeBack, info.CullMode)
	require.Equal(t, gpu.FrontFaceClockwise, info.FrontFace)
	require.Equal(t, gpu.CompareOpLessOrEqual, info.DepthCompare)
	require.Equal(t, []gpu.DynamicState{gpu.DynamicStateViewport, gpu.DynamicStateScissor}, info.DynamicStates)
}

func TestCommandPoolOneShotSubmitWaitsOnItsFence(t *testing.T) {
	f := newFixture(t)
	pool, err := CommandPoolBuilder{Buffers: 2}.Build(f.dev)
	require.NoError(t, err)
	require.Equal(t, 2, pool.Len())

	staging, err := BufferBuilder{Size: 4, Usage: gpu.BufferUsageTransferSrc, Memory: gpu.MemoryUsageCPUToGPU}.Build(f.alloc)
	require.NoError(t, err)
	local, err := BufferBuilder{Size: 4, Usage: gpu.BufferUsageTransferDst | gpu.BufferUsageVertexBuffer}.Build(f.alloc)
	require.NoError(t, err)
	require.NoError(t, staging.Update([4]byte{9, 8, 7, 6}))

	err = pool.Submit(f.dev.GraphicsQueue(), func(cmd gpu.CommandBuffer) error {
		return staging.CopyTo(cmd, local)
	})
	require.NoError(t, err)

	require.Equal(t, []byte{9, 8, 7, 6}, local.Handle().(*gputest.Buffer).Data)
	require.Equal(t, 0, f.backend.Live("fence"))
	require.Empty(t, f.backend.Violations)

	pool.Destroy()
	require.Equal(t, 0, f.backend.Live("command buffer"))
	require.Equal(t, 0, f.backend.Live("command pool"))
}

func TestCommandPoolSubmitPropagatesRecordError(t *testing.T) {
	f := newFixture(t)
	pool, err := CommandPoolBuilder{}.Build(f.dev)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = pool.Submit(f.dev.GraphicsQueue(), func(gpu.CommandBuffer) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Empty(t, f.backend.Submissions)
}
