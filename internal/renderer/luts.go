package renderer

import (
	"io/fs"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/deletion"
	"github.com/vkngwrapper/atmosphere/internal/export"
	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/logging"
	"github.com/vkngwrapper/atmosphere/internal/resource"
	"github.com/vkngwrapper/atmosphere/internal/timing"
)

// LUTFormat is the texel format of every lookup table.
const LUTFormat = gpu.FormatR16G16B16A16SFloat

// Lookup table sizes.
var (
	TransmittanceExtent   = gpu.Extent2D{Width: 256, Height: 64}
	MultiScatteringExtent = gpu.Extent2D{Width: 32, Height: 32}
	SkyViewExtent         = gpu.Extent2D{Width: 192, Height: 108}
)

// Compute shaders run 8x8 invocations per workgroup.
const workgroupSize = 8

// Timing pool priorities of the lookup table passes.
const (
	PriorityTransmittance = iota
	PriorityMultiScattering
	PrioritySkyView
)

// Shader paths inside the shader file system.
const (
	TransmittanceShader   = "transmittance.comp.spv"
	MultiScatteringShader = "multiscattering.comp.spv"
	SkyViewShader         = "skyview.comp.spv"
)

// lut is one table and the compute pass that fills it. Binding 0 is the
// table itself as a storage image, followed by one sampled binding per
// input table and, for passes that need the camera, the frame uniforms.
type lut struct {
	name     string
	priority int
	inputs   []*lut
	uniforms bool

	image     *resource.Image
	view      *resource.ImageView
	setLayout *resource.DescriptorSetLayout
	layout    *resource.PipelineLayout
	pipeline  *resource.Pipeline
	sets      []*resource.DescriptorSet
}

func groups(n int) int {
	return (n + workgroupSize - 1) / workgroupSize
}

// record rewrites the table and publishes it for reading.
func (l *lut) record(cmd gpu.CommandBuffer, set int) {
	l.image.Transition(cmd, LUTWriteTransition)
	cmd.BindPipeline(l.pipeline.Handle())
	cmd.BindDescriptorSets(gpu.BindPointCompute, l.layout.Handle(), 0, l.sets[set].Handle())
	extent := l.image.Extent()
	cmd.Dispatch(groups(extent.Width), groups(extent.Height), 1)
	l.image.Transition(cmd, LUTReadTransition)
}

// LUTs owns the transmittance, multiple scattering and skyview tables.
// Transmittance and multiple scattering depend only on the atmosphere and
// are computed once; skyview depends on the camera and is recomputed every
// frame the sky is drawn, with one descriptor set per frame slot.
type LUTs struct {
	transmittance   *lut
	multiScattering *lut
	skyView         *lut

	sampler *resource.Sampler
	pool    *resource.DescriptorPool

	cleanup deletion.Queue
}

// NewLUTs creates the tables and their pipelines. uniforms holds one frame
// uniform buffer per frame slot.
func NewLUTs(dev gpu.Device, alloc gpu.Allocator, shaders fs.FS, uniforms []*resource.Buffer) (*LUTs, error) {
	if len(uniforms) == 0 {
		return nil, errors.AssertionFailedf("no frame uniform buffers")
	}
	l := &LUTs{}
	l.transmittance = &lut{name: "transmittance", priority: PriorityTransmittance}
	l.multiScattering = &lut{name: "multiscattering", priority: PriorityMultiScattering, inputs: []*lut{l.transmittance}}
	l.skyView = &lut{name: "skyview", priority: PrioritySkyView, inputs: []*lut{l.transmittance, l.multiScattering}, uniforms: true}

	if err := l.build(dev, alloc, shaders, uniforms); err != nil {
		l.Destroy()
		return nil, err
	}
	return l, nil
}

func (l *LUTs) build(dev gpu.Device, alloc gpu.Allocator, shaders fs.FS, uniforms []*resource.Buffer) error {
	sampler, err := resource.DefaultSampler().Build(dev)
	if err != nil {
		return err
	}
	l.sampler = sampler
	l.cleanup.Push(sampler.Destroy)

	frames := len(uniforms)
	var poolBuilder resource.DescriptorPoolBuilder
	poolBuilder.AddPoolSize(gpu.DescriptorTypeStorageImage, 2+frames)
	poolBuilder.AddPoolSize(gpu.DescriptorTypeCombinedImageSampler, 1+2*frames)
	poolBuilder.AddPoolSize(gpu.DescriptorTypeUniformBuffer, frames)
	pool, err := poolBuilder.Build(dev, 2+frames)
	if err != nil {
		return err
	}
	l.pool = pool
	l.cleanup.Push(pool.Destroy)

	passes := []struct {
		lut    *lut
		extent gpu.Extent2D
		shader string
		sets   int
	}{
		{l.transmittance, TransmittanceExtent, TransmittanceShader, 1},
		{l.multiScattering, MultiScatteringExtent, MultiScatteringShader, 1},
		{l.skyView, SkyViewExtent, SkyViewShader, frames},
	}
	for _, p := range passes {
		if err := l.buildPass(dev, alloc, shaders, p.lut, p.extent, p.shader, p.sets, uniforms); err != nil {
			return errors.Wrapf(err, "%s lookup table", p.lut.name)
		}
	}
	return nil
}

func (l *LUTs) buildPass(dev gpu.Device, alloc gpu.Allocator, shaders fs.FS, t *lut, extent gpu.Extent2D, shader string, sets int, uniforms []*resource.Buffer) error {
	image, err := resource.ImageBuilder{
		Extent: extent,
		Format: LUTFormat,
		Usage:  gpu.ImageUsageStorage | gpu.ImageUsageSampled | gpu.ImageUsageTransferSrc,
		Memory: gpu.MemoryUsageGPUOnly,
	}.Build(alloc)
	if err != nil {
		return err
	}
	t.image = image
	l.cleanup.Push(image.Destroy)

	view, err := image.CreateView(dev)
	if err != nil {
		return err
	}
	t.view = view
	l.cleanup.Push(view.Destroy)

	var layoutBuilder resource.DescriptorSetLayoutBuilder
	layoutBuilder.AddBinding(0, gpu.DescriptorTypeStorageImage, gpu.ShaderStageCompute)
	for i := range t.inputs {
		layoutBuilder.AddBinding(1+i, gpu.DescriptorTypeCombinedImageSampler, gpu.ShaderStageCompute)
	}
	uniformBinding := 1 + len(t.inputs)
	if t.uniforms {
		layoutBuilder.AddBinding(uniformBinding, gpu.DescriptorTypeUniformBuffer, gpu.ShaderStageCompute)
	}
	setLayout, err := layoutBuilder.Build(dev)
	if err != nil {
		return err
	}
	t.setLayout = setLayout
	l.cleanup.Push(setLayout.Destroy)

	layout, err := resource.PipelineLayoutBuilder{SetLayouts: []*resource.DescriptorSetLayout{setLayout}}.Build(dev)
	if err != nil {
		return err
	}
	t.layout = layout
	l.cleanup.Push(layout.Destroy)

	stage, err := resource.LoadShaderStage(dev, shaders, shader, gpu.ShaderStageCompute)
	if err != nil {
		return err
	}
	defer stage.Destroy()
	pipeline, err := resource.ComputePipelineBuilder{Layout: layout, Stage: stage}.Build(dev)
	if err != nil {
		return err
	}
	t.pipeline = pipeline
	l.cleanup.Push(pipeline.Destroy)

	layouts := make([]*resource.DescriptorSetLayout, sets)
	for i := range layouts {
		layouts[i] = setLayout
	}
	t.sets, err = resource.DescriptorSetBuilder{Pool: l.pool, Layouts: layouts}.Build()
	if err != nil {
		return err
	}
	for i, set := range t.sets {
		set.AddImageWrite(0, gpu.DescriptorTypeStorageImage, view, nil, gpu.ImageLayoutGeneral)
		for j, in := range t.inputs {
			set.AddImageWrite(1+j, gpu.DescriptorTypeCombinedImageSampler, in.view, l.sampler, gpu.ImageLayoutShaderReadOnlyOptimal)
		}
		if t.uniforms {
			set.AddBufferWrite(uniformBinding, gpu.DescriptorTypeUniformBuffer, uniforms[i])
		}
		if err := set.Update(); err != nil {
			return err
		}
	}
	return nil
}

// Precompute fills every table in dependency order with one fenced
// submission. The skyview table is computed with frame slot 0's uniforms
// so it is valid before the first frame. When timings is not nil each pass
// is bracketed with timestamps.
func (l *LUTs) Precompute(pool *resource.CommandPool, queue gpu.Queue, timings *timing.Pool) error {
	err := pool.Submit(queue, func(cmd gpu.CommandBuffer) error {
		if timings != nil {
			timings.Reset(cmd)
		}
		for _, t := range []*lut{l.transmittance, l.multiScattering, l.skyView} {
			if timings == nil {
				t.record(cmd, 0)
				continue
			}
			err := timings.RecordWholePipe(cmd, t.name, t.priority, func() error {
				t.record(cmd, 0)
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "time %s pass", t.name)
			}
		}
		return nil
	})
	return errors.Wrap(err, "precompute lookup tables")
}

// RecordSkyView records the per-frame skyview pass for a frame slot.
func (l *LUTs) RecordSkyView(cmd gpu.CommandBuffer, slot int) {
	l.skyView.record(cmd, slot)
}

// SkyView is the table the sky pass samples.
func (l *LUTs) SkyView() *resource.ImageView { return l.skyView.view }

func (l *LUTs) Sampler() *resource.Sampler { return l.sampler }

// ProfileLUTs pulls the timings Precompute recorded and logs them.
func ProfileLUTs(timings *timing.Pool) ([]timing.Result, error) {
	results, ready, err := timings.Results()
	if err != nil {
		return nil, errors.Wrap(err, "lookup table timings")
	}
	if !ready {
		logging.Logger().Debug("lookup table timings not ready")
		return results, nil
	}
	for _, r := range results {
		logging.Logger().Info("lookup table timing", "pass", r.Label, "ms", r.Milliseconds)
	}
	return results, nil
}

// CaptureSkyView copies the skyview table to host memory.
func (l *LUTs) CaptureSkyView(alloc gpu.Allocator, pool *resource.CommandPool, queue gpu.Queue) (*export.HalfImage, error) {
	image := l.skyView.image
	extent := image.Extent()
	size := extent.Width * extent.Height * 8

	readback, err := resource.BufferBuilder{
		Size:   size,
		Usage:  gpu.BufferUsageTransferDst,
		Memory: gpu.MemoryUsageGPUToCPU,
	}.Build(alloc)
	if err != nil {
		return nil, err
	}
	defer readback.Destroy()

	err = pool.Submit(queue, func(cmd gpu.CommandBuffer) error {
		image.Transition(cmd, CaptureSourceTransition)
		cmd.CopyImageToBuffer(image.Handle(), image.Layout(), readback.Handle(), extent, image.Aspect())
		cmd.MemoryBarrier(CaptureReadbackBarrier)
		image.Transition(cmd, CaptureDoneTransition)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "copy skyview table")
	}

	data := make([]byte, size)
	if err := readback.Read(data); err != nil {
		return nil, errors.Wrap(err, "read skyview table")
	}
	return export.HalfImageFromBytes(extent.Width, extent.Height, data)
}

// Destroy frees everything. The device must be idle.
func (l *LUTs) Destroy() {
	l.cleanup.Flush()
}
