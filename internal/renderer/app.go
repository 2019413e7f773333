// Package renderer draws the sky and the scene. It brings the GPU context up
// stage by stage, precomputes the atmosphere lookup tables and runs the
// frame loop until the window closes.
package renderer

import (
	"encoding/binary"
	"fmt"
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/atmosphere/internal/camera"
	"github.com/vkngwrapper/atmosphere/internal/config"
	"github.com/vkngwrapper/atmosphere/internal/export"
	"github.com/vkngwrapper/atmosphere/internal/frame"
	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/logging"
	"github.com/vkngwrapper/atmosphere/internal/platform"
	"github.com/vkngwrapper/atmosphere/internal/resource"
	"github.com/vkngwrapper/atmosphere/internal/timing"
	"github.com/vkngwrapper/atmosphere/internal/worldtime"
)

// Graphics shader paths inside the shader file system.
const (
	SceneVertexShader   = "triangle.vert.spv"
	SceneFragmentShader = "triangle.frag.spv"
	SkyVertexShader     = "sky.vert.spv"
	SkyFragmentShader   = "sky.frag.spv"
)

// FrameUniforms is the per-frame uniform block shared by every shader, in
// std140 layout.
type FrameUniforms struct {
	Model                 mgl32.Mat4
	View                  mgl32.Mat4
	Projection            mgl32.Mat4
	InverseViewProjection mgl32.Mat4
	CameraPosition        mgl32.Vec4
	SunDirection          mgl32.Vec4
}

// SunDirection points toward the sun.
var SunDirection = mgl32.Vec3{0, 0.25, 1}.Normalize()

// App owns the context and everything the frame loop draws with.
type App struct {
	cfg     config.Config
	shaders fs.FS
	ctx     *Context

	camera *camera.Camera
	clock  *worldtime.Clock

	commands *resource.CommandPool
	frames   *frame.Sync
	timings  *timing.Pool

	depthFormat gpu.Format
	depth       *resource.Image
	depthView   *resource.ImageView

	vertices *resource.Buffer
	uniforms []*resource.Buffer
	luts     *LUTs

	descriptors *resource.DescriptorPool
	sceneLayout *resource.PipelineLayout
	scenePipe   *resource.Pipeline
	sceneSets   []*resource.DescriptorSet
	skyLayout   *resource.PipelineLayout
	skyPipe     *resource.Pipeline
	skySets     []*resource.DescriptorSet

	skyEnabled bool
	captures   int
	quit       bool
}

// New brings the renderer up on window, which it takes ownership of.
// Shaders are read from shaders. If any step fails, everything created so
// far is destroyed in reverse order and the error is marked with
// ErrInitialization.
func New(cfg config.Config, window platform.Window, backend gpu.Backend, shaders fs.FS) (*App, error) {
	a := &App{
		cfg:        cfg,
		shaders:    shaders,
		ctx:        &Context{},
		clock:      worldtime.New(nil),
		skyEnabled: cfg.Sky,
	}
	if err := a.init(window, backend); err != nil {
		a.ctx.Destroy()
		return nil, err
	}
	return a, nil
}

func (a *App) init(window platform.Window, backend gpu.Backend) error {
	c := a.ctx
	if err := c.AttachWindow(window); err != nil {
		return err
	}
	if err := a.cfg.Validate(); err != nil {
		return errors.Mark(err, ErrInitialization)
	}
	if err := c.CreateInstance(backend, a.cfg.Title, a.cfg.Validation); err != nil {
		return err
	}
	if err := c.CreateSurface(); err != nil {
		return err
	}
	if err := c.SelectDevice(DeviceRequirements); err != nil {
		return err
	}
	if err := c.CreateAllocator(); err != nil {
		return err
	}
	if err := c.CreateSwapchain(); err != nil {
		return err
	}
	if err := a.createResources(); err != nil {
		return failed(StageResourcesReady, err)
	}
	return c.ResourcesReady()
}

func (a *App) Context() *Context { return a.ctx }
func (a *App) Camera() *camera.Camera { return a.camera }
func (a *App) SkyEnabled() bool { return a.skyEnabled }
func (a *App) Captures() int { return a.captures }

func aspect(extent gpu.Extent2D) float32 {
	return float32(extent.Width) / float32(extent.Height)
}

func (a *App) createResources() error {
	c := a.ctx
	dev := c.Device

	depthFormat, err := gpu.FindDepthFormat(c.Physical)
	if err != nil {
		return errors.Wrap(err, "depth format")
	}
	a.depthFormat = depthFormat

	commands, err := resource.CommandPoolBuilder{QueueFamily: dev.GraphicsQueueFamily()}.Build(dev)
	if err != nil {
		return err
	}
	a.commands = commands
	c.Deletion.Push(commands.Destroy)

	frames, err := frame.New(dev, c.Swapchain.Len(), a.cfg.FenceTimeout)
	if err != nil {
		return err
	}
	a.frames = frames
	c.Deletion.Push(frames.Destroy)

	// The depth buffer follows the swapchain. Recreation replaces it; the
	// deletion queue destroys whichever one is current.
	if err := a.createDepth(c.Swapchain.Extent()); err != nil {
		return err
	}
	c.Deletion.Push(a.destroyDepth)
	c.Swapchain.OnRecreate(a.onRecreate)

	a.camera = camera.New(mgl32.Vec3{0, 0, 0}, aspect(c.Swapchain.Extent()))

	if err := a.uploadVertices(); err != nil {
		return err
	}
	if err := a.createUniforms(a.frames.Len()); err != nil {
		return err
	}

	luts, err := NewLUTs(dev, c.Allocator, a.shaders, a.uniforms)
	if err != nil {
		return err
	}
	a.luts = luts
	c.Deletion.Push(luts.Destroy)

	if err := a.createPipelines(); err != nil {
		return err
	}

	if a.cfg.Profile {
		timings, err := timing.New(dev, c.Physical.TimestampPeriod(), a.cfg.TimingCapacity)
		if err != nil {
			return err
		}
		a.timings = timings
		c.Deletion.Push(timings.Destroy)
	}
	if err := a.luts.Precompute(a.commands, c.Graphics, a.timings); err != nil {
		return err
	}
	if a.timings != nil {
		if _, err := ProfileLUTs(a.timings); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) createDepth(extent gpu.Extent2D) error {
	image, err := resource.ImageBuilder{
		Extent: extent,
		Format: a.depthFormat,
		Usage:  gpu.ImageUsageDepthStencilAttachment,
		Memory: gpu.MemoryUsageGPUOnly,
	}.Build(a.ctx.Allocator)
	if err != nil {
		return errors.Wrap(err, "depth image")
	}
	view, err := image.CreateView(a.ctx.Device)
	if err != nil {
		image.Destroy()
		return errors.Wrap(err, "depth image view")
	}
	a.depth, a.depthView = image, view
	return nil
}

func (a *App) destroyDepth() {
	if a.depthView != nil {
		a.depthView.Destroy()
		a.depthView = nil
	}
	if a.depth != nil {
		a.depth.Destroy()
		a.depth = nil
	}
}

func (a *App) onRecreate(extent gpu.Extent2D) error {
	a.destroyDepth()
	if err := a.createDepth(extent); err != nil {
		return err
	}
	a.camera.SetAspectRatio(aspect(extent))
	logging.Logger().Info("swapchain recreated", "width", extent.Width, "height", extent.Height)
	return nil
}

// uploadVertices copies the scene into device-local memory through a
// staging buffer.
func (a *App) uploadVertices() error {
	c := a.ctx
	size := binary.Size(SceneVertices)

	staging, err := resource.BufferBuilder{
		Size:   size,
		Usage:  gpu.BufferUsageTransferSrc,
		Memory: gpu.MemoryUsageCPUToGPU,
	}.Build(c.Allocator)
	if err != nil {
		return errors.Wrap(err, "vertex staging buffer")
	}
	defer staging.Destroy()
	if err := staging.Update(SceneVertices); err != nil {
		return errors.Wrap(err, "fill vertex staging buffer")
	}

	vertices, err := resource.BufferBuilder{
		Size:   size,
		Usage:  gpu.BufferUsageVertexBuffer | gpu.BufferUsageTransferDst,
		Memory: gpu.MemoryUsageGPUOnly,
	}.Build(c.Allocator)
	if err != nil {
		return errors.Wrap(err, "vertex buffer")
	}
	c.Deletion.Push(vertices.Destroy)
	a.vertices = vertices

	err = a.commands.Submit(c.Graphics, func(cmd gpu.CommandBuffer) error {
		return staging.CopyTo(cmd, vertices)
	})
	return errors.Wrap(err, "upload vertices")
}

func (a *App) createUniforms(frames int) error {
	size := binary.Size(FrameUniforms{})
	for i := 0; i < frames; i++ {
		buf, err := resource.BufferBuilder{
			Size:   size,
			Usage:  gpu.BufferUsageUniformBuffer,
			Memory: gpu.MemoryUsageCPUToGPU,
		}.Build(a.ctx.Allocator)
		if err != nil {
			return errors.Wrapf(err, "frame %d uniform buffer", i)
		}
		a.ctx.Deletion.Push(buf.Destroy)
		a.uniforms = append(a.uniforms, buf)

		if err := buf.Update(a.frameUniforms()); err != nil {
			return errors.Wrapf(err, "frame %d uniforms", i)
		}
	}
	return nil
}

func (a *App) frameUniforms() FrameUniforms {
	view := a.camera.ViewMatrix()
	proj := a.camera.Projection()
	return FrameUniforms{
		Model:                 mgl32.Ident4(),
		View:                  view,
		Projection:            proj,
		InverseViewProjection: proj.Mul4(view).Inv(),
		CameraPosition:        a.camera.Position.Vec4(1),
		SunDirection:          SunDirection.Vec4(0),
	}
}

func (a *App) createPipelines() error {
	c := a.ctx
	dev := c.Device
	frames := len(a.uniforms)

	var sceneSet resource.DescriptorSetLayoutBuilder
	sceneSet.AddBinding(0, gpu.DescriptorTypeUniformBuffer, gpu.ShaderStageVertex|gpu.ShaderStageFragment)
	sceneSetLayout, err := sceneSet.Build(dev)
	if err != nil {
		return err
	}
	c.Deletion.Push(sceneSetLayout.Destroy)

	var skySet resource.DescriptorSetLayoutBuilder
	skySet.AddBinding(0, gpu.DescriptorTypeUniformBuffer, gpu.ShaderStageVertex|gpu.ShaderStageFragment)
	skySet.AddBinding(1, gpu.DescriptorTypeCombinedImageSampler, gpu.ShaderStageFragment)
	skySetLayout, err := skySet.Build(dev)
	if err != nil {
		return err
	}
	c.Deletion.Push(skySetLayout.Destroy)

	var poolBuilder resource.DescriptorPoolBuilder
	poolBuilder.AddPoolSize(gpu.DescriptorTypeUniformBuffer, 2*frames)
	poolBuilder.AddPoolSize(gpu.DescriptorTypeCombinedImageSampler, frames)
	pool, err := poolBuilder.Build(dev, 2*frames)
	if err != nil {
		return err
	}
	a.descriptors = pool
	c.Deletion.Push(pool.Destroy)

	if a.sceneSets, err = allocateSets(pool, sceneSetLayout, frames); err != nil {
		return err
	}
	if a.skySets, err = allocateSets(pool, skySetLayout, frames); err != nil {
		return err
	}
	for i := 0; i < frames; i++ {
		a.sceneSets[i].AddBufferWrite(0, gpu.DescriptorTypeUniformBuffer, a.uniforms[i])
		if err := a.sceneSets[i].Update(); err != nil {
			return err
		}
		a.skySets[i].AddBufferWrite(0, gpu.DescriptorTypeUniformBuffer, a.uniforms[i])
		a.skySets[i].AddImageWrite(1, gpu.DescriptorTypeCombinedImageSampler, a.luts.SkyView(), a.luts.Sampler(), gpu.ImageLayoutShaderReadOnlyOptimal)
		if err := a.skySets[i].Update(); err != nil {
			return err
		}
	}

	if a.sceneLayout, err = a.pipelineLayout(sceneSetLayout); err != nil {
		return err
	}
	scene := resource.DefaultGraphicsPipeline()
	scene.Layout = a.sceneLayout
	scene.VertexBindings = []gpu.VertexBinding{{Binding: 0, Stride: VertexStride}}
	scene.VertexAttributes = []gpu.VertexAttribute{{Location: 0, Binding: 0, Format: gpu.FormatR32G32B32SFloat, Offset: 0}}
	scene.ColorFormats = []gpu.Format{c.Swapchain.Format()}
	scene.DepthFormat = a.depthFormat
	scene.DepthTest = true
	scene.DepthWrite = true
	if a.scenePipe, err = a.graphicsPipeline(scene, SceneVertexShader, SceneFragmentShader); err != nil {
		return errors.Wrap(err, "scene pipeline")
	}

	if a.skyLayout, err = a.pipelineLayout(skySetLayout); err != nil {
		return err
	}
	// The sky is a fullscreen triangle behind everything: no vertex
	// input and no depth test.
	sky := resource.DefaultGraphicsPipeline()
	sky.Layout = a.skyLayout
	sky.CullMode = gpu.CullModeNone
	sky.ColorFormats = []gpu.Format{c.Swapchain.Format()}
	sky.DepthFormat = a.depthFormat
	if a.skyPipe, err = a.graphicsPipeline(sky, SkyVertexShader, SkyFragmentShader); err != nil {
		return errors.Wrap(err, "sky pipeline")
	}
	return nil
}

func allocateSets(pool *resource.DescriptorPool, layout *resource.DescriptorSetLayout, n int) ([]*resource.DescriptorSet, error) {
	layouts := make([]*resource.DescriptorSetLayout, n)
	for i := range layouts {
		layouts[i] = layout
	}
	return resource.DescriptorSetBuilder{Pool: pool, Layouts: layouts}.Build()
}

func (a *App) pipelineLayout(set *resource.DescriptorSetLayout) (*resource.PipelineLayout, error) {
	layout, err := resource.PipelineLayoutBuilder{SetLayouts: []*resource.DescriptorSetLayout{set}}.Build(a.ctx.Device)
	if err != nil {
		return nil, err
	}
	a.ctx.Deletion.Push(layout.Destroy)
	return layout, nil
}

func (a *App) graphicsPipeline(b resource.GraphicsPipelineBuilder, vert, frag string) (*resource.Pipeline, error) {
	dev := a.ctx.Device
	vertStage, err := resource.LoadShaderStage(dev, a.shaders, vert, gpu.ShaderStageVertex)
	if err != nil {
		return nil, err
	}
	defer vertStage.Destroy()
	fragStage, err := resource.LoadShaderStage(dev, a.shaders, frag, gpu.ShaderStageFragment)
	if err != nil {
		return nil, err
	}
	defer fragStage.Destroy()

	b.Stages = []*resource.ShaderStage{vertStage, fragStage}
	pipeline, err := b.Build(dev)
	if err != nil {
		return nil, err
	}
	a.ctx.Deletion.Push(pipeline.Destroy)
	return pipeline, nil
}

// Run draws frames until the window closes or Escape is pressed, then
// waits for the device and destroys everything.
func (a *App) Run() (err error) {
	if err := a.ctx.Start(); err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, a.ctx.Shutdown())
		a.ctx.Destroy()
	}()

	window := a.ctx.Window
	for !a.quit {
		if window.Minimized() {
			window.WaitEvents()
		} else {
			window.PollEvents()
		}
		if window.ShouldClose() {
			break
		}
		if err := a.tick(); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) tick() error {
	window := a.ctx.Window
	if window.KeyPressed(platform.KeyEscape) {
		a.quit = true
		return nil
	}
	if window.KeyPressed(platform.KeyF1) {
		a.skyEnabled = !a.skyEnabled
		logging.Logger().Info("sky toggled", "enabled", a.skyEnabled)
	}

	a.camera.Update(window, a.clock.Tick())

	if window.Minimized() {
		return nil
	}
	if window.TakeResized() {
		if err := a.recreate(); err != nil {
			return err
		}
	}
	if window.KeyPressed(platform.KeyF2) {
		a.capture()
	}

	outcome, err := a.frames.Draw(a.ctx.Swapchain, a.record, a.recreate)
	if err != nil {
		return errors.Wrap(err, "draw frame")
	}
	if outcome != frame.OutcomePresented {
		logging.Logger().Debug("frame not presented cleanly", "outcome", outcome.String())
	}
	return nil
}

func (a *App) recreate() error {
	ok, err := a.ctx.Swapchain.Recreate()
	if err != nil {
		return errors.Wrap(err, "recreate swapchain")
	}
	if !ok {
		logging.Logger().Debug("swapchain recreation skipped while minimized")
		return nil
	}
	// Frame slots stay at the first swapchain's image count.
	if images := a.ctx.Swapchain.Len(); images != a.frames.Len() {
		logging.Logger().Warn("swapchain image count no longer matches frames in flight",
			"images", images, "frames", a.frames.Len())
	}
	return nil
}

func (a *App) record(cmd gpu.CommandBuffer, slot, image int) error {
	if err := a.uniforms[slot].Update(a.frameUniforms()); err != nil {
		return errors.Wrapf(err, "frame %d uniforms", slot)
	}

	sc := a.ctx.Swapchain
	f := Frame{
		Color:     sc.Image(image),
		ColorView: sc.View(image),
		Depth:     a.depth,
		DepthView: a.depthView,
		Extent:    sc.Extent(),
		Scene: Draw{
			Pipeline: a.scenePipe,
			Layout:   a.sceneLayout,
			Set:      a.sceneSets[slot],
			Vertices: a.vertices,
			Stride:   VertexStride,
		},
	}
	if a.skyEnabled {
		a.luts.RecordSkyView(cmd, slot)
		f.Sky = &Draw{Pipeline: a.skyPipe, Layout: a.skyLayout, Set: a.skySets[slot]}
	}
	return RecordFrame(cmd, f)
}

// capture writes the skyview table to the output directory. Failures are
// logged and the frame loop carries on.
func (a *App) capture() {
	img, err := a.luts.CaptureSkyView(a.ctx.Allocator, a.commands, a.ctx.Graphics)
	if err == nil {
		name := fmt.Sprintf("skyview_%03d", a.captures)
		_, err = export.Save(a.cfg.OutputDir, name, export.Format(a.cfg.CaptureFormat), img)
	}
	if err != nil {
		logging.Logger().Warn("capture failed", "err", err)
		return
	}
	a.captures++
}
