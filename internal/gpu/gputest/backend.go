// Package gputest is an in-memory gpu backend that records what the renderer
// asks of it. It models fence and semaphore state closely enough to flag a
// frame slot reused while its work is still in flight.
package gputest

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

// Backend is the root of a fake device tree. The zero value is not usable;
// call New.
type Backend struct {
	// Log is the ordered list of lifecycle events ("create fence #4",
	// "wait idle", "present 1", ...).
	Log []string
	// Violations lists synchronization and lifetime misuse.
	Violations []string
	// Submissions holds a snapshot of every queue submission.
	Submissions []Submission

	PhysicalDevices []*PhysicalDevice
	Support         gpu.SurfaceSupport

	// AcquireResults and PresentResults are consumed one per call; once
	// empty, calls succeed.
	AcquireResults []gpu.Result
	PresentResults []gpu.Result
	// HangFences makes pending fences never complete, so bounded waits
	// time out.
	HangFences bool
	// TickStep is how far the timestamp counter advances per write.
	TickStep uint64

	failures map[string]error
	nextID   int
	ticks    uint64

	fences   []*Fence
	commands []*CommandBuffer
}

type Submission struct {
	Fence            *Fence
	WaitSemaphores   []*Semaphore
	WaitStages       []gpu.PipelineStage
	SignalSemaphores []*Semaphore
	Commands         [][]Command
}

func New() *Backend {
	b := &Backend{
		Support: gpu.SurfaceSupport{
			Capabilities: gpu.SurfaceCapabilities{
				MinImageCount:  2,
				MaxImageCount:  8,
				CurrentExtent:  gpu.Extent2D{Width: 800, Height: 600},
				MinImageExtent: gpu.Extent2D{Width: 1, Height: 1},
				MaxImageExtent: gpu.Extent2D{Width: 4096, Height: 4096},
			},
			Formats: []gpu.SurfaceFormat{
				{Format: gpu.FormatB8G8R8A8UNorm, ColorSpace: gpu.ColorSpaceSRGBNonlinear},
				{Format: gpu.FormatB8G8R8A8SRGB, ColorSpace: gpu.ColorSpaceSRGBNonlinear},
			},
			PresentModes: []gpu.PresentMode{gpu.PresentModeFIFO, gpu.PresentModeMailbox},
		},
		TickStep: 1000,
		failures: map[string]error{},
	}
	b.PhysicalDevices = []*PhysicalDevice{b.NewPhysicalDevice("fake discrete", gpu.PhysicalDeviceTypeDiscreteGPU)}
	return b
}

// Fail makes the named operation (for example "CreateSwapchain") return err
// from now on.
func (b *Backend) Fail(op string, err error) {
	b.failures[op] = err
}

func (b *Backend) check(op string) error {
	if err, ok := b.failures[op]; ok {
		return errors.Wrap(err, op)
	}
	return nil
}

func (b *Backend) logf(format string, args ...any) {
	b.Log = append(b.Log, fmt.Sprintf(format, args...))
}

func (b *Backend) violate(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	b.Violations = append(b.Violations, msg)
	return errors.AssertionFailedf("%s", msg)
}

// Index returns the position of the first log entry equal to event, or -1.
func (b *Backend) Index(event string) int {
	for i, e := range b.Log {
		if e == event {
			return i
		}
	}
	return -1
}

// Count returns how many log entries equal event.
func (b *Backend) Count(event string) int {
	n := 0
	for _, e := range b.Log {
		if e == event {
			n++
		}
	}
	return n
}

// Live reports how many objects of kind have been created and not
// destroyed.
func (b *Backend) Live(kind string) int {
	n := 0
	for _, e := range b.Log {
		switch {
		case strings.HasPrefix(e, "create "+kind+" #"):
			n++
		case strings.HasPrefix(e, "destroy "+kind+" #"):
			n--
		}
	}
	return n
}

type object struct {
	b         *Backend
	kind      string
	ID        int
	Destroyed bool
}

func (b *Backend) newObject(kind string) object {
	b.nextID++
	b.logf("create %s #%d", kind, b.nextID)
	return object{b: b, kind: kind, ID: b.nextID}
}

func (o *object) Destroy() {
	if o.Destroyed {
		o.b.violate("%s #%d destroyed twice", o.kind, o.ID)
		return
	}
	o.Destroyed = true
	o.b.logf("destroy %s #%d", o.kind, o.ID)
}

// CreateInstance implements gpu.Backend.
func (b *Backend) CreateInstance(info gpu.InstanceInfo) (gpu.Instance, error) {
	if err := b.check("CreateInstance"); err != nil {
		return nil, err
	}
	return &Instance{object: b.newObject("instance"), Info: info}, nil
}

type Instance struct {
	object
	Info gpu.InstanceInfo
}

func (i *Instance) CreateSurface(target gpu.SurfaceTarget) (gpu.Surface, error) {
	if err := i.b.check("CreateSurface"); err != nil {
		return nil, err
	}
	return &Surface{object: i.b.newObject("surface")}, nil
}

func (i *Instance) PhysicalDevices() ([]gpu.PhysicalDevice, error) {
	if err := i.b.check("PhysicalDevices"); err != nil {
		return nil, err
	}
	out := make([]gpu.PhysicalDevice, len(i.b.PhysicalDevices))
	for n, pd := range i.b.PhysicalDevices {
		out[n] = pd
	}
	return out, nil
}

type Surface struct{ object }

type PhysicalDevice struct {
	b         *Backend
	Candidate gpu.DeviceCandidate
	Formats   map[gpu.Format]gpu.FormatProperties
	Period    float32
}

// NewPhysicalDevice returns a device that meets every requirement the
// renderer has. Tests mutate Candidate or Formats to take capabilities
// away.
func (b *Backend) NewPhysicalDevice(name string, kind gpu.PhysicalDeviceType) *PhysicalDevice {
	return &PhysicalDevice{
		b: b,
		Candidate: gpu.DeviceCandidate{
			Name:       name,
			Type:       kind,
			APIVersion: gpu.MakeVersion(1, 3, 0),
			Extensions: map[string]bool{
				"VK_KHR_swapchain": true,
			},
			Features:       gpu.DeviceFeatures{SamplerAnisotropy: true, StorageImageWrite: true},
			GraphicsFamily: 0,
			PresentFamily:  0,
			SurfaceFormats: 2,
			PresentModes:   2,
		},
		Formats: map[gpu.Format]gpu.FormatProperties{
			gpu.FormatD32SFloat: {OptimalTilingFeatures: gpu.FormatFeatureDepthStencilAttachment},
			gpu.FormatR16G16B16A16SFloat: {
				OptimalTilingFeatures: gpu.FormatFeatureStorageImage | gpu.FormatFeatureSampledImage,
			},
		},
		Period: 1,
	}
}

func (p *PhysicalDevice) Describe(surface gpu.Surface) (gpu.DeviceCandidate, error) {
	return p.Candidate, p.b.check("Describe")
}

func (p *PhysicalDevice) FormatProperties(format gpu.Format) gpu.FormatProperties {
	return p.Formats[format]
}

func (p *PhysicalDevice) TimestampPeriod() float32 {
	return p.Period
}

func (p *PhysicalDevice) CreateDevice(surface gpu.Surface, candidate gpu.DeviceCandidate, req gpu.DeviceRequirements) (gpu.Device, error) {
	if err := p.b.check("CreateDevice"); err != nil {
		return nil, err
	}
	d := &Device{object: p.b.newObject("device"), Physical: p, Requirements: req}
	d.queue = &Queue{b: p.b}
	return d, nil
}

// Device hands out one queue for both graphics and present.
type Device struct {
	object
	Physical     *PhysicalDevice
	Requirements gpu.DeviceRequirements
	queue        *Queue
}

func (d *Device) Name() string { return d.Physical.Candidate.Name }
func (d *Device) GraphicsQueue() gpu.Queue { return d.queue }
func (d *Device) PresentQueue() gpu.Queue { return d.queue }
func (d *Device) GraphicsQueueFamily() int { return d.Physical.Candidate.GraphicsFamily }
func (d *Device) PresentQueueFamily() int { return d.Physical.Candidate.PresentFamily }

func (d *Device) SurfaceSupport(surface gpu.Surface) (gpu.SurfaceSupport, error) {
	return d.b.Support, d.b.check("SurfaceSupport")
}

func (d *Device) CreateAllocator() (gpu.Allocator, error) {
	if err := d.b.check("CreateAllocator"); err != nil {
		return nil, err
	}
	return &Allocator{object: d.b.newObject("allocator")}, nil
}

func (d *Device) CreateImageView(info gpu.ImageViewInfo) (gpu.ImageView, error) {
	if err := d.b.check("CreateImageView"); err != nil {
		return nil, err
	}
	return &ImageView{object: d.b.newObject("image view"), Info: info}, nil
}

func (d *Device) CreateSampler(info gpu.SamplerInfo) (gpu.Sampler, error) {
	if err := d.b.check("CreateSampler"); err != nil {
		return nil, err
	}
	return &Sampler{object: d.b.newObject("sampler"), Info: info}, nil
}

func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModule, error) {
	if err := d.b.check("CreateShaderModule"); err != nil {
		return nil, err
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Newf("shader code of %d bytes is not a SPIR-V word stream", len(code))
	}
	return &ShaderModule{object: d.b.newObject("shader module"), Code: code}, nil
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayout, error) {
	if err := d.b.check("CreateDescriptorSetLayout"); err != nil {
		return nil, err
	}
	return &DescriptorSetLayout{object: d.b.newObject("descriptor set layout"), Bindings: bindings}, nil
}

func (d *Device) CreateDescriptorPool(info gpu.DescriptorPoolInfo) (gpu.DescriptorPool, error) {
	if err := d.b.check("CreateDescriptorPool"); err != nil {
		return nil, err
	}
	return &DescriptorPool{object: d.b.newObject("descriptor pool"), Info: info}, nil
}

func (d *Device) CreatePipelineLayout(info gpu.PipelineLayoutInfo) (gpu.PipelineLayout, error) {
	if err := d.b.check("CreatePipelineLayout"); err != nil {
		return nil, err
	}
	return &PipelineLayout{object: d.b.newObject("pipeline layout"), Info: info}, nil
}

func (d *Device) CreateGraphicsPipeline(info gpu.GraphicsPipelineInfo) (gpu.Pipeline, error) {
	if err := d.b.check("CreateGraphicsPipeline"); err != nil {
		return nil, err
	}
	return &Pipeline{object: d.b.newObject("graphics pipeline"), Graphics: &info}, nil
}

func (d *Device) CreateComputePipeline(info gpu.ComputePipelineInfo) (gpu.Pipeline, error) {
	if err := d.b.check("CreateComputePipeline"); err != nil {
		return nil, err
	}
	return &Pipeline{object: d.b.newObject("compute pipeline"), Compute: &info}, nil
}

func (d *Device) CreateCommandPool(info gpu.CommandPoolInfo) (gpu.CommandPool, error) {
	if err := d.b.check("CreateCommandPool"); err != nil {
		return nil, err
	}
	return &CommandPool{object: d.b.newObject("command pool"), Info: info}, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	if err := d.b.check("CreateSemaphore"); err != nil {
		return nil, err
	}
	return &Semaphore{object: d.b.newObject("semaphore")}, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	if err := d.b.check("CreateFence"); err != nil {
		return nil, err
	}
	f := &Fence{object: d.b.newObject("fence"), Signaled: signaled}
	d.b.fences = append(d.b.fences, f)
	return f, nil
}

func (d *Device) CreateQueryPool(count int) (gpu.QueryPool, error) {
	if err := d.b.check("CreateQueryPool"); err != nil {
		return nil, err
	}
	return &QueryPool{object: d.b.newObject("query pool"), Count: count, Ticks: map[int]uint64{}}, nil
}

func (d *Device) WaitForFences(timeout time.Duration, fences ...gpu.Fence) (gpu.Result, error) {
	d.b.logf("wait fences%s", FenceIDs(fences...))
	if err := d.b.check("WaitForFences"); err != nil {
		return gpu.ResultSuccess, err
	}
	for _, gf := range fences {
		f := gf.(*Fence)
		switch {
		case f.Signaled:
		case f.Pending && !d.b.HangFences:
			d.b.complete(f)
		case timeout != gpu.NoTimeout:
			return gpu.ResultTimeout, nil
		default:
			return gpu.ResultSuccess, d.b.violate("waiting forever on fence #%d that nothing will signal", f.ID)
		}
	}
	return gpu.ResultSuccess, nil
}

func (d *Device) ResetFences(fences ...gpu.Fence) error {
	for _, gf := range fences {
		f := gf.(*Fence)
		if f.Pending {
			return d.b.violate("fence #%d reset while its submission is in flight", f.ID)
		}
		f.Signaled = false
		d.b.logf("reset fence #%d", f.ID)
	}
	return nil
}

func (d *Device) WaitIdle() error {
	d.b.logf("wait idle")
	d.b.drain()
	return d.b.check("WaitIdle")
}

// drain completes all outstanding work.
func (b *Backend) drain() {
	for _, f := range b.fences {
		if f.Pending {
			b.complete(f)
		}
	}
	for _, cb := range b.commands {
		cb.inFlight = false
		cb.fence = nil
	}
}

func (b *Backend) complete(f *Fence) {
	f.Pending = false
	f.Signaled = true
	for _, cb := range b.commands {
		if cb.inFlight && cb.fence == f {
			cb.inFlight = false
			cb.fence = nil
		}
	}
}

type Allocator struct{ object }

func (a *Allocator) CreateBuffer(info gpu.BufferInfo) (gpu.Buffer, error) {
	if err := a.b.check("CreateBuffer"); err != nil {
		return nil, err
	}
	return &Buffer{object: a.b.newObject("buffer"), Info: info, Data: make([]byte, info.Size)}, nil
}

func (a *Allocator) CreateImage(info gpu.ImageInfo) (gpu.Image, error) {
	if err := a.b.check("CreateImage"); err != nil {
		return nil, err
	}
	return &Image{object: a.b.newObject("image"), Info: info}, nil
}

type Buffer struct {
	object
	Info gpu.BufferInfo
	Data []byte
}

func (b *Buffer) Size() int { return b.Info.Size }

func (b *Buffer) hostVisible() error {
	if b.Info.Memory == gpu.MemoryUsageGPUOnly {
		return errors.Newf("buffer #%d is not host visible", b.ID)
	}
	return nil
}

func (b *Buffer) Write(offset int, data []byte) error {
	if err := b.hostVisible(); err != nil {
		return err
	}
	if offset < 0 || offset+len(data) > len(b.Data) {
		return errors.Newf("write of %d bytes at %d overflows buffer of %d", len(data), offset, len(b.Data))
	}
	copy(b.Data[offset:], data)
	return nil
}

func (b *Buffer) Read(offset int, out []byte) error {
	if err := b.hostVisible(); err != nil {
		return err
	}
	if offset < 0 || offset+len(out) > len(b.Data) {
		return errors.Newf("read of %d bytes at %d overflows buffer of %d", len(out), offset, len(b.Data))
	}
	copy(out, b.Data[offset:])
	return nil
}

// Image is either allocator-owned or one of a swapchain's images. Pixels,
// when set, is what CopyImageToBuffer copies out.
type Image struct {
	object
	Info      gpu.ImageInfo
	Swapchain *Swapchain
	Pixels    []byte
}

func (i *Image) Destroy() {
	if i.Swapchain != nil {
		i.b.violate("swapchain image #%d destroyed directly", i.ID)
		return
	}
	i.object.Destroy()
}

type ImageView struct {
	object
	Info gpu.ImageViewInfo
}

func (v *ImageView) Destroy() {
	for _, cb := range v.b.commands {
		if cb.inFlight && cb.references(v) {
			v.b.violate("image view #%d destroyed while command buffer #%d is in flight", v.ID, cb.ID)
		}
	}
	v.object.Destroy()
}

type Sampler struct {
	object
	Info gpu.SamplerInfo
}

type ShaderModule struct {
	object
	Code []byte
}

type DescriptorSetLayout struct {
	object
	Bindings []gpu.DescriptorBinding
}

type DescriptorPool struct {
	object
	Info gpu.DescriptorPoolInfo
	Sets []*DescriptorSet
}

func (p *DescriptorPool) Allocate(layouts ...gpu.DescriptorSetLayout) ([]gpu.DescriptorSet, error) {
	if err := p.b.check("AllocateDescriptorSets"); err != nil {
		return nil, err
	}
	if len(p.Sets)+len(layouts) > p.Info.MaxSets {
		return nil, errors.Newf("descriptor pool #%d exhausted: %d sets of %d", p.ID, len(p.Sets)+len(layouts), p.Info.MaxSets)
	}
	out := make([]gpu.DescriptorSet, len(layouts))
	for i, layout := range layouts {
		p.b.nextID++
		set := &DescriptorSet{ID: p.b.nextID, Layout: layout.(*DescriptorSetLayout), Writes: map[int]gpu.DescriptorWrite{}}
		p.Sets = append(p.Sets, set)
		out[i] = set
	}
	return out, nil
}

type DescriptorSet struct {
	ID     int
	Layout *DescriptorSetLayout
	Writes map[int]gpu.DescriptorWrite
}

func (s *DescriptorSet) Update(writes ...gpu.DescriptorWrite) error {
	for _, w := range writes {
		s.Writes[w.Binding] = w
	}
	return nil
}

type PipelineLayout struct {
	object
	Info gpu.PipelineLayoutInfo
}

type Pipeline struct {
	object
	Graphics *gpu.GraphicsPipelineInfo
	Compute  *gpu.ComputePipelineInfo
}

func (p *Pipeline) BindPoint() gpu.BindPoint {
	if p.Compute != nil {
		return gpu.BindPointCompute
	}
	return gpu.BindPointGraphics
}

type QueryPool struct {
	object
	Count int
	// Ticks maps a written query index to its timestamp.
	Ticks map[int]uint64
	// NotReady makes Results report that the driver has nothing yet.
	NotReady bool
}

func (q *QueryPool) Results(first, count int, out []uint64) (gpu.Result, error) {
	if first < 0 || first+count > q.Count || len(out) < count {
		return gpu.ResultSuccess, errors.Newf("query range [%d,%d) outside pool of %d", first, first+count, q.Count)
	}
	if q.NotReady {
		return gpu.ResultNotReady, nil
	}
	for i := 0; i < count; i++ {
		if _, ok := q.Ticks[first+i]; !ok {
			return gpu.ResultNotReady, nil
		}
	}
	for i := 0; i < count; i++ {
		out[i] = q.Ticks[first+i]
	}
	return gpu.ResultSuccess, nil
}
