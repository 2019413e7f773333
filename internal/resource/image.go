package resource

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

type ImageBuilder struct {
	Extent gpu.Extent2D
	Format gpu.Format
	Usage  gpu.ImageUsage
	// Aspect defaults to what Format implies.
	Aspect gpu.ImageAspect
	Tiling gpu.ImageTiling
	Memory gpu.MemoryUsage
}

func (b ImageBuilder) Build(alloc gpu.Allocator) (*Image, error) {
	if b.Extent.Width <= 0 || b.Extent.Height <= 0 {
		return nil, invalid("ImageBuilder", "Extent", "extent %dx%d is empty", b.Extent.Width, b.Extent.Height)
	}
	if b.Format == gpu.FormatUndefined {
		return nil, invalid("ImageBuilder", "Format", "format is undefined")
	}
	if b.Usage == 0 {
		return nil, invalid("ImageBuilder", "Usage", "no usage flags")
	}
	aspect := b.Aspect
	if aspect == 0 {
		aspect = gpu.AspectFor(b.Format)
	}

	handle, err := alloc.CreateImage(gpu.ImageInfo{
		Extent: b.Extent,
		Format: b.Format,
		Usage:  b.Usage,
		Tiling: b.Tiling,
		Memory: b.Memory,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %dx%d %s image", b.Extent.Width, b.Extent.Height, b.Format)
	}
	return &Image{
		handle: handle,
		extent: b.Extent,
		format: b.Format,
		aspect: aspect,
		layout: gpu.ImageLayoutUndefined,
		owned:  true,
	}, nil
}

// Image remembers the layout its last recorded transition left it in.
type Image struct {
	noCopy noCopy

	handle gpu.Image
	extent gpu.Extent2D
	format gpu.Format
	aspect gpu.ImageAspect
	layout gpu.ImageLayout
	owned  bool
}

// WrapSwapchainImages wraps images owned by a swapchain. Destroying the
// wrappers leaves the images alone.
func WrapSwapchainImages(images []gpu.Image, format gpu.Format, extent gpu.Extent2D) []*Image {
	out := make([]*Image, len(images))
	for i, img := range images {
		out[i] = &Image{
			handle: img,
			extent: extent,
			format: format,
			aspect: gpu.ImageAspectColor,
			layout: gpu.ImageLayoutUndefined,
		}
	}
	return out
}

func (i *Image) Handle() gpu.Image { return i.handle }
func (i *Image) Extent() gpu.Extent2D { return i.extent }
func (i *Image) Format() gpu.Format { return i.format }
func (i *Image) Aspect() gpu.ImageAspect { return i.aspect }
func (i *Image) Layout() gpu.ImageLayout { return i.layout }

// Transition describes a layout change and the work on either side of it.
type Transition struct {
	NewLayout gpu.ImageLayout
	SrcStage  gpu.PipelineStage
	SrcAccess gpu.Access
	DstStage  gpu.PipelineStage
	DstAccess gpu.Access
	// Discard transitions from Undefined whatever the tracked layout is,
	// dropping the previous contents.
	Discard bool
}

// Barrier returns the barrier Transition would record, without changing
// the tracked layout.
func (i *Image) Barrier(t Transition) gpu.ImageBarrier {
	old := i.layout
	if t.Discard {
		old = gpu.ImageLayoutUndefined
	}
	return gpu.ImageBarrier{
		Image:     i.handle,
		Aspect:    i.aspect,
		OldLayout: old,
		NewLayout: t.NewLayout,
		SrcStage:  t.SrcStage,
		SrcAccess: t.SrcAccess,
		DstStage:  t.DstStage,
		DstAccess: t.DstAccess,
	}
}

// Transition records a barrier from the tracked layout to t.NewLayout.
func (i *Image) Transition(cmd gpu.CommandBuffer, t Transition) {
	cmd.PipelineBarrier(i.Barrier(t))
	i.layout = t.NewLayout
}

// Discard marks the contents undefined, as after a swapchain rebuild.
func (i *Image) Discard() {
	i.layout = gpu.ImageLayoutUndefined
}

func (i *Image) CreateView(dev gpu.Device) (*ImageView, error) {
	handle, err := dev.CreateImageView(gpu.ImageViewInfo{Image: i.handle, Format: i.format, Aspect: i.aspect})
	if err != nil {
		return nil, errors.Wrapf(err, "create %s image view", i.format)
	}
	return &ImageView{handle: handle, format: i.format}, nil
}

func (i *Image) Release() gpu.Image {
	h := i.handle
	i.handle = nil
	return h
}

func (i *Image) Destroy() {
	if i.handle == nil {
		return
	}
	if i.owned {
		i.handle.Destroy()
	}
	i.handle = nil
}

type ImageView struct {
	noCopy noCopy

	handle gpu.ImageView
	format gpu.Format
}

func (v *ImageView) Handle() gpu.ImageView { return v.handle }
func (v *ImageView) Format() gpu.Format { return v.format }

func (v *ImageView) Release() gpu.ImageView {
	h := v.handle
	v.handle = nil
	return h
}

func (v *ImageView) Destroy() {
	if v.handle == nil {
		return
	}
	v.handle.Destroy()
	v.handle = nil
}

type SamplerBuilder struct {
	MagFilter   gpu.Filter
	MinFilter   gpu.Filter
	AddressMode gpu.AddressMode
}

// DefaultSampler filters linearly and clamps to the edge, which is what
// lookup tables want.
func DefaultSampler() SamplerBuilder {
	return SamplerBuilder{
		MagFilter:   gpu.FilterLinear,
		MinFilter:   gpu.FilterLinear,
		AddressMode: gpu.AddressModeClampToEdge,
	}
}

func (b SamplerBuilder) Build(dev gpu.Device) (*Sampler, error) {
	handle, err := dev.CreateSampler(gpu.SamplerInfo{
		MagFilter:   b.MagFilter,
		MinFilter:   b.MinFilter,
		AddressMode: b.AddressMode,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create sampler")
	}
	return &Sampler{handle: handle}, nil
}

type Sampler struct {
	noCopy noCopy

	handle gpu.Sampler
}

func (s *Sampler) Handle() gpu.Sampler { return s.handle }

func (s *Sampler) Destroy() {
	if s.handle == nil {
		return
	}
	s.handle.Destroy()
	s.handle = nil
}
