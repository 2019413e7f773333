package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

// allocator gives every resource its own dedicated allocation.
type allocator struct {
	dev *Device
	// types holds the property flags of each memory type by index.
	types []core1_0.MemoryPropertyFlags
}

func (d *Device) CreateAllocator() (gpu.Allocator, error) {
	props := d.physical.device.MemoryProperties()
	if props == nil || len(props.MemoryTypes) == 0 {
		return nil, errors.New("device reports no memory types")
	}
	a := &allocator{dev: d}
	for _, t := range props.MemoryTypes {
		a.types = append(a.types, t.PropertyFlags)
	}
	return a, nil
}

func (a *allocator) Destroy() {}

// findMemoryType picks a type allowed by typeFilter that has every required
// flag, preferring one that also has the preferred flags.
func findMemoryType(types []core1_0.MemoryPropertyFlags, typeFilter uint32, required, preferred core1_0.MemoryPropertyFlags) (int, error) {
	fallback := -1
	for i, flags := range types {
		if typeFilter&(1<<i) == 0 || flags&required != required {
			continue
		}
		if flags&preferred == preferred {
			return i, nil
		}
		if fallback < 0 {
			fallback = i
		}
	}
	if fallback < 0 {
		return 0, errors.Newf("no memory type in %#x has flags %v", typeFilter, required)
	}
	return fallback, nil
}

func (a *allocator) allocate(reqs *core1_0.MemoryRequirements, usage gpu.MemoryUsage) (core1_0.DeviceMemory, core1_0.MemoryPropertyFlags, error) {
	required, preferred := memoryFlags(usage)
	index, err := findMemoryType(a.types, reqs.MemoryTypeBits, required, preferred)
	if err != nil {
		return nil, 0, err
	}
	memory, _, err := a.dev.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "allocate %d bytes", reqs.Size)
	}
	return memory, a.types[index], nil
}

func (a *allocator) CreateBuffer(info gpu.BufferInfo) (gpu.Buffer, error) {
	buf, _, err := a.dev.device.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        info.Size,
		Usage:       core1_0.BufferUsageFlags(info.Usage),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create buffer")
	}

	memory, flags, err := a.allocate(buf.MemoryRequirements(), info.Memory)
	if err != nil {
		buf.Destroy(nil)
		return nil, err
	}
	if _, err := buf.BindBufferMemory(memory, 0); err != nil {
		buf.Destroy(nil)
		memory.Free(nil)
		return nil, errors.Wrap(err, "bind buffer memory")
	}
	return &buffer{
		buffer:      buf,
		memory:      memory,
		size:        info.Size,
		hostVisible: flags&core1_0.MemoryPropertyHostVisible != 0,
	}, nil
}

func (a *allocator) CreateImage(info gpu.ImageInfo) (gpu.Image, error) {
	img, _, err := a.dev.device.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        core1_0.Format(info.Format),
		Tiling:        core1_0.ImageTiling(info.Tiling),
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         core1_0.ImageUsageFlags(info.Usage),
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}

	memory, _, err := a.allocate(img.MemoryRequirements(), info.Memory)
	if err != nil {
		img.Destroy(nil)
		return nil, err
	}
	if _, err := img.BindImageMemory(memory, 0); err != nil {
		img.Destroy(nil)
		memory.Free(nil)
		return nil, errors.Wrap(err, "bind image memory")
	}
	return &image{image: img, memory: memory}, nil
}

type buffer struct {
	buffer      core1_0.Buffer
	memory      core1_0.DeviceMemory
	size        int
	hostVisible bool
}

func (b *buffer) Size() int { return b.size }

// mapped maps [offset, offset+n) and hands it to fn as a byte slice.
func (b *buffer) mapped(offset, n int, fn func([]byte)) error {
	if !b.hostVisible {
		return errors.AssertionFailedf("buffer memory is not host visible")
	}
	if offset < 0 || offset+n > b.size {
		return errors.AssertionFailedf("range [%d, %d) is outside a %d byte buffer", offset, offset+n, b.size)
	}
	if n == 0 {
		return nil
	}
	ptr, _, err := b.memory.Map(offset, n, 0)
	if err != nil {
		return errors.Wrap(err, "map buffer memory")
	}
	defer b.memory.Unmap()
	fn(unsafe.Slice((*byte)(ptr), n))
	return nil
}

func (b *buffer) Write(offset int, data []byte) error {
	return b.mapped(offset, len(data), func(dst []byte) { copy(dst, data) })
}

func (b *buffer) Read(offset int, out []byte) error {
	return b.mapped(offset, len(out), func(src []byte) { copy(out, src) })
}

func (b *buffer) Destroy() {
	b.buffer.Destroy(nil)
	b.memory.Free(nil)
}

// image owns its memory unless it came from a swapchain, in which case
// memory is nil and Destroy does nothing.
type image struct {
	image  core1_0.Image
	memory core1_0.DeviceMemory
}

func (i *image) Destroy() {
	if i.memory == nil {
		return
	}
	i.image.Destroy(nil)
	i.memory.Free(nil)
}
