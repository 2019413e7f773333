package resource

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

type DescriptorSetLayoutBuilder struct {
	Bindings []gpu.DescriptorBinding
}

// AddBinding appends a single-descriptor binding.
func (b *DescriptorSetLayoutBuilder) AddBinding(binding int, typ gpu.DescriptorType, stages gpu.ShaderStage) {
	b.Bindings = append(b.Bindings, gpu.DescriptorBinding{Binding: binding, Type: typ, Count: 1, Stages: stages})
}

func (b *DescriptorSetLayoutBuilder) Build(dev gpu.Device) (*DescriptorSetLayout, error) {
	if len(b.Bindings) == 0 {
		return nil, invalid("DescriptorSetLayoutBuilder", "Bindings", "no bindings")
	}
	seen := map[int]bool{}
	for _, binding := range b.Bindings {
		if seen[binding.Binding] {
			return nil, invalid("DescriptorSetLayoutBuilder", "Bindings", "binding %d declared twice", binding.Binding)
		}
		if binding.Stages == 0 {
			return nil, invalid("DescriptorSetLayoutBuilder", "Bindings", "binding %d is visible to no stage", binding.Binding)
		}
		seen[binding.Binding] = true
	}

	handle, err := dev.CreateDescriptorSetLayout(b.Bindings)
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor set layout")
	}
	return &DescriptorSetLayout{handle: handle}, nil
}

type DescriptorSetLayout struct {
	noCopy noCopy

	handle gpu.DescriptorSetLayout
}

func (l *DescriptorSetLayout) Handle() gpu.DescriptorSetLayout { return l.handle }

func (l *DescriptorSetLayout) Destroy() {
	if l.handle == nil {
		return
	}
	l.handle.Destroy()
	l.handle = nil
}

type DescriptorPoolBuilder struct {
	PoolSizes []gpu.DescriptorPoolSize
}

func (b *DescriptorPoolBuilder) AddPoolSize(typ gpu.DescriptorType, count int) {
	b.PoolSizes = append(b.PoolSizes, gpu.DescriptorPoolSize{Type: typ, Count: count})
}

func (b *DescriptorPoolBuilder) Build(dev gpu.Device, maxSets int) (*DescriptorPool, error) {
	if maxSets <= 0 {
		return nil, invalid("DescriptorPoolBuilder", "maxSets", "max sets %d must be positive", maxSets)
	}
	if len(b.PoolSizes) == 0 {
		return nil, invalid("DescriptorPoolBuilder", "PoolSizes", "no pool sizes")
	}
	for _, size := range b.PoolSizes {
		if size.Count <= 0 {
			return nil, invalid("DescriptorPoolBuilder", "PoolSizes", "descriptor count %d must be positive", size.Count)
		}
	}

	handle, err := dev.CreateDescriptorPool(gpu.DescriptorPoolInfo{MaxSets: maxSets, PoolSizes: b.PoolSizes})
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor pool")
	}
	return &DescriptorPool{handle: handle}, nil
}

// DescriptorPool owns the sets allocated from it; they go away with the
// pool.
type DescriptorPool struct {
	noCopy noCopy

	handle gpu.DescriptorPool
}

func (p *DescriptorPool) Handle() gpu.DescriptorPool { return p.handle }

func (p *DescriptorPool) Destroy() {
	if p.handle == nil {
		return
	}
	p.handle.Destroy()
	p.handle = nil
}

type DescriptorSetBuilder struct {
	Pool    *DescriptorPool
	Layouts []*DescriptorSetLayout
}

func (b DescriptorSetBuilder) Build() ([]*DescriptorSet, error) {
	if b.Pool == nil || b.Pool.handle == nil {
		return nil, invalid("DescriptorSetBuilder", "Pool", "no pool")
	}
	if len(b.Layouts) == 0 {
		return nil, invalid("DescriptorSetBuilder", "Layouts", "no layouts")
	}
	layouts := make([]gpu.DescriptorSetLayout, len(b.Layouts))
	for i, l := range b.Layouts {
		layouts[i] = l.handle
	}

	handles, err := b.Pool.handle.Allocate(layouts...)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d descriptor sets", len(layouts))
	}
	sets := make([]*DescriptorSet, len(handles))
	for i, h := range handles {
		sets[i] = &DescriptorSet{handle: h}
	}
	return sets, nil
}

// DescriptorSet collects writes until Update sends them to the device.
type DescriptorSet struct {
	noCopy noCopy

	handle gpu.DescriptorSet
	writes []gpu.DescriptorWrite
}

func (s *DescriptorSet) Handle() gpu.DescriptorSet { return s.handle }

func (s *DescriptorSet) AddBufferWrite(binding int, typ gpu.DescriptorType, buf *Buffer) {
	s.writes = append(s.writes, gpu.DescriptorWrite{
		Binding: binding,
		Type:    typ,
		Buffer:  buf.Handle(),
		Range:   buf.Size(),
	})
}

// AddImageWrite binds view in layout; sampler may be nil for storage
// images.
func (s *DescriptorSet) AddImageWrite(binding int, typ gpu.DescriptorType, view *ImageView, sampler *Sampler, layout gpu.ImageLayout) {
	w := gpu.DescriptorWrite{
		Binding:     binding,
		Type:        typ,
		ImageView:   view.Handle(),
		ImageLayout: layout,
	}
	if sampler != nil {
		w.Sampler = sampler.Handle()
	}
	s.writes = append(s.writes, w)
}

func (s *DescriptorSet) Update() error {
	if len(s.writes) == 0 {
		return nil
	}
	if err := s.handle.Update(s.writes...); err != nil {
		return errors.Wrap(err, "update descriptor set")
	}
	s.writes = nil
	return nil
}
