package resource

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

type CommandPoolBuilder struct {
	QueueFamily int
	// Buffers is how many resettable primary command buffers to allocate
	// up front, usually one per frame in flight.
	Buffers int
}

func (b CommandPoolBuilder) Build(dev gpu.Device) (*CommandPool, error) {
	if b.QueueFamily < 0 {
		return nil, invalid("CommandPoolBuilder", "QueueFamily", "queue family %d", b.QueueFamily)
	}
	if b.Buffers < 0 {
		return nil, invalid("CommandPoolBuilder", "Buffers", "negative buffer count %d", b.Buffers)
	}
	handle, err := dev.CreateCommandPool(gpu.CommandPoolInfo{QueueFamily: b.QueueFamily, ResetBuffers: true})
	if err != nil {
		return nil, errors.Wrap(err, "create command pool")
	}
	pool := &CommandPool{dev: dev, handle: handle}
	if err := pool.Resize(b.Buffers); err != nil {
		pool.Destroy()
		return nil, err
	}
	return pool, nil
}

// CommandPool owns its command buffers.
type CommandPool struct {
	noCopy noCopy

	dev     gpu.Device
	handle  gpu.CommandPool
	buffers []gpu.CommandBuffer
}

func (p *CommandPool) Handle() gpu.CommandPool { return p.handle }

func (p *CommandPool) Len() int { return len(p.buffers) }

func (p *CommandPool) Buffer(i int) gpu.CommandBuffer {
	return p.buffers[i]
}

// Resize frees every buffer and allocates n new ones. None of the old
// buffers may be in flight.
func (p *CommandPool) Resize(n int) error {
	if len(p.buffers) > 0 {
		p.handle.Free(p.buffers...)
		p.buffers = nil
	}
	if n == 0 {
		return nil
	}
	buffers, err := p.handle.Allocate(n)
	if err != nil {
		return errors.Wrapf(err, "allocate %d command buffers", n)
	}
	p.buffers = buffers
	return nil
}

// Submit records a one-shot command buffer with record, submits it to
// queue and waits on a fence of its own until it completes.
func (p *CommandPool) Submit(queue gpu.Queue, record func(cmd gpu.CommandBuffer) error) error {
	buffers, err := p.handle.Allocate(1)
	if err != nil {
		return errors.Wrap(err, "allocate one-shot command buffer")
	}
	cmd := buffers[0]
	defer p.handle.Free(cmd)

	if err := cmd.Begin(true); err != nil {
		return errors.Wrap(err, "begin one-shot command buffer")
	}
	if err := record(cmd); err != nil {
		return err
	}
	if err := cmd.End(); err != nil {
		return errors.Wrap(err, "end one-shot command buffer")
	}

	fence, err := p.dev.CreateFence(false)
	if err != nil {
		return errors.Wrap(err, "create one-shot fence")
	}
	defer fence.Destroy()

	if err := queue.Submit(fence, gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{cmd}}); err != nil {
		return errors.Wrap(err, "submit one-shot command buffer")
	}
	res, err := p.dev.WaitForFences(gpu.NoTimeout, fence)
	if err != nil {
		return errors.Wrap(err, "wait for one-shot command buffer")
	}
	if res == gpu.ResultTimeout {
		return gpu.ErrTimeout
	}
	return nil
}

func (p *CommandPool) Destroy() {
	if p.handle == nil {
		return
	}
	if len(p.buffers) > 0 {
		p.handle.Free(p.buffers...)
		p.buffers = nil
	}
	p.handle.Destroy()
	p.handle = nil
}
