package gputest

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

// Fence is signaled by the fake GPU when a submission that carries it is
// waited on or the device drains.
type Fence struct {
	object
	Signaled bool
	Pending  bool
}

func (f *Fence) Destroy() {
	if f.Pending {
		f.b.violate("fence #%d destroyed while its submission is in flight", f.ID)
	}
	f.object.Destroy()
}

// Semaphore tracks binary semaphore state: signaled by acquire or submit,
// unsignaled again by the wait that consumes it.
type Semaphore struct {
	object
	Signaled bool
}

func (b *Backend) signal(s *Semaphore, by string) error {
	if s.Signaled {
		return b.violate("semaphore #%d signaled by %s while already signaled", s.ID, by)
	}
	s.Signaled = true
	return nil
}

func (b *Backend) consume(s *Semaphore, by string) error {
	if !s.Signaled {
		return b.violate("%s waits on semaphore #%d that nothing signaled", by, s.ID)
	}
	s.Signaled = false
	return nil
}

type Queue struct {
	b *Backend
}

func (q *Queue) Submit(fence gpu.Fence, submits ...gpu.SubmitInfo) error {
	if err := q.b.check("Submit"); err != nil {
		return err
	}
	var f *Fence
	if fence != nil {
		f = fence.(*Fence)
		if f.Signaled || f.Pending {
			return q.b.violate("submit with fence #%d that is not reset", f.ID)
		}
	}
	for _, info := range submits {
		sub := Submission{Fence: f, WaitStages: info.WaitStages}
		for _, s := range info.WaitSemaphores {
			sem := s.(*Semaphore)
			if err := q.b.consume(sem, "submit"); err != nil {
				return err
			}
			sub.WaitSemaphores = append(sub.WaitSemaphores, sem)
		}
		for _, c := range info.CommandBuffers {
			cb := c.(*CommandBuffer)
			if cb.recording {
				return q.b.violate("command buffer #%d submitted while recording", cb.ID)
			}
			if cb.inFlight {
				return q.b.violate("command buffer #%d submitted while in flight", cb.ID)
			}
			cb.inFlight = true
			cb.fence = f
			cb.execute()
			sub.Commands = append(sub.Commands, append([]Command(nil), cb.Commands...))
		}
		for _, s := range info.SignalSemaphores {
			sem := s.(*Semaphore)
			if err := q.b.signal(sem, "submit"); err != nil {
				return err
			}
			sub.SignalSemaphores = append(sub.SignalSemaphores, sem)
		}
		q.b.Submissions = append(q.b.Submissions, sub)
	}
	if f != nil {
		f.Pending = true
		q.b.logf("submit fence #%d", f.ID)
	} else {
		q.b.logf("submit")
	}
	return nil
}

func (q *Queue) Present(info gpu.PresentInfo) (gpu.Result, error) {
	if err := q.b.check("Present"); err != nil {
		return gpu.ResultSuccess, err
	}
	for _, s := range info.WaitSemaphores {
		if err := q.b.consume(s.(*Semaphore), "present"); err != nil {
			return gpu.ResultSuccess, err
		}
	}
	q.b.logf("present %d", info.ImageIndex)
	if len(q.b.PresentResults) > 0 {
		r := q.b.PresentResults[0]
		q.b.PresentResults = q.b.PresentResults[1:]
		return r, nil
	}
	return gpu.ResultSuccess, nil
}

func (q *Queue) WaitIdle() error {
	q.b.logf("queue wait idle")
	q.b.drain()
	return nil
}

type Swapchain struct {
	object
	Info        gpu.SwapchainInfo
	SwapImages []*Image
	next       int
}

func (d *Device) CreateSwapchain(info gpu.SwapchainInfo) (gpu.Swapchain, error) {
	if err := d.b.check("CreateSwapchain"); err != nil {
		return nil, err
	}
	if info.Old != nil && info.Old.(*Swapchain).Destroyed {
		return nil, d.b.violate("swapchain created from destroyed swapchain #%d", info.Old.(*Swapchain).ID)
	}
	sc := &Swapchain{object: d.b.newObject("swapchain"), Info: info}
	for i := 0; i < info.MinImageCount; i++ {
		d.b.nextID++
		sc.SwapImages = append(sc.SwapImages, &Image{
			object: object{b: d.b, kind: "swapchain image", ID: d.b.nextID},
			Info: gpu.ImageInfo{
				Extent: info.Extent,
				Format: info.Format.Format,
				Usage:  gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferSrc,
			},
			Swapchain: sc,
		})
	}
	return sc, nil
}

func (s *Swapchain) Images() ([]gpu.Image, error) {
	out := make([]gpu.Image, len(s.SwapImages))
	for i, img := range s.SwapImages {
		out[i] = img
	}
	return out, nil
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (int, gpu.Result, error) {
	if err := s.b.check("AcquireNextImage"); err != nil {
		return 0, gpu.ResultSuccess, err
	}
	if s.Destroyed {
		return 0, gpu.ResultSuccess, s.b.violate("acquire from destroyed swapchain #%d", s.ID)
	}
	result := gpu.ResultSuccess
	if len(s.b.AcquireResults) > 0 {
		result = s.b.AcquireResults[0]
		s.b.AcquireResults = s.b.AcquireResults[1:]
	}
	switch result {
	case gpu.ResultOutOfDate, gpu.ResultTimeout, gpu.ResultNotReady:
		s.b.logf("acquire %s", result)
		return 0, result, nil
	}
	if err := s.b.signal(signal.(*Semaphore), "acquire"); err != nil {
		return 0, result, err
	}
	idx := s.next
	s.next = (s.next + 1) % len(s.SwapImages)
	s.b.logf("acquire %d", idx)
	return idx, result, nil
}

type CommandPool struct {
	object
	Info    gpu.CommandPoolInfo
	Buffers []*CommandBuffer
}

func (p *CommandPool) Allocate(count int) ([]gpu.CommandBuffer, error) {
	if err := p.b.check("AllocateCommandBuffers"); err != nil {
		return nil, err
	}
	out := make([]gpu.CommandBuffer, count)
	for i := range out {
		cb := &CommandBuffer{object: p.b.newObject("command buffer"), Pool: p}
		p.Buffers = append(p.Buffers, cb)
		p.b.commands = append(p.b.commands, cb)
		out[i] = cb
	}
	return out, nil
}

func (p *CommandPool) Free(buffers ...gpu.CommandBuffer) {
	for _, b := range buffers {
		cb := b.(*CommandBuffer)
		if cb.inFlight {
			p.b.violate("command buffer #%d freed while in flight", cb.ID)
		}
		cb.object.Destroy()
	}
}

func (p *CommandPool) Destroy() {
	for _, cb := range p.Buffers {
		if cb.inFlight {
			p.b.violate("command pool #%d destroyed while command buffer #%d is in flight", p.ID, cb.ID)
		}
	}
	p.object.Destroy()
}

func (b *Backend) nextTick() uint64 {
	b.ticks += b.TickStep
	return b.ticks
}

// FenceIDs renders fences the way "wait fences" log entries list them.
func FenceIDs(fences ...gpu.Fence) string {
	s := ""
	for _, f := range fences {
		s += fmt.Sprintf(" #%d", f.(*Fence).ID)
	}
	return s
}

var errNotRecording = errors.New("command buffer is not recording")
