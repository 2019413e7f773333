// Package frame runs the acquire, record, submit, present cycle over a ring
// of frame-in-flight slots.
package frame

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/logging"
	"github.com/vkngwrapper/atmosphere/internal/resource"
)

// Target is where frames are acquired from and presented to.
// *swapchain.Manager implements it.
type Target interface {
	Acquire(timeout time.Duration, signal gpu.Semaphore) (int, gpu.Result, error)
	Present(queue gpu.Queue, wait gpu.Semaphore, index int) (gpu.Result, error)
}

// RecordFunc records a frame into cmd, which is already begun. slot is the
// frame-in-flight slot whose per-frame resources may be written; image is
// the acquired swapchain image.
type RecordFunc func(cmd gpu.CommandBuffer, slot, image int) error

type Outcome int

const (
	// OutcomePresented means the frame was submitted and presented.
	OutcomePresented Outcome = iota
	// OutcomeAbandoned means acquisition found the swapchain out of date;
	// nothing was submitted and the slot was not advanced.
	OutcomeAbandoned
	// OutcomeRecreated means the frame was presented and the swapchain
	// then rebuilt.
	OutcomeRecreated
)

func (o Outcome) String() string {
	switch o {
	case OutcomePresented:
		return "presented"
	case OutcomeAbandoned:
		return "abandoned"
	case OutcomeRecreated:
		return "recreated"
	}
	return "unknown"
}

// Slot holds what one frame in flight owns exclusively.
type Slot struct {
	ImageAvailable gpu.Semaphore
	RenderFinished gpu.Semaphore
	InFlight       gpu.Fence
	Command        gpu.CommandBuffer
}

// Sync owns the frame-in-flight slots. A slot's fence is waited on before
// any of its objects are touched again, so two submissions never share a
// semaphore or command buffer.
type Sync struct {
	dev     gpu.Device
	pool    *resource.CommandPool
	slots   []Slot
	current int
	timeout time.Duration
}

// New creates n slots. timeout bounds fence waits and acquisition;
// gpu.NoTimeout waits forever.
func New(dev gpu.Device, n int, timeout time.Duration) (*Sync, error) {
	if n <= 0 {
		return nil, errors.AssertionFailedf("frame count %d must be positive", n)
	}
	pool, err := resource.CommandPoolBuilder{QueueFamily: dev.GraphicsQueueFamily()}.Build(dev)
	if err != nil {
		return nil, err
	}
	s := &Sync{dev: dev, pool: pool, timeout: timeout}
	if err := s.build(n); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *Sync) build(n int) error {
	if err := s.pool.Resize(n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		available, err := s.dev.CreateSemaphore()
		if err != nil {
			return errors.Wrapf(err, "frame %d image-available semaphore", i)
		}
		s.slots = append(s.slots, Slot{ImageAvailable: available, Command: s.pool.Buffer(i)})
		slot := &s.slots[i]

		if slot.RenderFinished, err = s.dev.CreateSemaphore(); err != nil {
			return errors.Wrapf(err, "frame %d render-finished semaphore", i)
		}
		if slot.InFlight, err = s.dev.CreateFence(true); err != nil {
			return errors.Wrapf(err, "frame %d in-flight fence", i)
		}
	}
	s.current = 0
	return nil
}

func (s *Sync) Len() int { return len(s.slots) }
func (s *Sync) Current() int { return s.current }
func (s *Sync) Slot(i int) Slot { return s.slots[i] }

// Draw runs one frame on the current slot. recreate is called when the
// swapchain must be rebuilt; it runs after a fence wait or a failed
// acquire or present, never with this frame's recording open.
func (s *Sync) Draw(target Target, record RecordFunc, recreate func() error) (Outcome, error) {
	f := s.current
	slot := s.slots[f]

	res, err := s.dev.WaitForFences(s.timeout, slot.InFlight)
	if err != nil {
		return OutcomeAbandoned, errors.Wrapf(err, "wait for frame %d", f)
	}
	if res == gpu.ResultTimeout {
		return OutcomeAbandoned, errors.Wrapf(gpu.ErrTimeout, "frame %d fence", f)
	}

	image, res, err := target.Acquire(s.timeout, slot.ImageAvailable)
	if err != nil {
		return OutcomeAbandoned, err
	}
	switch res {
	case gpu.ResultOutOfDate:
		logging.Logger().Debug("swapchain out of date on acquire", "frame", f)
		if err := recreate(); err != nil {
			return OutcomeAbandoned, err
		}
		return OutcomeAbandoned, nil
	case gpu.ResultTimeout, gpu.ResultNotReady:
		return OutcomeAbandoned, errors.Wrapf(gpu.ErrTimeout, "acquire for frame %d", f)
	}

	if err := s.dev.ResetFences(slot.InFlight); err != nil {
		return OutcomeAbandoned, errors.Wrapf(err, "reset frame %d fence", f)
	}

	cmd := slot.Command
	if err := cmd.Reset(); err != nil {
		return OutcomeAbandoned, errors.Wrapf(err, "reset frame %d command buffer", f)
	}
	if err := cmd.Begin(false); err != nil {
		return OutcomeAbandoned, errors.Wrapf(err, "begin frame %d command buffer", f)
	}
	if err := record(cmd, f, image); err != nil {
		return OutcomeAbandoned, errors.Wrapf(err, "record frame %d", f)
	}
	if err := cmd.End(); err != nil {
		return OutcomeAbandoned, errors.Wrapf(err, "end frame %d command buffer", f)
	}

	err = s.dev.GraphicsQueue().Submit(slot.InFlight, gpu.SubmitInfo{
		WaitSemaphores:   []gpu.Semaphore{slot.ImageAvailable},
		WaitStages:       []gpu.PipelineStage{gpu.PipelineStageColorAttachmentOutput},
		CommandBuffers:   []gpu.CommandBuffer{cmd},
		SignalSemaphores: []gpu.Semaphore{slot.RenderFinished},
	})
	if err != nil {
		return OutcomeAbandoned, errors.Wrapf(err, "submit frame %d", f)
	}

	res, err = target.Present(s.dev.PresentQueue(), slot.RenderFinished, image)
	if err != nil {
		return OutcomePresented, err
	}

	s.current = (f + 1) % len(s.slots)

	if res.NeedsRecreate() {
		logging.Logger().Debug("swapchain needs recreation after present", "frame", f, "result", res.String())
		if err := recreate(); err != nil {
			return OutcomeRecreated, err
		}
		return OutcomeRecreated, nil
	}
	return OutcomePresented, nil
}

// Resize replaces every slot with n fresh ones. The device must be idle.
func (s *Sync) Resize(n int) error {
	if n <= 0 {
		return errors.AssertionFailedf("frame count %d must be positive", n)
	}
	if n == len(s.slots) {
		return nil
	}
	s.destroySlots()
	return s.build(n)
}

func (s *Sync) destroySlots() {
	for _, slot := range s.slots {
		if slot.ImageAvailable != nil {
			slot.ImageAvailable.Destroy()
		}
		if slot.RenderFinished != nil {
			slot.RenderFinished.Destroy()
		}
		if slot.InFlight != nil {
			slot.InFlight.Destroy()
		}
	}
	s.slots = nil
}

// Destroy frees every slot and the command pool. The device must be idle.
func (s *Sync) Destroy() {
	s.destroySlots()
	s.pool.Destroy()
}
