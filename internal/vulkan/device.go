package vulkan

import (
	"encoding/binary"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

type Device struct {
	name     string
	physical *PhysicalDevice
	device   core1_0.Device

	graphics       *queue
	present        *queue
	graphicsFamily int
	presentFamily  int

	swapchains khr_swapchain.Extension
	passes     *passCache
}

func (d *Device) Name() string { return d.name }
func (d *Device) GraphicsQueue() gpu.Queue { return d.graphics }
func (d *Device) PresentQueue() gpu.Queue { return d.present }
func (d *Device) GraphicsQueueFamily() int { return d.graphicsFamily }
func (d *Device) PresentQueueFamily() int { return d.presentFamily }

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	s, _, err := d.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, errors.Wrap(err, "create semaphore")
	}
	return &semaphore{semaphore: s}, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	var options core1_0.FenceCreateInfo
	if signaled {
		options.Flags = core1_0.FenceCreateSignaled
	}
	f, _, err := d.device.CreateFence(nil, options)
	if err != nil {
		return nil, errors.Wrap(err, "create fence")
	}
	return &fence{fence: f}, nil
}

func (d *Device) CreateQueryPool(count int) (gpu.QueryPool, error) {
	pool, _, err := d.device.CreateQueryPool(nil, core1_0.QueryPoolCreateInfo{
		QueryType:  core1_0.QueryTypeTimestamp,
		QueryCount: count,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create query pool of %d timestamps", count)
	}
	return &queryPool{pool: pool}, nil
}

func fences(in []gpu.Fence) []core1_0.Fence {
	out := make([]core1_0.Fence, len(in))
	for i, f := range in {
		out[i] = f.(*fence).fence
	}
	return out
}

func (d *Device) WaitForFences(timeout time.Duration, fs ...gpu.Fence) (gpu.Result, error) {
	res, err := d.device.WaitForFences(true, timeout, fences(fs))
	return result(res, err, "wait for fences")
}

func (d *Device) ResetFences(fs ...gpu.Fence) error {
	_, err := d.device.ResetFences(fences(fs))
	return errors.Wrap(err, "reset fences")
}

func (d *Device) WaitIdle() error {
	_, err := d.device.WaitIdle()
	return errors.Wrap(err, "wait for device idle")
}

func (d *Device) Destroy() {
	d.passes.destroy()
	d.device.Destroy(nil)
}

type queue struct {
	queue core1_0.Queue
	dev   *Device
}

func semaphores(in []gpu.Semaphore) []core1_0.Semaphore {
	out := make([]core1_0.Semaphore, len(in))
	for i, s := range in {
		out[i] = s.(*semaphore).semaphore
	}
	return out
}

func (q *queue) Submit(f gpu.Fence, submits ...gpu.SubmitInfo) error {
	infos := make([]core1_0.SubmitInfo, len(submits))
	for i, s := range submits {
		stages := make([]core1_0.PipelineStageFlags, len(s.WaitStages))
		for j, stage := range s.WaitStages {
			stages[j] = core1_0.PipelineStageFlags(stage)
		}
		buffers := make([]core1_0.CommandBuffer, len(s.CommandBuffers))
		for j, cmd := range s.CommandBuffers {
			buffers[j] = cmd.(*commandBuffer).cmd
		}
		infos[i] = core1_0.SubmitInfo{
			WaitSemaphores:   semaphores(s.WaitSemaphores),
			WaitDstStageMask: stages,
			CommandBuffers:   buffers,
			SignalSemaphores: semaphores(s.SignalSemaphores),
		}
	}

	var vkFence core1_0.Fence
	if f != nil {
		vkFence = f.(*fence).fence
	}
	_, err := q.queue.Submit(vkFence, infos)
	return errors.Wrap(err, "submit")
}

func (q *queue) Present(info gpu.PresentInfo) (gpu.Result, error) {
	res, err := q.dev.swapchains.QueuePresent(q.queue, khr_swapchain.PresentInfo{
		WaitSemaphores: semaphores(info.WaitSemaphores),
		Swapchains:     []khr_swapchain.Swapchain{info.Swapchain.(*swapchain).swapchain},
		ImageIndices:   []int{info.ImageIndex},
	})
	return result(res, err, "present")
}

func (q *queue) WaitIdle() error {
	_, err := q.queue.WaitIdle()
	return errors.Wrap(err, "wait for queue idle")
}

type semaphore struct {
	semaphore core1_0.Semaphore
}

func (s *semaphore) Destroy() { s.semaphore.Destroy(nil) }

type fence struct {
	fence core1_0.Fence
}

func (f *fence) Destroy() { f.fence.Destroy(nil) }

type queryPool struct {
	pool core1_0.QueryPool
}

func (q *queryPool) Results(first, count int, out []uint64) (gpu.Result, error) {
	if len(out) < count {
		return gpu.ResultSuccess, errors.AssertionFailedf("%d timestamps do not fit in %d slots", count, len(out))
	}
	raw := make([]byte, count*8)
	res, err := q.pool.PopulateResults(first, count, raw, 8, core1_0.QueryResult64Bit)
	r, err := result(res, err, "read query results")
	if err != nil || r != gpu.ResultSuccess {
		return r, err
	}
	for i := 0; i < count; i++ {
		out[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return gpu.ResultSuccess, nil
}

func (q *queryPool) Destroy() { q.pool.Destroy(nil) }
