// Package gpu is the graphics API surface the renderer is written against.
// internal/vulkan implements it on vkngwrapper; gputest implements it as a
// recording fake.
//
// Enumerations carry their Vulkan numeric values so a backend can convert
// them with a plain type conversion.
package gpu

import "time"

// Backend opens an API instance.
type Backend interface {
	CreateInstance(info InstanceInfo) (Instance, error)
}

type InstanceInfo struct {
	ApplicationName string
	// Extensions are the instance extensions the window system needs.
	Extensions []string
	Validation bool
}

// SurfaceTarget is anything a surface can be created for. Native returns
// the windowing library's window handle.
type SurfaceTarget interface {
	Native() any
}

type Instance interface {
	CreateSurface(target SurfaceTarget) (Surface, error)
	PhysicalDevices() ([]PhysicalDevice, error)
	Destroy()
}

type Surface interface {
	Destroy()
}

type PhysicalDevice interface {
	// Describe reports what the device offers for presenting to surface.
	Describe(surface Surface) (DeviceCandidate, error)
	FormatProperties(format Format) FormatProperties
	// TimestampPeriod is the number of nanoseconds per timestamp tick.
	TimestampPeriod() float32
	CreateDevice(surface Surface, candidate DeviceCandidate, req DeviceRequirements) (Device, error)
}

type Device interface {
	Name() string

	GraphicsQueue() Queue
	PresentQueue() Queue
	GraphicsQueueFamily() int
	PresentQueueFamily() int

	SurfaceSupport(surface Surface) (SurfaceSupport, error)
	CreateSwapchain(info SwapchainInfo) (Swapchain, error)
	CreateAllocator() (Allocator, error)

	CreateImageView(info ImageViewInfo) (ImageView, error)
	CreateSampler(info SamplerInfo) (Sampler, error)
	CreateShaderModule(code []byte) (ShaderModule, error)
	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	CreateDescriptorPool(info DescriptorPoolInfo) (DescriptorPool, error)
	CreatePipelineLayout(info PipelineLayoutInfo) (PipelineLayout, error)
	CreateGraphicsPipeline(info GraphicsPipelineInfo) (Pipeline, error)
	CreateComputePipeline(info ComputePipelineInfo) (Pipeline, error)
	CreateCommandPool(info CommandPoolInfo) (CommandPool, error)
	CreateSemaphore() (Semaphore, error)
	CreateFence(signaled bool) (Fence, error)
	CreateQueryPool(count int) (QueryPool, error)

	// WaitForFences blocks until every fence is signaled or the timeout
	// passes, in which case it returns ResultTimeout.
	WaitForFences(timeout time.Duration, fences ...Fence) (Result, error)
	ResetFences(fences ...Fence) error
	WaitIdle() error
	Destroy()
}

type Queue interface {
	Submit(fence Fence, submits ...SubmitInfo) error
	// Present returns ResultOutOfDate and ResultSuboptimal as results with a
	// nil error.
	Present(info PresentInfo) (Result, error)
	WaitIdle() error
}

type Swapchain interface {
	Images() ([]Image, error)
	// AcquireNextImage returns ResultOutOfDate, ResultSuboptimal and
	// ResultTimeout as results with a nil error.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (int, Result, error)
	Destroy()
}

type Allocator interface {
	CreateBuffer(info BufferInfo) (Buffer, error)
	CreateImage(info ImageInfo) (Image, error)
	Destroy()
}

// Buffer is a device buffer. Write and Read only work on host-visible
// memory.
type Buffer interface {
	Size() int
	Write(offset int, data []byte) error
	Read(offset int, out []byte) error
	Destroy()
}

type Image interface {
	Destroy()
}

type ImageView interface {
	Destroy()
}

type Sampler interface {
	Destroy()
}

type ShaderModule interface {
	Destroy()
}

type DescriptorSetLayout interface {
	Destroy()
}

type DescriptorPool interface {
	Allocate(layouts ...DescriptorSetLayout) ([]DescriptorSet, error)
	Destroy()
}

type DescriptorSet interface {
	Update(writes ...DescriptorWrite) error
}

type PipelineLayout interface {
	Destroy()
}

type Pipeline interface {
	BindPoint() BindPoint
	Destroy()
}

type CommandPool interface {
	Allocate(count int) ([]CommandBuffer, error)
	Free(buffers ...CommandBuffer)
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type Fence interface {
	Destroy()
}

type QueryPool interface {
	// Results copies count 64-bit timestamps starting at first into out.
	// A pull the driver cannot complete yet returns ResultNotReady and
	// leaves out untouched.
	Results(first, count int, out []uint64) (Result, error)
	Destroy()
}

type CommandBuffer interface {
	Begin(oneTimeSubmit bool) error
	End() error
	Reset() error

	PipelineBarrier(barriers ...ImageBarrier)
	MemoryBarrier(barrier MemoryBarrier)

	// BeginRendering starts a render pass described only by its
	// attachments.
	BeginRendering(info RenderingInfo) error
	EndRendering()

	BindPipeline(pipeline Pipeline)
	BindDescriptorSets(bindPoint BindPoint, layout PipelineLayout, firstSet int, sets ...DescriptorSet)
	BindVertexBuffers(firstBinding int, buffers []Buffer, offsets []int)
	SetViewport(viewport Viewport)
	SetScissor(scissor Rect2D)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance int)
	Dispatch(x, y, z int)

	CopyBuffer(src, dst Buffer, size int)
	CopyImageToBuffer(src Image, layout ImageLayout, dst Buffer, extent Extent2D, aspect ImageAspect)

	ResetQueryPool(pool QueryPool, first, count int)
	WriteTimestamp(stage PipelineStage, pool QueryPool, query int)
}
