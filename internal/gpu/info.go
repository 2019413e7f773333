package gpu

type SurfaceCapabilities struct {
	MinImageCount int
	// MaxImageCount is zero when there is no upper bound.
	MaxImageCount int
	// CurrentExtent has a width of -1 when the surface size is set by the
	// swapchain.
	CurrentExtent    Extent2D
	MinImageExtent   Extent2D
	MaxImageExtent   Extent2D
	CurrentTransform uint32
}

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type SurfaceSupport struct {
	Capabilities SurfaceCapabilities
	Formats      []SurfaceFormat
	PresentModes []PresentMode
}

type SwapchainInfo struct {
	Surface       Surface
	MinImageCount int
	Format        SurfaceFormat
	Extent        Extent2D
	PresentMode   PresentMode
	PreTransform  uint32
	Old           Swapchain
}

type BufferInfo struct {
	Size   int
	Usage  BufferUsage
	Memory MemoryUsage
}

type ImageInfo struct {
	Extent Extent2D
	Format Format
	Usage  ImageUsage
	Tiling ImageTiling
	Memory MemoryUsage
}

type ImageViewInfo struct {
	Image  Image
	Format Format
	Aspect ImageAspect
}

type SamplerInfo struct {
	MagFilter   Filter
	MinFilter   Filter
	AddressMode AddressMode
}

type DescriptorBinding struct {
	Binding int
	Type    DescriptorType
	Count   int
	Stages  ShaderStage
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count int
}

type DescriptorPoolInfo struct {
	MaxSets   int
	PoolSizes []DescriptorPoolSize
}

// DescriptorWrite fills one binding with either a buffer range or an image.
type DescriptorWrite struct {
	Binding int
	Type    DescriptorType

	Buffer Buffer
	Offset int
	// Range of zero covers the buffer from Offset to its end.
	Range int

	ImageView   ImageView
	Sampler     Sampler
	ImageLayout ImageLayout
}

type PipelineLayoutInfo struct {
	SetLayouts []DescriptorSetLayout
}

type ShaderStageInfo struct {
	Stage      ShaderStage
	Module     ShaderModule
	EntryPoint string
}

type VertexBinding struct {
	Binding int
	Stride  int
}

type VertexAttribute struct {
	Location int
	Binding  int
	Format   Format
	Offset   int
}

type ColorBlendAttachment struct {
	BlendEnable bool
	WriteMask   ColorComponent
}

type GraphicsPipelineInfo struct {
	Layout PipelineLayout
	Stages []ShaderStageInfo

	VertexBindings   []VertexBinding
	VertexAttributes []VertexAttribute
	Topology         PrimitiveTopology

	Viewport    Viewport
	Scissor     Rect2D
	PolygonMode PolygonMode
	CullMode    CullMode
	FrontFace   FrontFace

	DynamicStates         []DynamicState
	ColorBlendAttachments []ColorBlendAttachment

	ColorFormats []Format
	DepthFormat  Format

	DepthTest    bool
	DepthWrite   bool
	DepthCompare CompareOp
}

type ComputePipelineInfo struct {
	Layout PipelineLayout
	Stage  ShaderStageInfo
}

type CommandPoolInfo struct {
	QueueFamily int
	// ResetBuffers allows command buffers to be reset individually.
	ResetBuffers bool
	Transient    bool
}

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStage
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type PresentInfo struct {
	WaitSemaphores []Semaphore
	Swapchain      Swapchain
	ImageIndex     int
}

// ImageBarrier is a layout transition of a whole image.
type ImageBarrier struct {
	Image     Image
	Aspect    ImageAspect
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcStage  PipelineStage
	SrcAccess Access
	DstStage  PipelineStage
	DstAccess Access
}

type MemoryBarrier struct {
	SrcStage  PipelineStage
	SrcAccess Access
	DstStage  PipelineStage
	DstAccess Access
}

// RenderingAttachment is one attachment of a dynamic rendering pass.
type RenderingAttachment struct {
	View   ImageView
	Format Format
	Layout ImageLayout

	LoadOp  LoadOp
	StoreOp StoreOp

	ClearColor [4]float32
	ClearDepth ClearDepthStencil
}

type RenderingInfo struct {
	Area             Rect2D
	ColorAttachments []RenderingAttachment
	DepthAttachment  *RenderingAttachment
}
