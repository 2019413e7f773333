package gpu

import (
	"fmt"
	"math"
	"time"
)

// NoTimeout makes a fence wait or image acquisition block until it
// completes.
const NoTimeout time.Duration = math.MaxInt64

// Version is a packed API version in the Vulkan layout.
type Version uint32

func MakeVersion(major, minor, patch uint32) Version {
	return Version(major<<22 | minor<<12 | patch)
}

func (v Version) Major() uint32 { return uint32(v) >> 22 }
func (v Version) Minor() uint32 { return (uint32(v) >> 12) & 0x3ff }
func (v Version) Patch() uint32 { return uint32(v) & 0xfff }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

// Format values match VkFormat.
type Format int32

const (
	FormatUndefined          Format = 0
	FormatR8G8B8A8UNorm      Format = 37
	FormatR8G8B8A8SRGB       Format = 43
	FormatB8G8R8A8UNorm      Format = 44
	FormatB8G8R8A8SRGB       Format = 50
	FormatR16G16B16A16SFloat Format = 97
	FormatR32G32B32SFloat    Format = 106
	FormatD32SFloat          Format = 126
	FormatD24UNormS8UInt     Format = 129
	FormatD32SFloatS8UInt    Format = 130
)

var formatNames = map[Format]string{
	FormatUndefined:          "Undefined",
	FormatR8G8B8A8UNorm:      "R8G8B8A8UNorm",
	FormatR8G8B8A8SRGB:       "R8G8B8A8SRGB",
	FormatB8G8R8A8UNorm:      "B8G8R8A8UNorm",
	FormatB8G8R8A8SRGB:       "B8G8R8A8SRGB",
	FormatR16G16B16A16SFloat: "R16G16B16A16SFloat",
	FormatR32G32B32SFloat:    "R32G32B32SFloat",
	FormatD32SFloat:          "D32SFloat",
	FormatD24UNormS8UInt:     "D24UNormS8UInt",
	FormatD32SFloatS8UInt:    "D32SFloatS8UInt",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int32(f))
}

// ImageLayout values match VkImageLayout.
type ImageLayout int32

const (
	ImageLayoutUndefined                     ImageLayout = 0
	ImageLayoutGeneral                       ImageLayout = 1
	ImageLayoutColorAttachmentOptimal        ImageLayout = 2
	ImageLayoutDepthStencilAttachmentOptimal ImageLayout = 3
	ImageLayoutDepthStencilReadOnlyOptimal   ImageLayout = 4
	ImageLayoutShaderReadOnlyOptimal         ImageLayout = 5
	ImageLayoutTransferSrcOptimal            ImageLayout = 6
	ImageLayoutTransferDstOptimal            ImageLayout = 7
	ImageLayoutPresentSrc                    ImageLayout = 1000001002
)

var layoutNames = map[ImageLayout]string{
	ImageLayoutUndefined:                     "Undefined",
	ImageLayoutGeneral:                       "General",
	ImageLayoutColorAttachmentOptimal:        "ColorAttachmentOptimal",
	ImageLayoutDepthStencilAttachmentOptimal: "DepthStencilAttachmentOptimal",
	ImageLayoutDepthStencilReadOnlyOptimal:   "DepthStencilReadOnlyOptimal",
	ImageLayoutShaderReadOnlyOptimal:         "ShaderReadOnlyOptimal",
	ImageLayoutTransferSrcOptimal:            "TransferSrcOptimal",
	ImageLayoutTransferDstOptimal:            "TransferDstOptimal",
	ImageLayoutPresentSrc:                    "PresentSrc",
}

func (l ImageLayout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return fmt.Sprintf("ImageLayout(%d)", int32(l))
}

// PipelineStage bits match VkPipelineStageFlagBits.
type PipelineStage uint32

const (
	PipelineStageTopOfPipe             PipelineStage = 0x00000001
	PipelineStageDrawIndirect          PipelineStage = 0x00000002
	PipelineStageVertexInput           PipelineStage = 0x00000004
	PipelineStageVertexShader          PipelineStage = 0x00000008
	PipelineStageFragmentShader        PipelineStage = 0x00000080
	PipelineStageEarlyFragmentTests    PipelineStage = 0x00000100
	PipelineStageLateFragmentTests     PipelineStage = 0x00000200
	PipelineStageColorAttachmentOutput PipelineStage = 0x00000400
	PipelineStageComputeShader         PipelineStage = 0x00000800
	PipelineStageTransfer              PipelineStage = 0x00001000
	PipelineStageBottomOfPipe          PipelineStage = 0x00002000
	PipelineStageHost                  PipelineStage = 0x00004000
	PipelineStageAllGraphics           PipelineStage = 0x00008000
	PipelineStageAllCommands           PipelineStage = 0x00010000
)

// Access bits match VkAccessFlagBits.
type Access uint32

const (
	AccessNone                        Access = 0
	AccessIndirectCommandRead         Access = 0x00000001
	AccessIndexRead                   Access = 0x00000002
	AccessVertexAttributeRead         Access = 0x00000004
	AccessUniformRead                 Access = 0x00000008
	AccessInputAttachmentRead         Access = 0x00000010
	AccessShaderRead                  Access = 0x00000020
	AccessShaderWrite                 Access = 0x00000040
	AccessColorAttachmentRead         Access = 0x00000080
	AccessColorAttachmentWrite        Access = 0x00000100
	AccessDepthStencilAttachmentRead  Access = 0x00000200
	AccessDepthStencilAttachmentWrite Access = 0x00000400
	AccessTransferRead                Access = 0x00000800
	AccessTransferWrite               Access = 0x00001000
	AccessHostRead                    Access = 0x00002000
	AccessHostWrite                   Access = 0x00004000
	AccessMemoryRead                  Access = 0x00008000
	AccessMemoryWrite                 Access = 0x00010000
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc            ImageUsage = 0x01
	ImageUsageTransferDst            ImageUsage = 0x02
	ImageUsageSampled                ImageUsage = 0x04
	ImageUsageStorage                ImageUsage = 0x08
	ImageUsageColorAttachment        ImageUsage = 0x10
	ImageUsageDepthStencilAttachment ImageUsage = 0x20
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc   BufferUsage = 0x01
	BufferUsageTransferDst   BufferUsage = 0x02
	BufferUsageUniformBuffer BufferUsage = 0x10
	BufferUsageStorageBuffer BufferUsage = 0x20
	BufferUsageIndexBuffer   BufferUsage = 0x40
	BufferUsageVertexBuffer  BufferUsage = 0x80
)

type ImageAspect uint32

const (
	ImageAspectColor   ImageAspect = 0x1
	ImageAspectDepth   ImageAspect = 0x2
	ImageAspectStencil ImageAspect = 0x4
)

type FormatFeature uint32

const (
	FormatFeatureSampledImage           FormatFeature = 0x001
	FormatFeatureStorageImage           FormatFeature = 0x002
	FormatFeatureColorAttachment        FormatFeature = 0x080
	FormatFeatureDepthStencilAttachment FormatFeature = 0x200
)

// FormatProperties lists what a device supports for one format.
type FormatProperties struct {
	LinearTilingFeatures  FormatFeature
	OptimalTilingFeatures FormatFeature
}

type ImageTiling int32

const (
	ImageTilingOptimal ImageTiling = 0
	ImageTilingLinear  ImageTiling = 1
)

func (t ImageTiling) String() string {
	if t == ImageTilingLinear {
		return "Linear"
	}
	return "Optimal"
}

type ShaderStage uint32

const (
	ShaderStageVertex   ShaderStage = 0x01
	ShaderStageFragment ShaderStage = 0x10
	ShaderStageCompute  ShaderStage = 0x20
)

type DescriptorType int32

const (
	DescriptorTypeSampler              DescriptorType = 0
	DescriptorTypeCombinedImageSampler DescriptorType = 1
	DescriptorTypeSampledImage         DescriptorType = 2
	DescriptorTypeStorageImage         DescriptorType = 3
	DescriptorTypeUniformBuffer        DescriptorType = 6
	DescriptorTypeStorageBuffer        DescriptorType = 7
)

type LoadOp int32

const (
	LoadOpLoad     LoadOp = 0
	LoadOpClear    LoadOp = 1
	LoadOpDontCare LoadOp = 2
)

type StoreOp int32

const (
	StoreOpStore    StoreOp = 0
	StoreOpDontCare StoreOp = 1
)

type PrimitiveTopology int32

const (
	PrimitiveTopologyTriangleList PrimitiveTopology = 3
)

type PolygonMode int32

const (
	PolygonModeFill PolygonMode = 0
	PolygonModeLine PolygonMode = 1
)

type CullMode uint32

const (
	CullModeNone  CullMode = 0
	CullModeFront CullMode = 1
	CullModeBack  CullMode = 2
)

type FrontFace int32

const (
	FrontFaceCounterClockwise FrontFace = 0
	FrontFaceClockwise        FrontFace = 1
)

type CompareOp int32

const (
	CompareOpNever       CompareOp = 0
	CompareOpLess        CompareOp = 1
	CompareOpLessOrEqual CompareOp = 3
	CompareOpAlways      CompareOp = 7
)

type DynamicState int32

const (
	DynamicStateViewport DynamicState = 0
	DynamicStateScissor  DynamicState = 1
)

type ColorComponent uint32

const (
	ColorComponentR ColorComponent = 0x1
	ColorComponentG ColorComponent = 0x2
	ColorComponentB ColorComponent = 0x4
	ColorComponentA ColorComponent = 0x8

	ColorComponentAll = ColorComponentR | ColorComponentG | ColorComponentB | ColorComponentA
)

type BindPoint int32

const (
	BindPointGraphics BindPoint = 0
	BindPointCompute  BindPoint = 1
)

type PhysicalDeviceType int32

const (
	PhysicalDeviceTypeOther         PhysicalDeviceType = 0
	PhysicalDeviceTypeIntegratedGPU PhysicalDeviceType = 1
	PhysicalDeviceTypeDiscreteGPU   PhysicalDeviceType = 2
	PhysicalDeviceTypeVirtualGPU    PhysicalDeviceType = 3
	PhysicalDeviceTypeCPU           PhysicalDeviceType = 4
)

func (t PhysicalDeviceType) String() string {
	switch t {
	case PhysicalDeviceTypeIntegratedGPU:
		return "integrated"
	case PhysicalDeviceTypeDiscreteGPU:
		return "discrete"
	case PhysicalDeviceTypeVirtualGPU:
		return "virtual"
	case PhysicalDeviceTypeCPU:
		return "cpu"
	}
	return "other"
}

type PresentMode int32

const (
	PresentModeImmediate PresentMode = 0
	PresentModeMailbox   PresentMode = 1
	PresentModeFIFO      PresentMode = 2
)

type ColorSpace int32

const (
	ColorSpaceSRGBNonlinear ColorSpace = 0
)

type Filter int32

const (
	FilterNearest Filter = 0
	FilterLinear  Filter = 1
)

type AddressMode int32

const (
	AddressModeRepeat      AddressMode = 0
	AddressModeClampToEdge AddressMode = 2
)

// MemoryUsage says where an allocation should live.
type MemoryUsage int

const (
	MemoryUsageGPUOnly MemoryUsage = iota
	MemoryUsageCPUToGPU
	MemoryUsageGPUToCPU
)

type Extent2D struct {
	Width  int
	Height int
}

type Offset2D struct {
	X int
	Y int
}

type Rect2D struct {
	Offset Offset2D
	Extent Extent2D
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

type ClearDepthStencil struct {
	Depth   float32
	Stencil uint32
}
