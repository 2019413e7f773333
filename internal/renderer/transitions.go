package renderer

import (
	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/resource"
)

// Layout transitions recorded every frame, in recording order.
var (
	// ColorAttachmentTransition readies a freshly acquired swapchain image
	// for rendering. Its previous contents are dropped.
	ColorAttachmentTransition = resource.Transition{
		NewLayout: gpu.ImageLayoutColorAttachmentOptimal,
		SrcStage:  gpu.PipelineStageColorAttachmentOutput,
		SrcAccess: gpu.AccessNone,
		DstStage:  gpu.PipelineStageColorAttachmentOutput,
		DstAccess: gpu.AccessColorAttachmentWrite,
		Discard:   true,
	}

	// DepthAttachmentTransition readies the depth image, waiting for the
	// previous frame's depth writes before the clear.
	DepthAttachmentTransition = resource.Transition{
		NewLayout: gpu.ImageLayoutDepthStencilAttachmentOptimal,
		SrcStage:  gpu.PipelineStageEarlyFragmentTests | gpu.PipelineStageLateFragmentTests,
		SrcAccess: gpu.AccessDepthStencilAttachmentWrite,
		DstStage:  gpu.PipelineStageEarlyFragmentTests | gpu.PipelineStageLateFragmentTests,
		DstAccess: gpu.AccessDepthStencilAttachmentRead | gpu.AccessDepthStencilAttachmentWrite,
		Discard:   true,
	}

	// PresentTransition hands the rendered image to the presentation
	// engine. The present semaphore orders everything after it.
	PresentTransition = resource.Transition{
		NewLayout: gpu.ImageLayoutPresentSrc,
		SrcStage:  gpu.PipelineStageColorAttachmentOutput,
		SrcAccess: gpu.AccessColorAttachmentWrite,
		DstStage:  gpu.PipelineStageBottomOfPipe,
		DstAccess: gpu.AccessNone,
	}
)

// Lookup table transitions.
var (
	// LUTWriteTransition discards a table before a compute pass rewrites
	// it. Readers from an earlier frame must be done first.
	LUTWriteTransition = resource.Transition{
		NewLayout: gpu.ImageLayoutGeneral,
		SrcStage:  gpu.PipelineStageComputeShader | gpu.PipelineStageFragmentShader,
		SrcAccess: gpu.AccessNone,
		DstStage:  gpu.PipelineStageComputeShader,
		DstAccess: gpu.AccessShaderWrite,
		Discard:   true,
	}

	// LUTReadTransition publishes a written table to later compute passes
	// and to the sky fragment shader.
	LUTReadTransition = resource.Transition{
		NewLayout: gpu.ImageLayoutShaderReadOnlyOptimal,
		SrcStage:  gpu.PipelineStageComputeShader,
		SrcAccess: gpu.AccessShaderWrite,
		DstStage:  gpu.PipelineStageComputeShader | gpu.PipelineStageFragmentShader,
		DstAccess: gpu.AccessShaderRead,
	}

	// CaptureSourceTransition prepares a table to be copied out.
	CaptureSourceTransition = resource.Transition{
		NewLayout: gpu.ImageLayoutTransferSrcOptimal,
		SrcStage:  gpu.PipelineStageComputeShader | gpu.PipelineStageFragmentShader,
		SrcAccess: gpu.AccessNone,
		DstStage:  gpu.PipelineStageTransfer,
		DstAccess: gpu.AccessTransferRead,
	}

	// CaptureDoneTransition returns a copied table to shader reads.
	CaptureDoneTransition = resource.Transition{
		NewLayout: gpu.ImageLayoutShaderReadOnlyOptimal,
		SrcStage:  gpu.PipelineStageTransfer,
		SrcAccess: gpu.AccessNone,
		DstStage:  gpu.PipelineStageComputeShader | gpu.PipelineStageFragmentShader,
		DstAccess: gpu.AccessShaderRead,
	}

	// CaptureReadbackBarrier makes copied texels visible to the host.
	CaptureReadbackBarrier = gpu.MemoryBarrier{
		SrcStage:  gpu.PipelineStageTransfer,
		SrcAccess: gpu.AccessTransferWrite,
		DstStage:  gpu.PipelineStageHost,
		DstAccess: gpu.AccessHostRead,
	}
)
