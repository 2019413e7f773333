package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

// result folds the VkResult codes the renderer reacts to into gpu.Result.
// Anything else that came back with an error stays an error.
func result(res common.VkResult, err error, op string) (gpu.Result, error) {
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return gpu.ResultOutOfDate, nil
	case khr_swapchain.VKSuboptimal:
		return gpu.ResultSuboptimal, nil
	case core1_0.VKTimeout:
		return gpu.ResultTimeout, nil
	case core1_0.VKNotReady:
		return gpu.ResultNotReady, nil
	}
	if err != nil {
		return gpu.ResultSuccess, errors.Wrap(err, op)
	}
	return gpu.ResultSuccess, nil
}

func extent(e gpu.Extent2D) core1_0.Extent2D {
	return core1_0.Extent2D{Width: e.Width, Height: e.Height}
}

func rect(r gpu.Rect2D) core1_0.Rect2D {
	return core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: r.Offset.X, Y: r.Offset.Y},
		Extent: extent(r.Extent),
	}
}

func viewport(v gpu.Viewport) core1_0.Viewport {
	return core1_0.Viewport{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}
}

func subresourceRange(aspect gpu.ImageAspect) core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     core1_0.ImageAspectFlags(aspect),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func shaderStage(s gpu.ShaderStageInfo) core1_0.PipelineShaderStageCreateInfo {
	name := s.EntryPoint
	if name == "" {
		name = "main"
	}
	return core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.ShaderStageFlags(s.Stage),
		Module: s.Module.(*shaderModule).module,
		Name:   name,
	}
}

// bytesToBytecode reinterprets little-endian SPIR-V bytes as words.
func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteIndex := i * 4
		byteCode[i] = uint32(b[byteIndex]) |
			uint32(b[byteIndex+1])<<8 |
			uint32(b[byteIndex+2])<<16 |
			uint32(b[byteIndex+3])<<24
	}
	return byteCode
}

func memoryFlags(usage gpu.MemoryUsage) (required, preferred core1_0.MemoryPropertyFlags) {
	switch usage {
	case gpu.MemoryUsageCPUToGPU:
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, core1_0.MemoryPropertyDeviceLocal
	case gpu.MemoryUsageGPUToCPU:
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, core1_0.MemoryPropertyHostCached
	}
	return core1_0.MemoryPropertyDeviceLocal, 0
}
