package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

func (d *Device) SurfaceSupport(s gpu.Surface) (gpu.SurfaceSupport, error) {
	var support gpu.SurfaceSupport
	surf := s.(*surface).surface

	caps, _, err := surf.PhysicalDeviceSurfaceCapabilities(d.physical.device)
	if err != nil {
		return support, errors.Wrap(err, "query surface capabilities")
	}
	support.Capabilities = gpu.SurfaceCapabilities{
		MinImageCount:    caps.MinImageCount,
		MaxImageCount:    caps.MaxImageCount,
		CurrentExtent:    gpu.Extent2D{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height},
		MinImageExtent:   gpu.Extent2D{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
		MaxImageExtent:   gpu.Extent2D{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height},
		CurrentTransform: uint32(caps.CurrentTransform),
	}

	formats, _, err := surf.PhysicalDeviceSurfaceFormats(d.physical.device)
	if err != nil {
		return support, errors.Wrap(err, "query surface formats")
	}
	for _, f := range formats {
		support.Formats = append(support.Formats, gpu.SurfaceFormat{
			Format:     gpu.Format(f.Format),
			ColorSpace: gpu.ColorSpace(f.ColorSpace),
		})
	}

	modes, _, err := surf.PhysicalDeviceSurfacePresentModes(d.physical.device)
	if err != nil {
		return support, errors.Wrap(err, "query present modes")
	}
	for _, m := range modes {
		support.PresentModes = append(support.PresentModes, gpu.PresentMode(m))
	}
	return support, nil
}

func (d *Device) CreateSwapchain(info gpu.SwapchainInfo) (gpu.Swapchain, error) {
	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int
	if d.graphicsFamily != d.presentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = []int{d.graphicsFamily, d.presentFamily}
	}

	var old khr_swapchain.Swapchain
	if info.Old != nil {
		old = info.Old.(*swapchain).swapchain
	}

	chain, _, err := d.swapchains.CreateSwapchain(d.device, nil, khr_swapchain.SwapchainCreateInfo{
		Surface: info.Surface.(*surface).surface,

		MinImageCount:    info.MinImageCount,
		ImageFormat:      core1_0.Format(info.Format.Format),
		ImageColorSpace:  khr_surface.ColorSpace(info.Format.ColorSpace),
		ImageExtent:      extent(info.Extent),
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   khr_surface.SurfaceTransformFlags(info.PreTransform),
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    khr_surface.PresentMode(info.PresentMode),
		Clipped:        true,
		OldSwapchain:   old,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %dx%d swapchain", info.Extent.Width, info.Extent.Height)
	}
	return &swapchain{swapchain: chain}, nil
}

type swapchain struct {
	swapchain khr_swapchain.Swapchain
}

func (s *swapchain) Images() ([]gpu.Image, error) {
	images, _, err := s.swapchain.SwapchainImages()
	if err != nil {
		return nil, errors.Wrap(err, "get swapchain images")
	}
	out := make([]gpu.Image, len(images))
	for i, img := range images {
		out[i] = &image{image: img}
	}
	return out, nil
}

func (s *swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (int, gpu.Result, error) {
	index, res, err := s.swapchain.AcquireNextImage(timeout, signal.(*semaphore).semaphore, nil)
	r, err := result(res, err, "acquire next image")
	return index, r, err
}

func (s *swapchain) Destroy() {
	s.swapchain.Destroy(nil)
}
