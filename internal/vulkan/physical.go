package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/logging"
)

type PhysicalDevice struct {
	device core1_0.PhysicalDevice
}

func (p *PhysicalDevice) Describe(s gpu.Surface) (gpu.DeviceCandidate, error) {
	c := gpu.DeviceCandidate{GraphicsFamily: -1, PresentFamily: -1}

	props, err := p.device.Properties()
	if err != nil {
		return c, errors.Wrap(err, "read device properties")
	}
	c.Name = props.DriverName
	c.Type = gpu.PhysicalDeviceType(props.DriverType)
	c.APIVersion = gpu.Version(props.APIVersion)

	extensions, _, err := p.device.EnumerateDeviceExtensionProperties()
	if err != nil {
		return c, errors.Wrapf(err, "enumerate extensions of %s", c.Name)
	}
	c.Extensions = make(map[string]bool, len(extensions))
	for name := range extensions {
		c.Extensions[name] = true
	}

	features := p.device.Features()
	c.Features = gpu.DeviceFeatures{
		SamplerAnisotropy: features.SamplerAnisotropy,
		StorageImageWrite: features.ShaderStorageImageWriteWithoutFormat,
	}

	surf := s.(*surface).surface
	c.GraphicsFamily, c.PresentFamily, err = p.queueFamilies(surf)
	if err != nil {
		return c, err
	}

	formats, _, err := surf.PhysicalDeviceSurfaceFormats(p.device)
	if err != nil {
		return c, errors.Wrap(err, "query surface formats")
	}
	modes, _, err := surf.PhysicalDeviceSurfacePresentModes(p.device)
	if err != nil {
		return c, errors.Wrap(err, "query present modes")
	}
	c.SurfaceFormats = len(formats)
	c.PresentModes = len(modes)
	return c, nil
}

// queueFamilies returns the first graphics family and a family that can
// present, preferring the graphics family itself.
func (p *PhysicalDevice) queueFamilies(surf khr_surface.Surface) (graphics, present int, err error) {
	graphics, present = -1, -1
	for idx, family := range p.device.QueueFamilyProperties() {
		supported, _, err := surf.PhysicalDeviceSurfaceSupport(p.device, idx)
		if err != nil {
			return -1, -1, errors.Wrapf(err, "query present support of family %d", idx)
		}
		isGraphics := family.QueueFlags&core1_0.QueueGraphics != 0
		if isGraphics && graphics < 0 {
			graphics = idx
		}
		if supported && (present < 0 || (isGraphics && idx == graphics)) {
			present = idx
		}
	}
	return graphics, present, nil
}

func (p *PhysicalDevice) FormatProperties(format gpu.Format) gpu.FormatProperties {
	props := p.device.FormatProperties(core1_0.Format(format))
	return gpu.FormatProperties{
		LinearTilingFeatures:  gpu.FormatFeature(props.LinearTilingFeatures),
		OptimalTilingFeatures: gpu.FormatFeature(props.OptimalTilingFeatures),
	}
}

func (p *PhysicalDevice) TimestampPeriod() float32 {
	props, err := p.device.Properties()
	if err != nil {
		return 1
	}
	return props.Limits.TimestampPeriod
}

func (p *PhysicalDevice) CreateDevice(s gpu.Surface, candidate gpu.DeviceCandidate, req gpu.DeviceRequirements) (gpu.Device, error) {
	families := []int{candidate.GraphicsFamily}
	if candidate.PresentFamily != candidate.GraphicsFamily {
		families = append(families, candidate.PresentFamily)
	}
	queues := make([]core1_0.DeviceQueueCreateInfo, 0, len(families))
	for _, family := range families {
		queues = append(queues, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: family,
			QueuePriorities:  []float32{1.0},
		})
	}

	extensionNames := append([]string(nil), req.Extensions...)
	if candidate.Extensions[khr_portability_subset.ExtensionName] {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	device, _, err := p.device.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queues,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy:                    req.Features.SamplerAnisotropy,
			ShaderStorageImageWriteWithoutFormat: req.Features.StorageImageWrite,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create logical device on %s", candidate.Name)
	}

	d := &Device{
		name:           candidate.Name,
		physical:       p,
		device:         device,
		graphicsFamily: candidate.GraphicsFamily,
		presentFamily:  candidate.PresentFamily,
		swapchains:     khr_swapchain.CreateExtensionFromDevice(device),
	}
	d.graphics = &queue{queue: device.GetQueue(candidate.GraphicsFamily, 0), dev: d}
	d.present = &queue{queue: device.GetQueue(candidate.PresentFamily, 0), dev: d}
	d.passes = newPassCache(device)
	logging.Logger().Info("logical device created", "device", candidate.Name, "extensions", extensionNames)
	return d, nil
}
