package gpu

import (
	"github.com/cockroachdb/errors"
)

// DeviceFeatures are the optional device features the renderer may ask for.
type DeviceFeatures struct {
	SamplerAnisotropy bool
	// StorageImageWrite covers compute shaders writing storage images
	// declared without a format.
	StorageImageWrite bool
}

func (f DeviceFeatures) covers(want DeviceFeatures) bool {
	if want.SamplerAnisotropy && !f.SamplerAnisotropy {
		return false
	}
	if want.StorageImageWrite && !f.StorageImageWrite {
		return false
	}
	return true
}

type DeviceRequirements struct {
	MinAPIVersion Version
	Extensions    []string
	Features      DeviceFeatures
}

// DeviceCandidate is what a physical device reports about itself for one
// surface. Queue family indices are -1 when no family qualifies.
type DeviceCandidate struct {
	Name           string
	Type           PhysicalDeviceType
	APIVersion     Version
	Extensions     map[string]bool
	Features       DeviceFeatures
	GraphicsFamily int
	PresentFamily  int
	SurfaceFormats int
	PresentModes   int
}

// Check returns nil when the candidate meets req, otherwise an error naming
// the first requirement it misses.
func (c DeviceCandidate) Check(req DeviceRequirements) error {
	if c.APIVersion < req.MinAPIVersion {
		return errors.Newf("api version %s is below %s", c.APIVersion, req.MinAPIVersion)
	}
	for _, ext := range req.Extensions {
		if !c.Extensions[ext] {
			return errors.Newf("missing extension %s", ext)
		}
	}
	if !c.Features.covers(req.Features) {
		return errors.New("missing required features")
	}
	if c.GraphicsFamily < 0 {
		return errors.New("no graphics queue family")
	}
	if c.PresentFamily < 0 {
		return errors.New("no queue family can present to the surface")
	}
	if c.SurfaceFormats == 0 || c.PresentModes == 0 {
		return errors.New("surface has no formats or present modes")
	}
	return nil
}

func typeRank(t PhysicalDeviceType) int {
	switch t {
	case PhysicalDeviceTypeDiscreteGPU:
		return 0
	case PhysicalDeviceTypeIntegratedGPU:
		return 1
	}
	return 2
}

// SelectPhysicalDevice returns the index of the preferred suitable
// candidate: a discrete GPU over an integrated one over anything else, with
// ties resolved by enumeration order.
func SelectPhysicalDevice(candidates []DeviceCandidate, req DeviceRequirements) (int, error) {
	best := -1
	var reasons []error
	for i, c := range candidates {
		if err := c.Check(req); err != nil {
			reasons = append(reasons, errors.Wrapf(err, "device %d (%s)", i, c.Name))
			continue
		}
		if best < 0 || typeRank(c.Type) < typeRank(candidates[best].Type) {
			best = i
		}
	}
	if best < 0 {
		err := ErrNoSuitableDevice
		for _, reason := range reasons {
			err = errors.WithSecondaryError(err, reason)
		}
		return -1, err
	}
	return best, nil
}

// FormatQuery answers format capability questions, usually a
// PhysicalDevice.
type FormatQuery interface {
	FormatProperties(format Format) FormatProperties
}

// FindSupportedFormat returns the first candidate whose features for the
// given tiling contain every requested feature bit.
func FindSupportedFormat(query FormatQuery, candidates []Format, tiling ImageTiling, features FormatFeature) (Format, error) {
	for _, format := range candidates {
		props := query.FormatProperties(format)
		have := props.OptimalTilingFeatures
		if tiling == ImageTilingLinear {
			have = props.LinearTilingFeatures
		}
		if have&features == features {
			return format, nil
		}
	}
	return FormatUndefined, errors.Wrapf(ErrNoSupportedFormat, "%d candidates, %s tiling", len(candidates), tiling)
}

// DepthFormatCandidates is the preference order for depth buffers.
var DepthFormatCandidates = []Format{FormatD32SFloat, FormatD32SFloatS8UInt, FormatD24UNormS8UInt}

// FindDepthFormat picks the depth buffer format for a device.
func FindDepthFormat(query FormatQuery) (Format, error) {
	return FindSupportedFormat(query, DepthFormatCandidates, ImageTilingOptimal, FormatFeatureDepthStencilAttachment)
}

func HasStencilComponent(format Format) bool {
	return format == FormatD32SFloatS8UInt || format == FormatD24UNormS8UInt
}

// AspectFor returns the image aspects a view of format covers.
func AspectFor(format Format) ImageAspect {
	switch format {
	case FormatD32SFloat:
		return ImageAspectDepth
	case FormatD32SFloatS8UInt, FormatD24UNormS8UInt:
		return ImageAspectDepth | ImageAspectStencil
	}
	return ImageAspectColor
}
