// Package vulkan implements the gpu interfaces on vkngwrapper.
package vulkan

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v2/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v2"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/logging"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// Backend loads Vulkan through a vkGetInstanceProcAddr pointer, usually the
// one SDL found.
type Backend struct {
	loader core.Loader
}

func New(procAddr unsafe.Pointer) (*Backend, error) {
	loader, err := core.CreateLoaderFromProcAddr(procAddr)
	if err != nil {
		return nil, errors.Wrap(err, "create vulkan loader")
	}
	return &Backend{loader: loader}, nil
}

func (b *Backend) CreateInstance(info gpu.InstanceInfo) (gpu.Instance, error) {
	options := core1_0.InstanceCreateInfo{
		ApplicationName:    info.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := b.loader.AvailableExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate instance extensions")
	}
	for _, ext := range info.Extensions {
		if _, ok := extensions[ext]; !ok {
			return nil, errors.Newf("missing instance extension %s", ext)
		}
		options.EnabledExtensionNames = append(options.EnabledExtensionNames, ext)
	}

	if _, ok := extensions[khr_portability_enumeration.ExtensionName]; ok {
		options.EnabledExtensionNames = append(options.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		options.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if info.Validation {
		layers, _, err := b.loader.AvailableLayers()
		if err != nil {
			return nil, errors.Wrap(err, "enumerate instance layers")
		}
		if _, ok := layers[validationLayer]; !ok {
			return nil, errors.WithHint(errors.Newf("layer %s not available", validationLayer),
				"install the Vulkan SDK or run with -validation=false")
		}
		options.EnabledLayerNames = append(options.EnabledLayerNames, validationLayer)
		options.EnabledExtensionNames = append(options.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		options.Next = debugMessengerOptions()
	}

	instance, _, err := b.loader.CreateInstance(nil, options)
	if err != nil {
		return nil, errors.Wrap(err, "create instance")
	}

	i := &Instance{instance: instance, surfaces: khr_surface.CreateExtensionFromInstance(instance)}
	if info.Validation {
		debug := ext_debug_utils.CreateExtensionFromInstance(instance)
		i.messenger, _, err = debug.CreateDebugUtilsMessenger(instance, nil, debugMessengerOptions())
		if err != nil {
			instance.Destroy(nil)
			return nil, errors.Wrap(err, "create debug messenger")
		}
	}
	logging.Logger().Debug("instance created", "extensions", options.EnabledExtensionNames, "layers", options.EnabledLayerNames)
	return i, nil
}

func debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    logDebug,
	}
}

func logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}
	logging.Logger().Log(context.Background(), level, data.Message, "type", msgType.String(), "id", data.MessageIDName)
	return false
}

type Instance struct {
	instance  core1_0.Instance
	messenger ext_debug_utils.DebugUtilsMessenger
	surfaces  khr_surface.Extension
}

// CreateSurface needs a target whose Native handle is an *sdl.Window.
func (i *Instance) CreateSurface(target gpu.SurfaceTarget) (gpu.Surface, error) {
	window, ok := target.Native().(*sdl.Window)
	if !ok {
		return nil, errors.AssertionFailedf("surface target %T is not an sdl window", target.Native())
	}
	s, err := vkng_sdl2.CreateSurface(i.instance, i.surfaces, window)
	if err != nil {
		return nil, errors.Wrap(err, "create window surface")
	}
	return &surface{surface: s}, nil
}

func (i *Instance) PhysicalDevices() ([]gpu.PhysicalDevice, error) {
	devices, _, err := i.instance.EnumeratePhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate physical devices")
	}
	out := make([]gpu.PhysicalDevice, len(devices))
	for n, d := range devices {
		out[n] = &PhysicalDevice{device: d}
	}
	return out, nil
}

func (i *Instance) Destroy() {
	if i.messenger != nil {
		i.messenger.Destroy(nil)
		i.messenger = nil
	}
	i.instance.Destroy(nil)
}

type surface struct {
	surface khr_surface.Surface
}

func (s *surface) Destroy() {
	s.surface.Destroy(nil)
}
