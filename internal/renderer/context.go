package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/deletion"
	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/logging"
	"github.com/vkngwrapper/atmosphere/internal/platform"
	"github.com/vkngwrapper/atmosphere/internal/swapchain"
)

// ErrInitialization marks every error that aborted renderer setup.
var ErrInitialization = errors.New("renderer initialization failed")

// Stage is how far initialization has come. Stages only move forward.
type Stage int

const (
	StageUninitialized Stage = iota
	StageWindowCreated
	StageInstanceCreated
	StageSurfaceCreated
	StageDeviceSelected
	StageAllocatorCreated
	StageSwapchainCreated
	StageResourcesReady
	StageRunning
	StageShuttingDown
	StageDestroyed
)

var stageNames = [...]string{
	"uninitialized",
	"window created",
	"instance created",
	"surface created",
	"device selected",
	"allocator created",
	"swapchain created",
	"resources ready",
	"running",
	"shutting down",
	"destroyed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown stage"
	}
	return stageNames[s]
}

// DeviceRequirements is what a physical device must offer to run the
// renderer.
var DeviceRequirements = gpu.DeviceRequirements{
	MinAPIVersion: gpu.MakeVersion(1, 2, 0),
	Extensions:    []string{"VK_KHR_swapchain"},
	Features:      gpu.DeviceFeatures{StorageImageWrite: true},
}

// Context holds the objects every part of the renderer shares. Each
// transition method creates one of them, pushes its teardown and advances
// the stage; Destroy tears everything down in reverse.
type Context struct {
	Window    platform.Window
	Instance  gpu.Instance
	Surface   gpu.Surface
	Physical  gpu.PhysicalDevice
	Candidate gpu.DeviceCandidate
	Device    gpu.Device
	Graphics  gpu.Queue
	Present   gpu.Queue
	Allocator gpu.Allocator
	Swapchain *swapchain.Manager

	Deletion deletion.Queue

	stage Stage
}

func (c *Context) Stage() Stage { return c.stage }

// expect asserts the context is at stage.
func (c *Context) expect(stage Stage) error {
	if c.stage != stage {
		return errors.AssertionFailedf("renderer is %s, expected %s", c.stage, stage)
	}
	return nil
}

// failed marks err as fatal to initialization at the step toward stage.
func failed(stage Stage, err error) error {
	return errors.Mark(errors.Wrapf(err, "reach stage %q", stage), ErrInitialization)
}

func (c *Context) advance(stage Stage) {
	c.stage = stage
	logging.Logger().Debug("renderer stage", "stage", stage.String())
}

// AttachWindow takes ownership of window.
func (c *Context) AttachWindow(window platform.Window) error {
	if err := c.expect(StageUninitialized); err != nil {
		return err
	}
	if window == nil {
		return failed(StageWindowCreated, errors.New("no window"))
	}
	c.Window = window
	c.Deletion.Push(window.Destroy)
	c.advance(StageWindowCreated)
	return nil
}

func (c *Context) CreateInstance(backend gpu.Backend, name string, validation bool) error {
	if err := c.expect(StageWindowCreated); err != nil {
		return err
	}
	extensions, err := c.Window.InstanceExtensions()
	if err != nil {
		return failed(StageInstanceCreated, errors.Wrap(err, "window instance extensions"))
	}
	instance, err := backend.CreateInstance(gpu.InstanceInfo{
		ApplicationName: name,
		Extensions:      extensions,
		Validation:      validation,
	})
	if err != nil {
		return failed(StageInstanceCreated, err)
	}
	c.Instance = instance
	c.Deletion.Push(instance.Destroy)
	c.advance(StageInstanceCreated)
	return nil
}

func (c *Context) CreateSurface() error {
	if err := c.expect(StageInstanceCreated); err != nil {
		return err
	}
	surface, err := c.Instance.CreateSurface(c.Window)
	if err != nil {
		return failed(StageSurfaceCreated, err)
	}
	c.Surface = surface
	c.Deletion.Push(surface.Destroy)
	c.advance(StageSurfaceCreated)
	return nil
}

// SelectDevice picks the preferred physical device meeting req and creates
// the logical device and its queues on it.
func (c *Context) SelectDevice(req gpu.DeviceRequirements) error {
	if err := c.expect(StageSurfaceCreated); err != nil {
		return err
	}
	physical, err := c.Instance.PhysicalDevices()
	if err != nil {
		return failed(StageDeviceSelected, errors.Wrap(err, "enumerate physical devices"))
	}
	candidates := make([]gpu.DeviceCandidate, len(physical))
	for i, pd := range physical {
		if candidates[i], err = pd.Describe(c.Surface); err != nil {
			return failed(StageDeviceSelected, errors.Wrapf(err, "describe physical device %d", i))
		}
	}
	best, err := gpu.SelectPhysicalDevice(candidates, req)
	if err != nil {
		return failed(StageDeviceSelected, err)
	}

	device, err := physical[best].CreateDevice(c.Surface, candidates[best], req)
	if err != nil {
		return failed(StageDeviceSelected, errors.Wrapf(err, "create device on %s", candidates[best].Name))
	}
	c.Physical = physical[best]
	c.Candidate = candidates[best]
	c.Device = device
	c.Graphics = device.GraphicsQueue()
	c.Present = device.PresentQueue()
	c.Deletion.Push(device.Destroy)

	logging.Logger().Info("device selected",
		"name", c.Candidate.Name,
		"type", c.Candidate.Type.String(),
		"api", c.Candidate.APIVersion.String(),
		"graphics_family", c.Candidate.GraphicsFamily,
		"present_family", c.Candidate.PresentFamily)
	c.advance(StageDeviceSelected)
	return nil
}

func (c *Context) CreateAllocator() error {
	if err := c.expect(StageDeviceSelected); err != nil {
		return err
	}
	alloc, err := c.Device.CreateAllocator()
	if err != nil {
		return failed(StageAllocatorCreated, errors.Wrap(err, "create allocator"))
	}
	c.Allocator = alloc
	c.Deletion.Push(alloc.Destroy)
	c.advance(StageAllocatorCreated)
	return nil
}

func (c *Context) CreateSwapchain() error {
	if err := c.expect(StageAllocatorCreated); err != nil {
		return err
	}
	manager := swapchain.New(c.Device, c.Surface, c.Window)
	if err := manager.Create(nil); err != nil {
		return failed(StageSwapchainCreated, err)
	}
	c.Swapchain = manager
	c.Deletion.Push(manager.Destroy)
	c.advance(StageSwapchainCreated)
	return nil
}

// ResourcesReady records that everything the frame loop needs exists.
func (c *Context) ResourcesReady() error {
	if err := c.expect(StageSwapchainCreated); err != nil {
		return err
	}
	c.advance(StageResourcesReady)
	return nil
}

func (c *Context) Start() error {
	if err := c.expect(StageResourcesReady); err != nil {
		return err
	}
	c.advance(StageRunning)
	return nil
}

// Shutdown waits for the device to finish all submitted work.
func (c *Context) Shutdown() error {
	if err := c.expect(StageRunning); err != nil {
		return err
	}
	c.advance(StageShuttingDown)
	if err := c.Device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait idle before shutdown")
	}
	return nil
}

// Destroy runs the deletion queue. Called after Shutdown, or at any stage
// before Running to unwind a failed initialization. A second call does
// nothing.
func (c *Context) Destroy() {
	if c.stage == StageDestroyed {
		return
	}
	c.Deletion.Flush()
	c.advance(StageDestroyed)
}
