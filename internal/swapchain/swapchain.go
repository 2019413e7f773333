// Package swapchain owns the chain of presentable images and their views.
package swapchain

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/logging"
	"github.com/vkngwrapper/atmosphere/internal/resource"
)

// Drawable reports the window's size in pixels. A zero dimension means the
// window is minimized.
type Drawable interface {
	DrawableSize() (width, height int)
}

// Manager keeps one image view per swapchain image.
type Manager struct {
	dev     gpu.Device
	surface gpu.Surface
	window  Drawable

	chain       gpu.Swapchain
	format      gpu.SurfaceFormat
	presentMode gpu.PresentMode
	extent      gpu.Extent2D
	images      []*resource.Image
	views       []*resource.ImageView

	listeners []func(extent gpu.Extent2D) error
}

func New(dev gpu.Device, surface gpu.Surface, window Drawable) *Manager {
	return &Manager{dev: dev, surface: surface, window: window}
}

// OnRecreate registers fn to run after every successful Recreate, in
// registration order.
func (m *Manager) OnRecreate(fn func(extent gpu.Extent2D) error) {
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) Handle() gpu.Swapchain { return m.chain }
func (m *Manager) Format() gpu.Format { return m.format.Format }
func (m *Manager) Extent() gpu.Extent2D { return m.extent }
func (m *Manager) Len() int { return len(m.images) }
func (m *Manager) Image(i int) *resource.Image { return m.images[i] }
func (m *Manager) View(i int) *resource.ImageView { return m.views[i] }

// Create builds a chain, passing old to the driver so it can reuse its
// resources, and destroys old once the new chain's views exist.
func (m *Manager) Create(old gpu.Swapchain) error {
	support, err := m.dev.SurfaceSupport(m.surface)
	if err != nil {
		return errors.Wrap(err, "query surface support")
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return errors.New("surface has no formats or present modes")
	}

	width, height := m.window.DrawableSize()
	format := ChooseSurfaceFormat(support.Formats)
	presentMode := ChoosePresentMode(support.PresentModes)
	extent := ChooseExtent(support.Capabilities, gpu.Extent2D{Width: width, Height: height})

	chain, err := m.dev.CreateSwapchain(gpu.SwapchainInfo{
		Surface:       m.surface,
		MinImageCount: ImageCount(support.Capabilities),
		Format:        format,
		Extent:        extent,
		PresentMode:   presentMode,
		PreTransform:  support.Capabilities.CurrentTransform,
		Old:           old,
	})
	if err != nil {
		return errors.Wrap(err, "create swapchain")
	}

	handles, err := chain.Images()
	if err != nil {
		chain.Destroy()
		return errors.Wrap(err, "get swapchain images")
	}
	images := resource.WrapSwapchainImages(handles, format.Format, extent)
	views := make([]*resource.ImageView, 0, len(images))
	for i, img := range images {
		view, err := img.CreateView(m.dev)
		if err != nil {
			for _, v := range views {
				v.Destroy()
			}
			chain.Destroy()
			return errors.Wrapf(err, "swapchain image %d", i)
		}
		views = append(views, view)
	}

	if old != nil {
		old.Destroy()
	}
	m.chain = chain
	m.format = format
	m.presentMode = presentMode
	m.extent = extent
	m.images = images
	m.views = views

	logging.Logger().Info("swapchain created",
		"width", extent.Width, "height", extent.Height,
		"images", len(images), "format", format.Format.String(), "present_mode", int(presentMode))
	return nil
}

// Recreate rebuilds the chain after it went out of date. It reports false
// without touching anything while the window is minimized. It waits for the
// device to go idle first, so no view is destroyed while a command buffer
// in flight still uses it.
func (m *Manager) Recreate() (bool, error) {
	width, height := m.window.DrawableSize()
	if width == 0 || height == 0 {
		return false, nil
	}

	if err := m.dev.WaitIdle(); err != nil {
		return false, errors.Wrap(err, "wait idle before swapchain recreation")
	}

	m.destroyViews()
	if err := m.Create(m.chain); err != nil {
		return false, err
	}

	for _, fn := range m.listeners {
		if err := fn(m.extent); err != nil {
			return false, errors.Wrap(err, "swapchain recreation listener")
		}
	}
	return true, nil
}

// Acquire takes the next image, signaling signal when it is ready to be
// rendered to.
func (m *Manager) Acquire(timeout time.Duration, signal gpu.Semaphore) (int, gpu.Result, error) {
	idx, res, err := m.chain.AcquireNextImage(timeout, signal)
	if err != nil {
		return 0, res, errors.Wrap(err, "acquire swapchain image")
	}
	if res == gpu.ResultSuccess || res == gpu.ResultSuboptimal {
		if idx < 0 || idx >= len(m.images) {
			return 0, res, errors.AssertionFailedf("acquired image %d of %d", idx, len(m.images))
		}
		m.images[idx].Discard()
	}
	return idx, res, nil
}

// Present queues image index for display once wait is signaled.
func (m *Manager) Present(queue gpu.Queue, wait gpu.Semaphore, index int) (gpu.Result, error) {
	res, err := queue.Present(gpu.PresentInfo{
		WaitSemaphores: []gpu.Semaphore{wait},
		Swapchain:      m.chain,
		ImageIndex:     index,
	})
	if err != nil {
		return res, errors.Wrap(err, "present")
	}
	return res, nil
}

func (m *Manager) destroyViews() {
	for _, v := range m.views {
		v.Destroy()
	}
	for _, img := range m.images {
		img.Destroy()
	}
	m.views = nil
	m.images = nil
}

// Destroy frees the views and the chain. The device must be idle.
func (m *Manager) Destroy() {
	m.destroyViews()
	if m.chain != nil {
		m.chain.Destroy()
		m.chain = nil
	}
}

// ChooseSurfaceFormat prefers 8-bit BGRA sRGB and otherwise takes the first
// format offered.
func ChooseSurfaceFormat(formats []gpu.SurfaceFormat) gpu.SurfaceFormat {
	for _, f := range formats {
		if f.Format == gpu.FormatB8G8R8A8SRGB && f.ColorSpace == gpu.ColorSpaceSRGBNonlinear {
			return f
		}
	}
	return formats[0]
}

// ChoosePresentMode prefers mailbox and falls back to FIFO, which every
// driver supports.
func ChoosePresentMode(modes []gpu.PresentMode) gpu.PresentMode {
	for _, mode := range modes {
		if mode == gpu.PresentModeMailbox {
			return mode
		}
	}
	return gpu.PresentModeFIFO
}

// ChooseExtent uses the surface's current extent when it has one, and the
// drawable size clamped to the surface limits otherwise.
func ChooseExtent(caps gpu.SurfaceCapabilities, drawable gpu.Extent2D) gpu.Extent2D {
	if caps.CurrentExtent.Width != -1 {
		return caps.CurrentExtent
	}
	return gpu.Extent2D{
		Width:  clamp(drawable.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(drawable.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// ImageCount asks for one image more than the minimum, within the maximum.
func ImageCount(caps gpu.SurfaceCapabilities) int {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
