package swapchain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/gpu/gputest"
)

type fakeWindow struct {
	width, height int
}

func (w *fakeWindow) DrawableSize() (int, int) { return w.width, w.height }

func newManager(t *testing.T) (*gputest.Backend, gpu.Device, *fakeWindow, *Manager) {
	t.Helper()
	b := gputest.New()
	inst, err := b.CreateInstance(gpu.InstanceInfo{})
	require.NoError(t, err)
	surface, err := inst.CreateSurface(nil)
	require.NoError(t, err)
	pds, err := inst.PhysicalDevices()
	require.NoError(t, err)
	dev, err := pds[0].CreateDevice(surface, gpu.DeviceCandidate{}, gpu.DeviceRequirements{})
	require.NoError(t, err)

	win := &fakeWindow{width: 800, height: 600}
	m := New(dev, surface, win)
	require.NoError(t, m.Create(nil))
	return b, dev, win, m
}

func TestCreate(t *testing.T) {
	_, _, _, m := newManager(t)

	require.Equal(t, 3, m.Len())
	require.Equal(t, gpu.FormatB8G8R8A8SRGB, m.Format())
	require.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, m.Extent())
	for i := 0; i < m.Len(); i++ {
		require.NotNil(t, m.View(i).Handle())
		require.Equal(t, gpu.FormatB8G8R8A8SRGB, m.Image(i).Format())
	}
	require.Equal(t, gpu.PresentModeMailbox, m.Handle().(*gputest.Swapchain).Info.PresentMode)
}

func TestRecreateWaitsForInFlightWorkBeforeDestroyingViews(t *testing.T) {
	b, dev, _, m := newManager(t)

	// A frame that renders into view 0 is still in flight.
	pool, err := dev.CreateCommandPool(gpu.CommandPoolInfo{})
	require.NoError(t, err)
	cbs, err := pool.Allocate(1)
	require.NoError(t, err)
	fence, err := dev.CreateFence(false)
	require.NoError(t, err)
	require.NoError(t, cbs[0].Begin(true))
	require.NoError(t, cbs[0].BeginRendering(gpu.RenderingInfo{
		ColorAttachments: []gpu.RenderingAttachment{{View: m.View(0).Handle()}},
	}))
	cbs[0].EndRendering()
	require.NoError(t, cbs[0].End())
	require.NoError(t, dev.GraphicsQueue().Submit(fence, gpu.SubmitInfo{CommandBuffers: cbs}))

	oldChain := m.Handle().(*gputest.Swapchain)
	oldView := m.View(0).Handle().(*gputest.ImageView)

	var notified []gpu.Extent2D
	m.OnRecreate(func(extent gpu.Extent2D) error {
		notified = append(notified, extent)
		return nil
	})

	ok, err := m.Recreate()
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, b.Violations)

	idle := b.Index("wait idle")
	destroyView := b.Index(fmt.Sprintf("destroy image view #%d", oldView.ID))
	newChain := m.Handle().(*gputest.Swapchain)
	createChain := b.Index(fmt.Sprintf("create swapchain #%d", newChain.ID))
	destroyChain := b.Index(fmt.Sprintf("destroy swapchain #%d", oldChain.ID))

	require.NotEqual(t, -1, idle)
	require.Less(t, idle, destroyView)
	require.Less(t, destroyView, createChain)
	require.Less(t, createChain, destroyChain)
	require.Equal(t, oldChain, newChain.Info.Old)

	require.Equal(t, []gpu.Extent2D{{Width: 800, Height: 600}}, notified)
	require.Equal(t, 3, b.Live("image view"))
	require.Equal(t, 1, b.Live("swapchain"))
}

func TestRecreateSkipsWhileMinimized(t *testing.T) {
	b, _, win, m := newManager(t)
	win.width, win.height = 0, 0
	before := len(b.Log)

	ok, err := m.Recreate()
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, b.Log, before)
	require.Equal(t, 3, m.Len())
}

func TestRecreateUsesDrawableSizeWhenSurfaceHasNoExtent(t *testing.T) {
	b, _, win, m := newManager(t)
	b.Support.Capabilities.CurrentExtent = gpu.Extent2D{Width: -1, Height: -1}
	win.width, win.height = 1024, 5000

	ok, err := m.Recreate()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, gpu.Extent2D{Width: 1024, Height: 4096}, m.Extent())
}

func TestAcquireReportsOutOfDateAsResult(t *testing.T) {
	b, dev, _, m := newManager(t)
	sem, err := dev.CreateSemaphore()
	require.NoError(t, err)

	b.AcquireResults = []gpu.Result{gpu.ResultOutOfDate}
	_, res, err := m.Acquire(gpu.NoTimeout, sem)
	require.NoError(t, err)
	require.Equal(t, gpu.ResultOutOfDate, res)

	idx, res, err := m.Acquire(gpu.NoTimeout, sem)
	require.NoError(t, err)
	require.Equal(t, gpu.ResultSuccess, res)
	require.Equal(t, gpu.ImageLayoutUndefined, m.Image(idx).Layout())

	b.PresentResults = []gpu.Result{gpu.ResultSuboptimal}
	res, err = m.Present(dev.PresentQueue(), sem, idx)
	require.NoError(t, err)
	require.Equal(t, gpu.ResultSuboptimal, res)
	require.True(t, res.NeedsRecreate())
}

func TestDestroyReleasesEverything(t *testing.T) {
	b, _, _, m := newManager(t)
	m.Destroy()
	m.Destroy()

	require.Equal(t, 0, b.Live("image view"))
	require.Equal(t, 0, b.Live("swapchain"))
	require.Empty(t, b.Violations)
}

func TestChooseSurfaceFormat(t *testing.T) {
	unorm := gpu.SurfaceFormat{Format: gpu.FormatB8G8R8A8UNorm, ColorSpace: gpu.ColorSpaceSRGBNonlinear}
	srgb := gpu.SurfaceFormat{Format: gpu.FormatB8G8R8A8SRGB, ColorSpace: gpu.ColorSpaceSRGBNonlinear}

	require.Equal(t, srgb, ChooseSurfaceFormat([]gpu.SurfaceFormat{unorm, srgb}))
	require.Equal(t, unorm, ChooseSurfaceFormat([]gpu.SurfaceFormat{unorm}))
}

func TestChoosePresentMode(t *testing.T) {
	require.Equal(t, gpu.PresentModeMailbox, ChoosePresentMode([]gpu.PresentMode{gpu.PresentModeFIFO, gpu.PresentModeMailbox}))
	require.Equal(t, gpu.PresentModeFIFO, ChoosePresentMode([]gpu.PresentMode{gpu.PresentModeImmediate}))
}

func TestImageCount(t *testing.T) {
	tests := []struct {
		min, max, want int
	}{
		{2, 8, 3},
		{2, 0, 3},
		{3, 3, 3},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ImageCount(gpu.SurfaceCapabilities{MinImageCount: tt.min, MaxImageCount: tt.max}))
	}
}
