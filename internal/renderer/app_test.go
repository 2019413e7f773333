package renderer

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/atmosphere/internal/config"
	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/gpu/gputest"
	"github.com/vkngwrapper/atmosphere/internal/logging"
	"github.com/vkngwrapper/atmosphere/internal/platform"
	"github.com/vkngwrapper/atmosphere/internal/platform/platformtest"
)

func testShaders() fstest.MapFS {
	spirv := &fstest.MapFile{Data: []byte{0x03, 0x02, 0x23, 0x07}}
	shaders := fstest.MapFS{}
	for _, name := range []string{
		SceneVertexShader, SceneFragmentShader,
		SkyVertexShader, SkyFragmentShader,
		TransmittanceShader, MultiScatteringShader, SkyViewShader,
	} {
		shaders[name] = spirv
	}
	return shaders
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Validation = false
	cfg.OutputDir = t.TempDir()
	return cfg
}

// liveKinds is every object kind the renderer creates.
var liveKinds = []string{
	"instance", "surface", "device", "allocator", "swapchain",
	"image", "image view", "buffer", "sampler", "shader module",
	"descriptor set layout", "descriptor pool", "pipeline layout",
	"graphics pipeline", "compute pipeline",
	"command pool", "command buffer", "semaphore", "fence", "query pool",
}

func assertAllDestroyed(t *testing.T, b *gputest.Backend) {
	t.Helper()
	for _, kind := range liveKinds {
		assert.Zero(t, b.Live(kind), "live %s objects", kind)
	}
}

// frameSubmissions drops the one-shot uploads, which wait on nothing.
func frameSubmissions(b *gputest.Backend) []gputest.Submission {
	var out []gputest.Submission
	for _, s := range b.Submissions {
		if len(s.WaitSemaphores) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func newTestApp(t *testing.T, b *gputest.Backend, window *platformtest.Window, cfg config.Config) *App {
	t.Helper()
	a, err := New(cfg, window, b, testShaders())
	require.NoError(t, err)
	assert.Equal(t, StageResourcesReady, a.Context().Stage())
	return a
}

func TestAppDrawsUntilWindowCloses(t *testing.T) {
	b := gputest.New()
	window := platformtest.New(800, 600, platformtest.Frame{}, platformtest.Frame{}, platformtest.Frame{}, platformtest.Frame{})
	a := newTestApp(t, b, window, testConfig(t))

	require.NoError(t, a.Run())
	assert.Equal(t, StageDestroyed, a.Context().Stage())
	assert.Equal(t, 1, window.Destroyed)
	assert.Empty(t, b.Violations)
	assertAllDestroyed(t, b)

	assert.Len(t, frameSubmissions(b), 4)
	assert.Equal(t, 2, b.Count("present 0"))
	assert.Equal(t, 1, b.Count("present 1"))
	assert.Equal(t, 1, b.Count("present 2"))

	// Shutdown waits for the device before anything is destroyed.
	idle := b.Index("wait idle")
	require.GreaterOrEqual(t, idle, 0)
	assert.Less(t, idle, indexPrefix(b.Log, "destroy graphics pipeline #"))
}

func TestAppFrameCommands(t *testing.T) {
	b := gputest.New()
	window := platformtest.New(800, 600, platformtest.Frame{})
	a := newTestApp(t, b, window, testConfig(t))
	require.NoError(t, a.Run())

	subs := frameSubmissions(b)
	require.Len(t, subs, 1)
	require.Len(t, subs[0].Commands, 1)
	cmds := subs[0].Commands[0]

	assert.Equal(t, []gputest.Op{
		gputest.OpBarrier,
		gputest.OpBarrier,
		gputest.OpBeginRendering,
		gputest.OpBindPipeline,
		gputest.OpBindDescriptorSets,
		gputest.OpBindVertexBuffers,
		gputest.OpSetViewport,
		gputest.OpSetScissor,
		gputest.OpDraw,
		gputest.OpEndRendering,
		gputest.OpBarrier,
	}, gputest.Ops(cmds))

	barriers := gputest.Find(cmds, gputest.OpBarrier)
	color, depth, present := barriers[0].Barrier, barriers[1].Barrier, barriers[2].Barrier

	assert.Equal(t, gpu.ImageLayoutUndefined, color.OldLayout)
	assert.Equal(t, gpu.ImageLayoutColorAttachmentOptimal, color.NewLayout)
	assert.Equal(t, gpu.PipelineStageColorAttachmentOutput, color.SrcStage)
	assert.Equal(t, gpu.AccessNone, color.SrcAccess)
	assert.Equal(t, gpu.PipelineStageColorAttachmentOutput, color.DstStage)
	assert.Equal(t, gpu.AccessColorAttachmentWrite, color.DstAccess)
	assert.Equal(t, gpu.ImageAspectColor, color.Aspect)

	assert.Equal(t, gpu.ImageLayoutUndefined, depth.OldLayout)
	assert.Equal(t, gpu.ImageLayoutDepthStencilAttachmentOptimal, depth.NewLayout)
	assert.Equal(t, DepthAttachmentTransition.SrcStage, depth.SrcStage)
	assert.Equal(t, DepthAttachmentTransition.DstAccess, depth.DstAccess)
	assert.Equal(t, gpu.ImageAspectDepth, depth.Aspect)

	assert.Equal(t, gpu.ImageLayoutColorAttachmentOptimal, present.OldLayout)
	assert.Equal(t, gpu.ImageLayoutPresentSrc, present.NewLayout)
	assert.Equal(t, gpu.PipelineStageColorAttachmentOutput, present.SrcStage)
	assert.Equal(t, gpu.AccessColorAttachmentWrite, present.SrcAccess)
	assert.Equal(t, gpu.PipelineStageBottomOfPipe, present.DstStage)
	assert.Equal(t, color.Image, present.Image)

	rendering := gputest.Find(cmds, gputest.OpBeginRendering)[0].Rendering
	require.Len(t, rendering.ColorAttachments, 1)
	assert.Equal(t, gpu.LoadOpClear, rendering.ColorAttachments[0].LoadOp)
	assert.Equal(t, gpu.StoreOpStore, rendering.ColorAttachments[0].StoreOp)
	assert.Equal(t, ClearColor, rendering.ColorAttachments[0].ClearColor)
	assert.Equal(t, gpu.ImageLayoutColorAttachmentOptimal, rendering.ColorAttachments[0].Layout)
	require.NotNil(t, rendering.DepthAttachment)
	assert.Equal(t, gpu.FormatD32SFloat, rendering.DepthAttachment.Format)
	assert.Equal(t, float32(1), rendering.DepthAttachment.ClearDepth.Depth)
	assert.Equal(t, gpu.StoreOpDontCare, rendering.DepthAttachment.StoreOp)

	viewport := gputest.Find(cmds, gputest.OpSetViewport)[0].Viewport
	assert.Equal(t, gpu.Viewport{Width: 800, Height: 600, MinDepth: 0, MaxDepth: 1}, viewport)
	scissor := gputest.Find(cmds, gputest.OpSetScissor)[0].Scissor
	assert.Equal(t, gpu.Rect2D{Extent: gpu.Extent2D{Width: 800, Height: 600}}, scissor)
	assert.Equal(t, [4]int{3, 1, 0, 0}, gputest.Find(cmds, gputest.OpDraw)[0].Counts)
}

func TestAppSkyToggle(t *testing.T) {
	b := gputest.New()
	window := platformtest.New(800, 600,
		platformtest.Frame{},
		platformtest.Frame{Pressed: []platform.Key{platform.KeyF1}},
		platformtest.Frame{},
		platformtest.Frame{Pressed: []platform.Key{platform.KeyF1}},
	)
	a := newTestApp(t, b, window, testConfig(t))
	assert.False(t, a.SkyEnabled())
	require.NoError(t, a.Run())
	assert.Empty(t, b.Violations)

	subs := frameSubmissions(b)
	require.Len(t, subs, 4)
	var draws, dispatches []int
	for _, s := range subs {
		draws = append(draws, len(gputest.Find(s.Commands[0], gputest.OpDraw)))
		dispatches = append(dispatches, len(gputest.Find(s.Commands[0], gputest.OpDispatch)))
	}
	assert.Equal(t, []int{1, 2, 2, 1}, draws)
	assert.Equal(t, []int{0, 1, 1, 0}, dispatches)

	sky := subs[1].Commands[0]
	assert.Equal(t, []gputest.Op{
		gputest.OpBarrier,
		gputest.OpBindPipeline,
		gputest.OpBindDescriptorSets,
		gputest.OpDispatch,
		gputest.OpBarrier,
		gputest.OpBarrier,
		gputest.OpBarrier,
		gputest.OpBeginRendering,
		gputest.OpBindPipeline,
		gputest.OpBindDescriptorSets,
		gputest.OpSetViewport,
		gputest.OpSetScissor,
		gputest.OpDraw,
		gputest.OpBindPipeline,
		gputest.OpBindDescriptorSets,
		gputest.OpBindVertexBuffers,
		gputest.OpSetViewport,
		gputest.OpSetScissor,
		gputest.OpDraw,
		gputest.OpEndRendering,
		gputest.OpBarrier,
	}, gputest.Ops(sky))
	assert.Equal(t, [4]int{24, 14, 1, 0}, gputest.Find(sky, gputest.OpDispatch)[0].Counts)
	barriers := gputest.Find(sky, gputest.OpBarrier)
	assert.Equal(t, gpu.ImageLayoutGeneral, barriers[0].Barrier.NewLayout)
	assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, barriers[1].Barrier.NewLayout)
	assert.Equal(t, gpu.AccessShaderWrite, barriers[1].Barrier.SrcAccess)
	assert.Equal(t, gpu.AccessShaderRead, barriers[1].Barrier.DstAccess)
}

func TestAppSkyStartsEnabledFromConfig(t *testing.T) {
	b := gputest.New()
	cfg := testConfig(t)
	cfg.Sky = true
	a := newTestApp(t, b, platformtest.New(800, 600, platformtest.Frame{}), cfg)
	assert.True(t, a.SkyEnabled())
	require.NoError(t, a.Run())

	subs := frameSubmissions(b)
	require.Len(t, subs, 1)
	assert.Len(t, gputest.Find(subs[0].Commands[0], gputest.OpDraw), 2)
}

func TestAppCapture(t *testing.T) {
	b := gputest.New()
	cfg := testConfig(t)
	cfg.CaptureFormat = config.CapturePNG
	window := platformtest.New(800, 600,
		platformtest.Frame{},
		platformtest.Frame{Pressed: []platform.Key{platform.KeyF2}},
		platformtest.Frame{Pressed: []platform.Key{platform.KeyF2}},
	)
	a := newTestApp(t, b, window, cfg)
	require.NoError(t, a.Run())
	assert.Empty(t, b.Violations)
	assertAllDestroyed(t, b)

	assert.Equal(t, 2, a.Captures())
	for _, name := range []string{"skyview_000.png", "skyview_001.png"} {
		info, err := os.Stat(filepath.Join(cfg.OutputDir, name))
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	var copies []gputest.Command
	for _, s := range b.Submissions {
		for _, cmds := range s.Commands {
			copies = append(copies, gputest.Find(cmds, gputest.OpCopyImageToBuffer)...)
		}
	}
	require.Len(t, copies, 2)
	assert.Equal(t, gpu.ImageLayoutTransferSrcOptimal, copies[0].Layout)
	assert.Equal(t, SkyViewExtent, copies[0].Extent)
}

func TestAppCaptureFailureKeepsRunning(t *testing.T) {
	b := gputest.New()
	cfg := testConfig(t)
	cfg.OutputDir = filepath.Join(cfg.OutputDir, "missing")
	window := platformtest.New(800, 600,
		platformtest.Frame{Pressed: []platform.Key{platform.KeyF2}},
		platformtest.Frame{},
	)
	a := newTestApp(t, b, window, cfg)
	require.NoError(t, a.Run())
	assert.Zero(t, a.Captures())
	assert.Len(t, frameSubmissions(b), 2)
	assertAllDestroyed(t, b)
}

func TestAppEscapeQuits(t *testing.T) {
	b := gputest.New()
	window := platformtest.New(800, 600,
		platformtest.Frame{},
		platformtest.Frame{Pressed: []platform.Key{platform.KeyEscape}},
		platformtest.Frame{},
		platformtest.Frame{},
	)
	a := newTestApp(t, b, window, testConfig(t))
	require.NoError(t, a.Run())
	assert.Equal(t, 2, window.Polls)
	assert.Len(t, frameSubmissions(b), 1)
	assert.Equal(t, StageDestroyed, a.Context().Stage())
}

func TestAppResizeRebuildsSwapchainAndDepth(t *testing.T) {
	b := gputest.New()
	b.Support.Capabilities.CurrentExtent = gpu.Extent2D{Width: -1, Height: -1}
	window := platformtest.New(800, 600,
		platformtest.Frame{},
		platformtest.Frame{Resize: &[2]int{1024, 512}},
	)
	a := newTestApp(t, b, window, testConfig(t))
	assert.InDelta(t, 800.0/600.0, a.Camera().Aspect(), 1e-6)

	require.NoError(t, a.Run())
	assert.Empty(t, b.Violations)
	assertAllDestroyed(t, b)
	assert.Equal(t, 2, created(b, "swapchain"))
	// Three lookup tables plus the original and the resized depth image.
	assert.Equal(t, 5, created(b, "image"))

	assert.InDelta(t, 2.0, a.Camera().Aspect(), 1e-6)
	subs := frameSubmissions(b)
	require.Len(t, subs, 2)
	viewport := gputest.Find(subs[1].Commands[0], gputest.OpSetViewport)[0].Viewport
	assert.Equal(t, float32(1024), viewport.Width)
	assert.Equal(t, float32(512), viewport.Height)
	rendering := gputest.Find(subs[1].Commands[0], gputest.OpBeginRendering)[0].Rendering
	assert.Equal(t, gpu.Extent2D{Width: 1024, Height: 512}, rendering.Area.Extent)
}

func TestAppMinimizedSkipsFrames(t *testing.T) {
	b := gputest.New()
	window := platformtest.New(800, 600,
		platformtest.Frame{Resize: &[2]int{0, 0}},
		platformtest.Frame{},
		platformtest.Frame{Resize: &[2]int{800, 600}},
	)
	a := newTestApp(t, b, window, testConfig(t))
	require.NoError(t, a.Run())
	assert.Len(t, frameSubmissions(b), 1)
	assert.Equal(t, 2, created(b, "swapchain"))
	assert.Empty(t, b.Violations)
	// Both polls made while minimized block instead of spinning.
	assert.Equal(t, 2, window.Waits)
	assert.Equal(t, 4, window.Polls)
}

func TestAppWarnsWhenImageCountChanges(t *testing.T) {
	var buf bytes.Buffer
	logging.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { logging.SetLogger(nil) })

	b := gputest.New()
	window := platformtest.New(800, 600,
		platformtest.Frame{},
		platformtest.Frame{Resize: &[2]int{640, 480}},
	)
	a := newTestApp(t, b, window, testConfig(t))
	require.Equal(t, 3, a.Context().Swapchain.Len())
	b.Support.Capabilities.MinImageCount = 4

	require.NoError(t, a.Run())
	assert.Empty(t, b.Violations)
	assertAllDestroyed(t, b)
	assert.Len(t, frameSubmissions(b), 2)
	assert.Contains(t, buf.String(), "swapchain image count no longer matches frames in flight")
	assert.Contains(t, buf.String(), "images=5 frames=3")
}

func TestAppOutOfDateAcquireRecreates(t *testing.T) {
	b := gputest.New()
	b.AcquireResults = []gpu.Result{gpu.ResultOutOfDate}
	b.PresentResults = []gpu.Result{gpu.ResultSuboptimal}
	window := platformtest.New(800, 600, platformtest.Frame{}, platformtest.Frame{}, platformtest.Frame{})
	a := newTestApp(t, b, window, testConfig(t))
	require.NoError(t, a.Run())
	assert.Empty(t, b.Violations)
	assertAllDestroyed(t, b)

	assert.Len(t, frameSubmissions(b), 2)
	assert.Equal(t, 3, created(b, "swapchain"))
}

func TestAppFenceTimeoutStopsRun(t *testing.T) {
	b := gputest.New()
	cfg := testConfig(t)
	cfg.FenceTimeout = time.Millisecond
	window := platformtest.New(800, 600,
		platformtest.Frame{}, platformtest.Frame{}, platformtest.Frame{},
		platformtest.Frame{}, platformtest.Frame{},
	)
	a := newTestApp(t, b, window, cfg)
	b.HangFences = true

	err := a.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrTimeout))
	assert.Len(t, frameSubmissions(b), 3)
	assert.Equal(t, StageDestroyed, a.Context().Stage())
	assertAllDestroyed(t, b)
}

func TestNewUnwindsOnFailure(t *testing.T) {
	for _, op := range []string{"CreateSwapchain", "CreateImage", "CreateComputePipeline", "CreateGraphicsPipeline", "CreateQueryPool", "Submit"} {
		t.Run(op, func(t *testing.T) {
			b := gputest.New()
			b.Fail(op, errors.New("injected"))
			window := platformtest.New(800, 600)

			a, err := New(testConfig(t), window, b, testShaders())
			require.Error(t, err)
			assert.Nil(t, a)
			assert.True(t, errors.Is(err, ErrInitialization))
			assert.Contains(t, err.Error(), "injected")
			assert.Equal(t, 1, window.Destroyed)
			assert.Empty(t, b.Violations)
			assertAllDestroyed(t, b)
		})
	}
}

func TestNewMissingShader(t *testing.T) {
	b := gputest.New()
	shaders := testShaders()
	delete(shaders, SkyFragmentShader)

	_, err := New(testConfig(t), platformtest.New(800, 600), b, shaders)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInitialization))
	assert.Contains(t, err.Error(), SkyFragmentShader)
	assertAllDestroyed(t, b)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	b := gputest.New()
	cfg := testConfig(t)
	cfg.Width = 0
	window := platformtest.New(800, 600)

	_, err := New(cfg, window, b, testShaders())
	assert.True(t, errors.Is(err, config.ErrInvalid))
	assert.True(t, errors.Is(err, ErrInitialization))
	assert.Equal(t, 1, window.Destroyed)
	assert.Empty(t, b.Log)
}

func TestNewWithoutProfiling(t *testing.T) {
	b := gputest.New()
	cfg := testConfig(t)
	cfg.Profile = false
	a := newTestApp(t, b, platformtest.New(800, 600), cfg)
	assert.Nil(t, a.timings)
	assert.Zero(t, b.Live("query pool"))
	require.NoError(t, a.Run())
}

// created counts the objects of kind ever created.
func created(b *gputest.Backend, kind string) int {
	prefix := "create " + kind + " #"
	n := 0
	for _, e := range b.Log {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}
