package frame

import (
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/gpu/gputest"
	"github.com/vkngwrapper/atmosphere/internal/swapchain"
)

type window struct{}

func (window) DrawableSize() (int, int) { return 800, 600 }

type fixture struct {
	b     *gputest.Backend
	dev   gpu.Device
	chain *swapchain.Manager
}

func newFixture(t *testing.T) *fixture {
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
	chain := swapchain.New(dev, surface, window{})
	require.NoError(t, chain.Create(nil))
	return &fixture{b: b, dev: dev, chain: chain}
}

func (f *fixture) record(cmd gpu.CommandBuffer, slot, image int) error {
	if err := cmd.BeginRendering(gpu.RenderingInfo{
		Area:             gpu.Rect2D{Extent: f.chain.Extent()},
		ColorAttachments: []gpu.RenderingAttachment{{View: f.chain.View(image).Handle()}},
	}); err != nil {
		return err
	}
	cmd.Draw(3, 1, 0, 0)
	cmd.EndRendering()
	return nil
}

func (f *fixture) recreate() error {
	_, err := f.chain.Recreate()
	return err
}

func indices(log []string, event string) []int {
	var out []int
	for i, e := range log {
		if e == event {
			out = append(out, i)
		}
	}
	return out
}

func TestDrawWaitsOnSlotFenceBeforeReuse(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.dev, f.chain.Len(), gpu.NoTimeout)
	require.NoError(t, err)

	for i := 0; i < s.Len()+1; i++ {
		out, err := s.Draw(f.chain, f.record, f.recreate)
		require.NoError(t, err)
		require.Equal(t, OutcomePresented, out)
	}
	require.Empty(t, f.b.Violations)
	require.Equal(t, 1, s.Current())
	require.Len(t, f.b.Submissions, 4)

	fence := s.Slot(0).InFlight.(*gputest.Fence)
	waits := indices(f.b.Log, "wait fences #"+fmt.Sprint(fence.ID))
	resets := indices(f.b.Log, fmt.Sprintf("reset fence #%d", fence.ID))
	submits := indices(f.b.Log, fmt.Sprintf("submit fence #%d", fence.ID))
	require.Len(t, waits, 2)
	require.Len(t, resets, 2)
	require.Len(t, submits, 2)

	// The second use of slot 0 waits on the fence its first submission
	// carried before resetting it.
	require.Less(t, submits[0], waits[1])
	require.Less(t, waits[1], resets[1])
	require.Less(t, resets[1], submits[1])

	first, last := f.b.Submissions[0], f.b.Submissions[3]
	require.Same(t, first.Fence, last.Fence)
	require.Equal(t, []gpu.PipelineStage{gpu.PipelineStageColorAttachmentOutput}, first.WaitStages)
	require.Equal(t, []gputest.Op{gputest.OpBeginRendering, gputest.OpDraw, gputest.OpEndRendering},
		gputest.Ops(first.Commands[0]))
}

func TestDrawAbandonsFrameWhenAcquireIsOutOfDate(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.dev, f.chain.Len(), gpu.NoTimeout)
	require.NoError(t, err)

	recreated := 0
	f.b.AcquireResults = []gpu.Result{gpu.ResultOutOfDate}
	out, err := s.Draw(f.chain, f.record, func() error {
		recreated++
		return f.recreate()
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAbandoned, out)
	require.Equal(t, 1, recreated)
	require.Equal(t, 0, s.Current())
	require.Empty(t, f.b.Submissions)

	// The fence was never reset, so the retry does not deadlock.
	out, err = s.Draw(f.chain, f.record, f.recreate)
	require.NoError(t, err)
	require.Equal(t, OutcomePresented, out)
	require.Equal(t, 1, s.Current())
	require.Empty(t, f.b.Violations)
}

func TestDrawRecreatesAfterSuboptimalPresent(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.dev, f.chain.Len(), gpu.NoTimeout)
	require.NoError(t, err)

	oldChain := f.chain.Handle()
	f.b.PresentResults = []gpu.Result{gpu.ResultSuboptimal}
	out, err := s.Draw(f.chain, f.record, f.recreate)
	require.NoError(t, err)
	require.Equal(t, OutcomeRecreated, out)
	require.Equal(t, 1, s.Current())
	require.NotSame(t, oldChain, f.chain.Handle())
	require.Len(t, f.b.Submissions, 1)
	require.Empty(t, f.b.Violations)
}

func TestDrawTimesOutOnHungFence(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.dev, 1, 10*time.Millisecond)
	require.NoError(t, err)

	_, err = s.Draw(f.chain, f.record, f.recreate)
	require.NoError(t, err)

	f.b.HangFences = true
	out, err := s.Draw(f.chain, f.record, f.recreate)
	require.Error(t, err)
	require.True(t, errors.Is(err, gpu.ErrTimeout))
	require.Equal(t, OutcomeAbandoned, out)
	require.Len(t, f.b.Submissions, 1)
}

func TestDrawPropagatesRecordError(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.dev, 2, gpu.NoTimeout)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Draw(f.chain, func(gpu.CommandBuffer, int, int) error { return boom }, f.recreate)
	require.ErrorIs(t, err, boom)
	require.Empty(t, f.b.Submissions)
}

func TestResizeReplacesSlots(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.dev, 3, gpu.NoTimeout)
	require.NoError(t, err)

	_, err = s.Draw(f.chain, f.record, f.recreate)
	require.NoError(t, err)
	require.NoError(t, f.dev.WaitIdle())

	require.NoError(t, s.Resize(2))
	require.Equal(t, 2, s.Len())
	require.Equal(t, 0, s.Current())
	require.Equal(t, 2, f.b.Live("fence"))
	require.Equal(t, 4, f.b.Live("semaphore"))
	require.Equal(t, 2, f.b.Live("command buffer"))

	require.Error(t, s.Resize(0))

	s.Destroy()
	require.Equal(t, 0, f.b.Live("fence"))
	require.Equal(t, 0, f.b.Live("semaphore"))
	require.Equal(t, 0, f.b.Live("command pool"))
	require.Empty(t, f.b.Violations)
}

func TestNewRejectsZeroFrames(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.dev, 0, gpu.NoTimeout)
	require.Error(t, err)
}
