package renderer

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/gpu/gputest"
	"github.com/vkngwrapper/atmosphere/internal/platform/platformtest"
)

func precomputeCommands(t *testing.T, b *gputest.Backend) []gputest.Command {
	t.Helper()
	for _, s := range b.Submissions {
		if len(s.WaitSemaphores) > 0 {
			continue
		}
		for _, cmds := range s.Commands {
			if len(gputest.Find(cmds, gputest.OpDispatch)) > 0 {
				return cmds
			}
		}
	}
	require.Fail(t, "no lookup table submission")
	return nil
}

func TestPrecomputeDispatchesInDependencyOrder(t *testing.T) {
	b := gputest.New()
	a := newTestApp(t, b, platformtest.New(800, 600), testConfig(t))
	defer a.Context().Destroy()

	cmds := precomputeCommands(t, b)
	var counts [][4]int
	for _, d := range gputest.Find(cmds, gputest.OpDispatch) {
		counts = append(counts, d.Counts)
	}
	assert.Equal(t, [][4]int{{32, 8, 1, 0}, {4, 4, 1, 0}, {24, 14, 1, 0}}, counts)

	assert.Equal(t, gputest.OpResetQueryPool, cmds[0].Op)
	stamps := gputest.Find(cmds, gputest.OpWriteTimestamp)
	require.Len(t, stamps, 6)
	for i, s := range stamps {
		assert.Equal(t, i, s.Query)
		assert.Equal(t, gpu.PipelineStageBottomOfPipe, s.Stage)
	}

	// Every table ends up readable by shaders.
	for _, l := range []*lut{a.luts.transmittance, a.luts.multiScattering, a.luts.skyView} {
		assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, l.image.Layout(), l.name)
	}
	assert.Len(t, a.luts.skyView.sets, 3)
	assert.Len(t, a.luts.transmittance.sets, 1)
}

func TestPrecomputeWithoutTimings(t *testing.T) {
	b := gputest.New()
	cfg := testConfig(t)
	cfg.Profile = false
	a := newTestApp(t, b, platformtest.New(800, 600), cfg)
	defer a.Context().Destroy()

	cmds := precomputeCommands(t, b)
	assert.Empty(t, gputest.Find(cmds, gputest.OpWriteTimestamp))
	assert.Len(t, gputest.Find(cmds, gputest.OpDispatch), 3)
}

func TestProfileLUTs(t *testing.T) {
	b := gputest.New()
	a := newTestApp(t, b, platformtest.New(800, 600), testConfig(t))
	defer a.Context().Destroy()

	results, err := ProfileLUTs(a.timings)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, name := range []string{"transmittance", "multiscattering", "skyview"} {
		assert.Equal(t, name, results[i].Label)
		assert.Equal(t, i, results[i].Priority)
		// One tick of 1000 at a period of 1ns.
		assert.InDelta(t, 0.001, results[i].Milliseconds, 1e-9)
	}
	assert.Equal(t, results, a.timings.Last())
}

func TestCaptureSkyViewReadsTexels(t *testing.T) {
	b := gputest.New()
	a := newTestApp(t, b, platformtest.New(800, 600), testConfig(t))
	defer a.Context().Destroy()

	extent := SkyViewExtent
	pixels := make([]byte, extent.Width*extent.Height*8)
	half := float16.Fromfloat32(0.5).Bits()
	for i := 0; i < len(pixels); i += 2 {
		binary.LittleEndian.PutUint16(pixels[i:], half)
	}
	a.luts.skyView.image.Handle().(*gputest.Image).Pixels = pixels

	img, err := a.luts.CaptureSkyView(a.Context().Allocator, a.commands, a.Context().Graphics)
	require.NoError(t, err)
	assert.Equal(t, extent.Width, img.Width)
	assert.Equal(t, extent.Height, img.Height)
	require.Len(t, img.Pixels, extent.Width*extent.Height*4)
	assert.Equal(t, half, img.Pixels[0])
	assert.Equal(t, half, img.Pixels[len(img.Pixels)-1])

	assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, a.luts.skyView.image.Layout())
	assert.Zero(t, b.Live("buffer")-len(a.uniforms)-1, "readback buffer left alive")
	assert.Empty(t, b.Violations)
}

func TestNewLUTsNeedsUniforms(t *testing.T) {
	_, err := NewLUTs(nil, nil, testShaders(), nil)
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestDrawRejectsZeroStride(t *testing.T) {
	b := gputest.New()
	a := newTestApp(t, b, platformtest.New(800, 600), testConfig(t))
	defer a.Context().Destroy()

	_, err := Draw{Vertices: a.vertices}.vertexCount()
	assert.True(t, errors.HasAssertionFailure(err))

	n, err := Draw{Vertices: a.vertices, Stride: VertexStride}.vertexCount()
	require.NoError(t, err)
	assert.Equal(t, len(SceneVertices), n)

	n, err = Draw{}.vertexCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
