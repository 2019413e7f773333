// Package worldtime tracks frame time for animation and camera movement.
package worldtime

import (
	"time"

	"github.com/loov/hrtime"
)

// Source reports a monotonic time since some fixed origin.
type Source interface {
	Now() time.Duration
}

type SourceFunc func() time.Duration

func (f SourceFunc) Now() time.Duration { return f() }

// HighResolution reads the process's high resolution timer.
var HighResolution Source = SourceFunc(hrtime.Now)

// Clock measures the time between consecutive ticks.
type Clock struct {
	src     Source
	start   time.Duration
	last    time.Duration
	elapsed float32
	ticked  bool
}

// New returns a clock on src, or on HighResolution when src is nil.
func New(src Source) *Clock {
	if src == nil {
		src = HighResolution
	}
	return &Clock{src: src}
}

// Tick samples the source and returns the seconds since the previous tick.
// The first tick returns zero.
func (c *Clock) Tick() float32 {
	now := c.src.Now()
	if !c.ticked {
		c.start, c.last, c.ticked = now, now, true
		c.elapsed = 0
		return 0
	}
	c.elapsed = float32((now - c.last).Seconds())
	c.last = now
	return c.elapsed
}

// Elapsed is what the last Tick returned.
func (c *Clock) Elapsed() float32 { return c.elapsed }

// Since is the time from the first tick to the last.
func (c *Clock) Since() time.Duration { return c.last - c.start }
