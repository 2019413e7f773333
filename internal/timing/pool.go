// Package timing measures GPU work with timestamp queries. Intervals are
// keyed by a caller-chosen priority, which also orders the results.
package timing

import (
	"cmp"
	"slices"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

const DefaultCapacity = 32

// Result is one closed interval.
type Result struct {
	Label        string
	Priority     int
	Milliseconds float64
}

func (r Result) Duration() time.Duration {
	return time.Duration(r.Milliseconds * float64(time.Millisecond))
}

type interval struct {
	label    string
	priority int
	start    int
	end      int
}

func (i *interval) open() bool { return i.end < 0 }

// Pool hands out timestamp slots in write order. Each priority owns at most
// one interval between resets: the first write opens it, the second closes
// it.
type Pool struct {
	handle   gpu.QueryPool
	capacity int
	period   float32

	next      int
	intervals map[int]*interval
	results   []Result
}

// New creates a pool of capacity timestamps. period is the device's
// nanoseconds per tick.
func New(dev gpu.Device, period float32, capacity int) (*Pool, error) {
	if capacity <= 0 {
		return nil, errors.AssertionFailedf("timing pool capacity %d must be positive", capacity)
	}
	handle, err := dev.CreateQueryPool(capacity)
	if err != nil {
		return nil, errors.Wrap(err, "create timestamp query pool")
	}
	return &Pool{
		handle:    handle,
		capacity:  capacity,
		period:    period,
		intervals: map[int]*interval{},
	}, nil
}

func (p *Pool) Capacity() int { return p.capacity }

// Reset records a reset of every query and forgets all intervals. Results
// already pulled are kept.
func (p *Pool) Reset(cmd gpu.CommandBuffer) {
	cmd.ResetQueryPool(p.handle, 0, p.capacity)
	p.next = 0
	clear(p.intervals)
}

func (p *Pool) write(cmd gpu.CommandBuffer, stage gpu.PipelineStage) (int, error) {
	if p.next >= p.capacity {
		return 0, errors.AssertionFailedf("timestamp %d exceeds pool capacity %d", p.next+1, p.capacity)
	}
	query := p.next
	cmd.WriteTimestamp(stage, p.handle, query)
	p.next++
	return query, nil
}

// WriteTimestamp opens the interval for priority on its first call and
// closes it on the second. A third call before Reset is a violation.
func (p *Pool) WriteTimestamp(cmd gpu.CommandBuffer, stage gpu.PipelineStage, label string, priority int) error {
	iv, ok := p.intervals[priority]
	if !ok {
		return p.Begin(cmd, stage, label, priority)
	}
	if !iv.open() {
		return errors.AssertionFailedf("interval %q at priority %d already closed", iv.label, priority)
	}
	return p.End(cmd, stage, priority)
}

func (p *Pool) Begin(cmd gpu.CommandBuffer, stage gpu.PipelineStage, label string, priority int) error {
	if iv, ok := p.intervals[priority]; ok {
		if iv.open() {
			return errors.AssertionFailedf("interval %q at priority %d begun twice", iv.label, priority)
		}
		return errors.AssertionFailedf("interval %q at priority %d already closed", iv.label, priority)
	}
	query, err := p.write(cmd, stage)
	if err != nil {
		return err
	}
	p.intervals[priority] = &interval{label: label, priority: priority, start: query, end: -1}
	return nil
}

func (p *Pool) End(cmd gpu.CommandBuffer, stage gpu.PipelineStage, priority int) error {
	iv, ok := p.intervals[priority]
	if !ok || !iv.open() {
		return errors.AssertionFailedf("no open interval at priority %d", priority)
	}
	query, err := p.write(cmd, stage)
	if err != nil {
		return err
	}
	iv.end = query
	return nil
}

// RecordWholePipe brackets fn with bottom-of-pipe timestamps, so the
// interval covers all work fn records once earlier work has drained.
func (p *Pool) RecordWholePipe(cmd gpu.CommandBuffer, label string, priority int, fn func() error) error {
	if err := p.Begin(cmd, gpu.PipelineStageBottomOfPipe, label, priority); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return p.End(cmd, gpu.PipelineStageBottomOfPipe, priority)
}

// Results pulls every written timestamp and turns intervals into
// durations, ordered by priority. When the device has not finished, it
// returns the previous results with ready false. Nothing written since the
// last Reset gives no results; Last still holds the earlier ones.
func (p *Pool) Results() ([]Result, bool, error) {
	if p.next == 0 {
		return nil, true, nil
	}
	for _, iv := range p.intervals {
		if iv.open() {
			return p.results, false, errors.AssertionFailedf("interval %q at priority %d was never closed", iv.label, iv.priority)
		}
	}

	ticks := make([]uint64, p.next)
	res, err := p.handle.Results(0, p.next, ticks)
	if err != nil {
		return p.results, false, errors.Wrap(err, "read timestamp queries")
	}
	if res == gpu.ResultNotReady {
		return p.results, false, nil
	}

	results := make([]Result, 0, len(p.intervals))
	for _, iv := range p.intervals {
		var elapsed uint64
		if ticks[iv.end] > ticks[iv.start] {
			elapsed = ticks[iv.end] - ticks[iv.start]
		}
		results = append(results, Result{
			Label:        iv.label,
			Priority:     iv.priority,
			Milliseconds: float64(elapsed) * float64(p.period) * 1e-6,
		})
	}
	slices.SortFunc(results, func(a, b Result) int { return cmp.Compare(a.Priority, b.Priority) })
	p.results = results
	return results, true, nil
}

// Last returns the most recent successfully pulled results.
func (p *Pool) Last() []Result { return p.results }

func (p *Pool) Destroy() {
	if p.handle != nil {
		p.handle.Destroy()
		p.handle = nil
	}
}

// IsViolation reports whether err came from misusing the pool rather than
// from the device.
func IsViolation(err error) bool {
	return errors.HasAssertionFailure(err)
}
