package gpu

import "github.com/cockroachdb/errors"

// Result is the non-fatal outcome of a call that can legitimately come back
// without doing its work.
type Result int

const (
	ResultSuccess Result = iota
	ResultSuboptimal
	ResultOutOfDate
	ResultNotReady
	ResultTimeout
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultSuboptimal:
		return "suboptimal"
	case ResultOutOfDate:
		return "out of date"
	case ResultNotReady:
		return "not ready"
	case ResultTimeout:
		return "timeout"
	}
	return "unknown result"
}

// NeedsRecreate reports whether the swapchain should be rebuilt after an
// acquire or present returned r.
func (r Result) NeedsRecreate() bool {
	return r == ResultOutOfDate || r == ResultSuboptimal
}

var (
	ErrNoSuitableDevice  = errors.New("no suitable physical device")
	ErrNoSupportedFormat = errors.New("no supported format")
	ErrTimeout           = errors.New("timed out waiting on the device")
)
