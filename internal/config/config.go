// Package config holds the renderer's runtime settings.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/timing"
)

// ErrInvalid marks every validation failure.
var ErrInvalid = errors.New("invalid config")

type CaptureFormat string

const (
	CaptureEXR CaptureFormat = "exr"
	CapturePNG CaptureFormat = "png"
)

type Config struct {
	Width  int
	Height int
	Title  string

	// Validation enables the Khronos validation layer and routes its
	// messages to the logger.
	Validation bool

	// ShaderDir holds the compiled SPIR-V files.
	ShaderDir string
	// OutputDir is where captures are written.
	OutputDir     string
	CaptureFormat CaptureFormat

	// Sky starts with the sky pass enabled; F1 toggles it at runtime.
	Sky bool
	// Profile times the LUT passes once at startup and logs the result.
	Profile        bool
	TimingCapacity int

	// FenceTimeout bounds every per-frame wait. gpu.NoTimeout waits
	// forever.
	FenceTimeout time.Duration

	LogLevel slog.Level
}

func Default() Config {
	return Config{
		Width:          800,
		Height:         600,
		Title:          "Atmosphere",
		Validation:     true,
		ShaderDir:      "shaders",
		OutputDir:      ".",
		CaptureFormat:  CaptureEXR,
		Profile:        true,
		TimingCapacity: timing.DefaultCapacity,
		FenceTimeout:   gpu.NoTimeout,
		LogLevel:       slog.LevelInfo,
	}
}

func invalid(field, format string, args ...any) error {
	return errors.Wrapf(ErrInvalid, "%s: %s", field, fmt.Sprintf(format, args...))
}

func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return invalid("Width/Height", "window size %dx%d must be positive", c.Width, c.Height)
	}
	if c.ShaderDir == "" {
		return invalid("ShaderDir", "must not be empty")
	}
	if c.OutputDir == "" {
		return invalid("OutputDir", "must not be empty")
	}
	switch c.CaptureFormat {
	case CaptureEXR, CapturePNG:
	default:
		return invalid("CaptureFormat", "unknown format %q", c.CaptureFormat)
	}
	if c.TimingCapacity < 2 {
		return invalid("TimingCapacity", "%d cannot hold one interval", c.TimingCapacity)
	}
	if c.FenceTimeout <= 0 {
		return invalid("FenceTimeout", "%s must be positive", c.FenceTimeout)
	}
	return nil
}

// RegisterFlags binds every field to fs, with the current values as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Width, "width", c.Width, "window width in pixels")
	fs.IntVar(&c.Height, "height", c.Height, "window height in pixels")
	fs.StringVar(&c.Title, "title", c.Title, "window title")
	fs.BoolVar(&c.Validation, "validation", c.Validation, "enable the Vulkan validation layer")
	fs.StringVar(&c.ShaderDir, "shaders", c.ShaderDir, "directory of compiled SPIR-V shaders")
	fs.StringVar(&c.OutputDir, "out", c.OutputDir, "directory captures are written to")
	fs.Func("capture-format", "capture file format, exr or png (default exr)", func(s string) error {
		c.CaptureFormat = CaptureFormat(s)
		return nil
	})
	fs.BoolVar(&c.Sky, "sky", c.Sky, "start with the sky pass enabled")
	fs.BoolVar(&c.Profile, "profile", c.Profile, "time the lookup table passes at startup")
	fs.IntVar(&c.TimingCapacity, "timing-capacity", c.TimingCapacity, "timestamp query pool size")
	fs.DurationVar(&c.FenceTimeout, "fence-timeout", c.FenceTimeout, "longest wait for a frame fence")
	fs.TextVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
}
