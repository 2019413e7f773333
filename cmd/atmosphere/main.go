// Command atmosphere opens a window and renders the precomputed sky over a
// one-triangle scene. Hold the right mouse button to look around and move
// with WASD, Q and E. F1 toggles the sky, F2 captures the skyview table and
// Escape quits.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"runtime"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/config"
	"github.com/vkngwrapper/atmosphere/internal/logging"
	"github.com/vkngwrapper/atmosphere/internal/platform/sdlwindow"
	"github.com/vkngwrapper/atmosphere/internal/renderer"
	"github.com/vkngwrapper/atmosphere/internal/vulkan"
)

//go:generate glslc ../../shaders/triangle.vert -o ../../shaders/triangle.vert.spv
//go:generate glslc ../../shaders/triangle.frag -o ../../shaders/triangle.frag.spv
//go:generate glslc ../../shaders/sky.vert -o ../../shaders/sky.vert.spv
//go:generate glslc ../../shaders/sky.frag -o ../../shaders/sky.frag.spv
//go:generate glslc ../../shaders/transmittance.comp -o ../../shaders/transmittance.comp.spv
//go:generate glslc ../../shaders/multiscattering.comp -o ../../shaders/multiscattering.comp.spv
//go:generate glslc ../../shaders/skyview.comp -o ../../shaders/skyview.comp.spv

// SDL must be driven from the main thread.
func init() {
	runtime.LockOSThread()
}

func run(cfg config.Config) error {
	window, err := sdlwindow.Open(cfg.Title, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	backend, err := vulkan.New(window.VulkanProcAddr())
	if err != nil {
		window.Destroy()
		return errors.Wrap(err, "load vulkan")
	}

	app, err := renderer.New(cfg, window, backend, os.DirFS(cfg.ShaderDir))
	if err != nil {
		return err
	}
	return app.Run()
}

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if err := run(cfg); err != nil {
		log.Fatalf("%+v\n", err)
	}
}
