// Package sdlwindow implements platform.Window on SDL2.
package sdlwindow

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/vkngwrapper/atmosphere/internal/logging"
	"github.com/vkngwrapper/atmosphere/internal/platform"
)

// waitTimeout bounds WaitEvents, in milliseconds.
const waitTimeout = 100

var scancodes = map[sdl.Scancode]platform.Key{
	sdl.SCANCODE_W:      platform.KeyW,
	sdl.SCANCODE_A:      platform.KeyA,
	sdl.SCANCODE_S:      platform.KeyS,
	sdl.SCANCODE_D:      platform.KeyD,
	sdl.SCANCODE_Q:      platform.KeyQ,
	sdl.SCANCODE_E:      platform.KeyE,
	sdl.SCANCODE_LSHIFT: platform.KeyLeftShift,
	sdl.SCANCODE_F1:     platform.KeyF1,
	sdl.SCANCODE_F2:     platform.KeyF2,
	sdl.SCANCODE_ESCAPE: platform.KeyEscape,
}

// Window is a resizable Vulkan-capable SDL window.
type Window struct {
	window *sdl.Window

	down    map[platform.Key]bool
	pressed map[platform.Key]bool
	buttons map[platform.MouseButton]bool
	cursorX float64
	cursorY float64

	closing bool
	resized bool
}

// Open initializes SDL video and creates the window.
func Open(title string, width, height int) (*Window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "initialize sdl video")
	}

	window, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(width), int32(height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "create window")
	}

	logging.Logger().Info("window created", "title", title, "width", width, "height", height)
	return &Window{
		window:  window,
		down:    map[platform.Key]bool{},
		pressed: map[platform.Key]bool{},
		buttons: map[platform.MouseButton]bool{},
	}, nil
}

// VulkanProcAddr is the vkGetInstanceProcAddr SDL loaded for this window.
func (w *Window) VulkanProcAddr() unsafe.Pointer {
	return sdl.VulkanGetVkGetInstanceProcAddr()
}

func (w *Window) Native() any { return w.window }

func (w *Window) InstanceExtensions() ([]string, error) {
	extensions := w.window.VulkanGetInstanceExtensions()
	if len(extensions) == 0 {
		return nil, errors.Newf("sdl reports no vulkan instance extensions: %s", sdl.GetError())
	}
	return extensions, nil
}

func (w *Window) DrawableSize() (int, int) {
	width, height := w.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

func (w *Window) Minimized() bool {
	return w.window.GetFlags()&sdl.WINDOW_MINIMIZED != 0
}

func (w *Window) PollEvents() {
	clear(w.pressed)
	w.drain()
}

// WaitEvents sleeps until an event arrives or waitTimeout passes, then
// drains the queue like PollEvents.
func (w *Window) WaitEvents() {
	clear(w.pressed)
	if event := sdl.WaitEventTimeout(waitTimeout); event != nil {
		w.handle(event)
	}
	w.drain()
}

func (w *Window) drain() {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		w.handle(event)
	}
}

func (w *Window) handle(event sdl.Event) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		w.closing = true
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED, sdl.WINDOWEVENT_RESTORED:
			w.resized = true
		}
	case *sdl.KeyboardEvent:
		key, ok := scancodes[e.Keysym.Scancode]
		if !ok {
			return
		}
		if e.Type == sdl.KEYDOWN {
			if e.Repeat == 0 {
				w.pressed[key] = true
			}
			w.down[key] = true
		} else {
			w.down[key] = false
		}
	case *sdl.MouseButtonEvent:
		var button platform.MouseButton
		switch e.Button {
		case sdl.BUTTON_LEFT:
			button = platform.MouseLeft
		case sdl.BUTTON_RIGHT:
			button = platform.MouseRight
		default:
			return
		}
		w.buttons[button] = e.State == sdl.PRESSED
	case *sdl.MouseMotionEvent:
		w.cursorX, w.cursorY = float64(e.X), float64(e.Y)
	}
}

func (w *Window) ShouldClose() bool { return w.closing }

func (w *Window) TakeResized() bool {
	r := w.resized
	w.resized = false
	return r
}

func (w *Window) KeyDown(k platform.Key) bool { return w.down[k] }
func (w *Window) KeyPressed(k platform.Key) bool { return w.pressed[k] }
func (w *Window) MouseButtonDown(b platform.MouseButton) bool { return w.buttons[b] }
func (w *Window) CursorPosition() (float64, float64) { return w.cursorX, w.cursorY }

func (w *Window) Destroy() {
	if w.window == nil {
		return
	}
	if err := w.window.Destroy(); err != nil {
		logging.Logger().Warn("destroy window", "error", err)
	}
	w.window = nil
	sdl.Quit()
}
