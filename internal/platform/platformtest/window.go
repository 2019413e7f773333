// Package platformtest provides a scripted platform.Window.
package platformtest

import (
	"slices"

	"github.com/vkngwrapper/atmosphere/internal/platform"
)

// Frame is the input state one PollEvents call produces.
type Frame struct {
	Down    []platform.Key
	Pressed []platform.Key
	Buttons []platform.MouseButton
	CursorX float64
	CursorY float64
	// Resize, when non-nil, changes the drawable size and flags a resize.
	Resize *[2]int
}

// Window plays Frames back one per PollEvents and asks to close once they
// run out.
type Window struct {
	Width, Height int
	Extensions    []string
	Frames        []Frame

	Polls     int
	Waits     int
	Destroyed int

	current Frame
	closing bool
	resized bool
}

func New(width, height int, frames ...Frame) *Window {
	return &Window{
		Width:      width,
		Height:     height,
		Extensions: []string{"VK_KHR_surface"},
		Frames:     frames,
	}
}

func (w *Window) Native() any { return w }

func (w *Window) InstanceExtensions() ([]string, error) { return w.Extensions, nil }

func (w *Window) DrawableSize() (int, int) { return w.Width, w.Height }

func (w *Window) Minimized() bool { return w.Width == 0 || w.Height == 0 }

func (w *Window) PollEvents() {
	w.Polls++
	if len(w.Frames) == 0 {
		w.current = Frame{CursorX: w.current.CursorX, CursorY: w.current.CursorY}
		w.closing = true
		return
	}
	w.current = w.Frames[0]
	w.Frames = w.Frames[1:]
	if r := w.current.Resize; r != nil {
		w.Width, w.Height = r[0], r[1]
		w.resized = true
	}
}

// WaitEvents plays the next Frame like PollEvents and counts the wait.
func (w *Window) WaitEvents() {
	w.Waits++
	w.PollEvents()
}

func (w *Window) ShouldClose() bool { return w.closing }

func (w *Window) TakeResized() bool {
	r := w.resized
	w.resized = false
	return r
}

func (w *Window) KeyDown(k platform.Key) bool {
	return slices.Contains(w.current.Down, k)
}

func (w *Window) KeyPressed(k platform.Key) bool {
	return slices.Contains(w.current.Pressed, k)
}

func (w *Window) MouseButtonDown(b platform.MouseButton) bool {
	return slices.Contains(w.current.Buttons, b)
}

func (w *Window) CursorPosition() (float64, float64) {
	return w.current.CursorX, w.current.CursorY
}

func (w *Window) Destroy() { w.Destroyed++ }

// Held returns an Input reporting exactly the given state, for driving
// consumers of platform.Input directly.
func Held(x, y float64, buttons []platform.MouseButton, keys ...platform.Key) platform.Input {
	w := &Window{current: Frame{Down: keys, Buttons: buttons, CursorX: x, CursorY: y}}
	return w
}
