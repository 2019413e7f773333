// Package platform describes the window and input the renderer needs.
// sdlwindow implements it on SDL2; platformtest implements a scripted fake.
package platform

type Key int

const (
	KeyW Key = iota
	KeyA
	KeyS
	KeyD
	KeyQ
	KeyE
	KeyLeftShift
	KeyF1
	KeyF2
	KeyEscape
)

var keyNames = [...]string{"W", "A", "S", "D", "Q", "E", "LeftShift", "F1", "F2", "Escape"}

func (k Key) String() string {
	if k < 0 || int(k) >= len(keyNames) {
		return "Unknown"
	}
	return keyNames[k]
}

type MouseButton int

const (
	MouseLeft MouseButton = iota
	MouseRight
)

// Input is the state the last PollEvents left behind.
type Input interface {
	KeyDown(k Key) bool
	// KeyPressed reports whether k went down during the last PollEvents.
	KeyPressed(k Key) bool
	MouseButtonDown(b MouseButton) bool
	CursorPosition() (x, y float64)
}

type Window interface {
	Input

	// Native returns the windowing library's handle, for surface creation.
	Native() any
	// InstanceExtensions lists the instance extensions presenting to this
	// window requires.
	InstanceExtensions() ([]string, error)
	// DrawableSize is the size in pixels; zero while minimized.
	DrawableSize() (width, height int)

	PollEvents()
	// WaitEvents is PollEvents that may block until input arrives, for
	// idling while there is nothing to draw.
	WaitEvents()
	ShouldClose() bool
	Minimized() bool
	// TakeResized reports whether the window was resized since the last
	// call, and clears the flag.
	TakeResized() bool

	Destroy()
}
