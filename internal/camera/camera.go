// Package camera is a free-fly camera driven by mouse-look and WASD/QE.
package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/atmosphere/internal/platform"
)

const (
	DefaultSpeed       = 2
	DefaultSensitivity = 0.2
	DefaultFOV         = 45
	DefaultNear        = 0.1
	DefaultFar         = 100

	maxPitch = 89
)

var worldUp = mgl32.Vec3{0, 1, 0}

// Camera looks along a forward vector rebuilt from yaw and pitch, both in
// degrees. It only moves or turns while the right mouse button is held.
type Camera struct {
	Position mgl32.Vec3

	Speed       float32
	Sensitivity float32

	forward    mgl32.Vec3
	yaw, pitch float32

	fov, aspect, near, far float32
	projection             mgl32.Mat4

	cursorX, cursorY float64
	cursorKnown      bool
}

// New places a camera at position looking down +Z.
func New(position mgl32.Vec3, aspect float32) *Camera {
	c := &Camera{
		Position:    position,
		Speed:       DefaultSpeed,
		Sensitivity: DefaultSensitivity,
		fov:         DefaultFOV,
		near:        DefaultNear,
		far:         DefaultFar,
	}
	c.LookAlong(mgl32.Vec3{0, 0, 1})
	c.SetAspectRatio(aspect)
	return c
}

// LookAlong points the camera along dir and derives yaw and pitch from it.
func (c *Camera) LookAlong(dir mgl32.Vec3) {
	dir = dir.Normalize()
	c.yaw = mgl32.RadToDeg(float32(math.Atan2(float64(dir.Z()), float64(dir.X()))))
	c.pitch = mgl32.Clamp(mgl32.RadToDeg(float32(math.Asin(float64(dir.Y())))), -maxPitch, maxPitch)
	c.rebuildForward()
}

func (c *Camera) rebuildForward() {
	yaw := float64(mgl32.DegToRad(c.yaw))
	pitch := float64(mgl32.DegToRad(c.pitch))
	c.forward = mgl32.Vec3{
		float32(math.Cos(yaw) * math.Cos(pitch)),
		float32(math.Sin(pitch)),
		float32(math.Sin(yaw) * math.Cos(pitch)),
	}.Normalize()
}

// Update applies one frame of input over elapsed seconds.
func (c *Camera) Update(in platform.Input, elapsed float32) {
	x, y := in.CursorPosition()
	// Cached minus current: screen y grows downward.
	dx, dy := float32(c.cursorX-x), float32(c.cursorY-y)
	if !c.cursorKnown {
		dx, dy = 0, 0
		c.cursorKnown = true
	}
	c.cursorX, c.cursorY = x, y

	if !in.MouseButtonDown(platform.MouseRight) {
		return
	}

	boost := float32(1)
	if in.KeyDown(platform.KeyLeftShift) {
		boost = 2
	}
	step := c.Speed * boost * elapsed
	right := c.forward.Cross(worldUp).Normalize()

	var move mgl32.Vec3
	if in.KeyDown(platform.KeyW) {
		move = move.Add(c.forward)
	}
	if in.KeyDown(platform.KeyS) {
		move = move.Sub(c.forward)
	}
	if in.KeyDown(platform.KeyD) {
		move = move.Add(right)
	}
	if in.KeyDown(platform.KeyA) {
		move = move.Sub(right)
	}
	if in.KeyDown(platform.KeyE) {
		move = move.Add(worldUp)
	}
	if in.KeyDown(platform.KeyQ) {
		move = move.Sub(worldUp)
	}
	c.Position = c.Position.Add(move.Mul(step))

	c.yaw -= dx * c.Sensitivity
	c.pitch = mgl32.Clamp(c.pitch+dy*c.Sensitivity, -maxPitch, maxPitch)
	c.rebuildForward()
}

func (c *Camera) Forward() mgl32.Vec3 { return c.forward }
func (c *Camera) Yaw() float32 { return c.yaw }
func (c *Camera) Pitch() float32 { return c.pitch }
func (c *Camera) Aspect() float32 { return c.aspect }

func (c *Camera) ViewMatrix() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Position.Add(c.forward), worldUp)
}

// Projection has Y flipped for Vulkan clip space.
func (c *Camera) Projection() mgl32.Mat4 {
	return c.projection
}

func (c *Camera) SetAspectRatio(aspect float32) {
	c.aspect = aspect
	c.projection = mgl32.Perspective(mgl32.DegToRad(c.fov), aspect, c.near, c.far)
	c.projection[5] *= -1
}
