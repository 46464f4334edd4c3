package graphics

import (
	"unsafe"

	"github.com/xlab/linmath"
)

// Camera produces the view and projection matrices for a perspective
// camera. Projection flips Y so clip space matches Vulkan's downward Y.
type Camera struct {
	Position linmath.Vec3
	Target   linmath.Vec3
	Up       linmath.Vec3

	// FOV is the vertical field of view in radians.
	FOV       float32
	Near, Far float32
}

// NewCamera returns a camera at position looking at target with sane
// projection defaults.
func NewCamera(position, target linmath.Vec3) *Camera {
	return &Camera{
		Position: position,
		Target:   target,
		Up:       linmath.Vec3{0, 1, 0},
		FOV:      linmath.DegreesToRadians(45),
		Near:     0.1,
		Far:      100,
	}
}

// View returns the look-at view matrix.
func (c *Camera) View() linmath.Mat4x4 {
	var view linmath.Mat4x4
	view.LookAt(&c.Position, &c.Target, &c.Up)
	return view
}

// Projection returns the perspective projection for an aspect ratio.
func (c *Camera) Projection(width, height int) linmath.Mat4x4 {
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}
	var proj linmath.Mat4x4
	proj.Perspective(c.FOV, aspect, c.Near, c.Far)
	proj[1][1] *= -1
	return proj
}

// ViewProjection returns projection * view.
func (c *Camera) ViewProjection(width, height int) linmath.Mat4x4 {
	var vp linmath.Mat4x4
	proj := c.Projection(width, height)
	view := c.View()
	vp.Mult(&proj, &view)
	return vp
}

// Mat4Bytes reinterprets a matrix as the 64 bytes a shader block member
// expects, column major as linmath stores it.
func Mat4Bytes(m *linmath.Mat4x4) []byte {
	return ToBytes(unsafe.Pointer(m), int(unsafe.Sizeof(*m)))
}
