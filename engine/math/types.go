package math

import "github.com/go-gl/mathgl/mgl32"

// Vector, matrix and quaternion types come from mgl32. Matrices are column-major
// and transform column vectors, so a child's world matrix is parent.Mul4(local).
type (
	Vec2 = mgl32.Vec2
	Vec3 = mgl32.Vec3
	Vec4 = mgl32.Vec4
	Mat4 = mgl32.Mat4
	Quat = mgl32.Quat
)

/**
 * @brief Represents the extents of a 3d object.
 */
type Extents3D struct {
	/** @brief The minimum extents of the object. */
	Min Vec3
	/** @brief The maximum extents of the object. */
	Max Vec3
}

// Grow expands the extents to contain p.
func (e *Extents3D) Grow(p Vec3) {
	for i := 0; i < 3; i++ {
		if p[i] < e.Min[i] {
			e.Min[i] = p[i]
		}
		if p[i] > e.Max[i] {
			e.Max[i] = p[i]
		}
	}
}

// Center returns the midpoint of the extents.
func (e Extents3D) Center() Vec3 {
	return e.Min.Add(e.Max).Mul(0.5)
}
