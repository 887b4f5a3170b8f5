package math

import "github.com/go-gl/mathgl/mgl32"

/**
 * @brief Represents a local transform, either as translation/rotation/scale
 * or as a raw matrix. When Matrix is set it takes precedence.
 */
type Transform struct {
	/** @brief The position relative to the parent. */
	Position Vec3
	/** @brief The rotation relative to the parent. */
	Rotation Quat
	/** @brief The scale relative to the parent. */
	Scale Vec3
	/** @brief An explicit local matrix; overrides TRS when non-nil. */
	Matrix *Mat4
}

func TransformCreate() Transform {
	return Transform{
		Position: Vec3{0, 0, 0},
		Rotation: mgl32.QuatIdent(),
		Scale:    Vec3{1, 1, 1},
	}
}

func TransformFromPosition(position Vec3) Transform {
	t := TransformCreate()
	t.Position = position
	return t
}

func TransformFromPositionRotationScale(position Vec3, rotation Quat, scale Vec3) Transform {
	return Transform{Position: position, Rotation: rotation, Scale: scale}
}

func TransformFromMatrix(m Mat4) Transform {
	t := TransformCreate()
	t.Matrix = &m
	return t
}

// Local returns T * R * S, or the explicit matrix.
func (t Transform) Local() Mat4 {
	if t.Matrix != nil {
		return *t.Matrix
	}
	rotation := t.Rotation
	if rotation.Len() == 0 {
		rotation = mgl32.QuatIdent()
	}
	tr := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	s := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	return tr.Mul4(rotation.Normalize().Mat4()).Mul4(s)
}
