package math

import (
	stdmath "math"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/constraints"
)

const K_FLOAT_EPSILON float32 = 1.192092896e-07

// Determinants below this fraction of the basis column lengths' product mark a
// transform as non-invertible.
const SingularDeterminantEpsilon float32 = 1e-6

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds v up to the next multiple of alignment. An alignment of zero leaves v unchanged.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}

// MipLevels returns the length of a full mip chain for the given dimensions.
func MipLevels(width, height uint32) uint32 {
	m := width
	if height > m {
		m = height
	}
	if m == 0 {
		return 1
	}
	return uint32(stdmath.Floor(stdmath.Log2(float64(m)))) + 1
}

// IsMirrored reports whether m flips handedness.
func IsMirrored(m Mat4) bool {
	return m.Det() < 0
}

// IsSingular reports whether m is (numerically) non-invertible. The test is
// relative to the basis lengths so small uniform scales stay invertible.
func IsSingular(m Mat4) bool {
	volume := m.Col(0).Vec3().Len() * m.Col(1).Vec3().Len() * m.Col(2).Vec3().Len()
	if volume == 0 {
		return true
	}
	return mgl32.Abs(m.Det())/volume < SingularDeterminantEpsilon
}

// NewMat4PerspectiveVulkan is a right-handed perspective projection mapped to
// Vulkan's clip space (Y down, depth in [0, 1]).
func NewMat4PerspectiveVulkan(fovRadians, aspect, near, far float32) Mat4 {
	clip := Mat4{
		1, 0, 0, 0,
		0, -1, 0, 0,
		0, 0, 0.5, 0,
		0, 0, 0.5, 1,
	}
	return clip.Mul4(mgl32.Perspective(fovRadians, aspect, near, far))
}

func NewMat4LookAt(position, target, up Vec3) Mat4 {
	return mgl32.LookAtV(position, target, up)
}

func DegToRad(degrees float32) float32 {
	return mgl32.DegToRad(degrees)
}
