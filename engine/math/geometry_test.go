package math

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

const tolerance = 1e-4

func quad() ([]Vec3, []Vec2, []uint32) {
	positions := []Vec3{{-1, -1, 0}, {1, -1, 0}, {1, 1, 0}, {-1, 1, 0}}
	uvs := []Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	indices := []uint32{0, 1, 2, 2, 3, 0}
	return positions, uvs, indices
}

func TestGeometryGenerateFlatNormals(t *testing.T) {
	cube := []Vec3{
		{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
	}
	indices := []uint32{
		0, 2, 1, 0, 3, 2, // back
		4, 5, 6, 4, 6, 7, // front
		0, 1, 5, 0, 5, 4, // bottom
	}

	tests := []struct {
		name      string
		positions []Vec3
		indices   []uint32
		want      int
	}{
		{"indexed", cube, indices, len(indices)},
		{"non-indexed", []Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, nil, 3},
		{"degenerate", []Vec3{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}}, nil, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, normals, remap := GeometryGenerateFlatNormals(tt.positions, tt.indices)
			if len(pos) != tt.want || len(normals) != tt.want || len(remap) != tt.want {
				t.Fatalf("got %d/%d/%d vertices, want %d", len(pos), len(normals), len(remap), tt.want)
			}
			for i, n := range normals {
				if !mgl32.FloatEqualThreshold(n.Len(), 1, tolerance) {
					t.Errorf("normal %d has length %f", i, n.Len())
				}
				if pos[i] != tt.positions[remap[i]] {
					t.Errorf("vertex %d does not match its remapped source", i)
				}
			}
			// Faces own their vertices, so all three corners share the face normal.
			for f := 0; f < len(normals); f += 3 {
				if normals[f] != normals[f+1] || normals[f] != normals[f+2] {
					t.Errorf("face %d does not have a flat normal", f/3)
				}
			}
		})
	}
}

func TestFlatNormalOrientation(t *testing.T) {
	positions, _, indices := quad()
	_, normals, _ := GeometryGenerateFlatNormals(positions, indices)
	for i, n := range normals {
		if !n.ApproxEqualThreshold(Vec3{0, 0, 1}, tolerance) {
			t.Errorf("normal %d = %v, want +Z for a counter-clockwise quad", i, n)
		}
	}
}

func TestGeometryGenerateTangents(t *testing.T) {
	positions, uvs, indices := quad()
	normals := []Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}}

	tests := []struct {
		name  string
		uvs   []Vec2
		wantW float32
	}{
		{"regular uvs", uvs, 1},
		{"mirrored u", []Vec2{{1, 0}, {0, 0}, {0, 1}, {1, 1}}, -1},
		{"missing uvs", nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tangents := GeometryGenerateTangents(positions, normals, tt.uvs, indices)
			if len(tangents) != len(positions) {
				t.Fatalf("got %d tangents, want %d", len(tangents), len(positions))
			}
			for i, tan := range tangents {
				xyz := tan.Vec3()
				if !mgl32.FloatEqualThreshold(xyz.Len(), 1, tolerance) {
					t.Errorf("tangent %d not unit length: %f", i, xyz.Len())
				}
				if mgl32.Abs(xyz.Dot(normals[i])) > tolerance {
					t.Errorf("tangent %d not orthogonal to normal", i)
				}
				if tan.W() != 1 && tan.W() != -1 {
					t.Errorf("tangent %d handedness = %f", i, tan.W())
				}
				if tt.uvs != nil && tan.W() != tt.wantW {
					t.Errorf("tangent %d handedness = %f, want %f", i, tan.W(), tt.wantW)
				}
				b := Bitangent(normals[i], tan)
				want := normals[i].Cross(xyz).Mul(tan.W())
				if !b.ApproxEqualThreshold(want, tolerance) {
					t.Errorf("bitangent %d = %v, want %v", i, b, want)
				}
			}
		})
	}
}

func TestTangentFollowsU(t *testing.T) {
	positions, uvs, indices := quad()
	normals := []Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}}
	tangents := GeometryGenerateTangents(positions, normals, uvs, indices)
	for i, tan := range tangents {
		if !tan.Vec3().ApproxEqualThreshold(Vec3{1, 0, 0}, tolerance) {
			t.Errorf("tangent %d = %v, want +X", i, tan)
		}
		// U along +X and V along +Y on a +Z face gives a bitangent along +Y.
		if !Bitangent(normals[i], tan).ApproxEqualThreshold(Vec3{0, 1, 0}, tolerance) {
			t.Errorf("bitangent %d does not follow +V", i)
		}
	}
}

func TestTransformDeterminant(t *testing.T) {
	tests := []struct {
		name     string
		tr       Transform
		mirrored bool
		singular bool
	}{
		{"identity", TransformCreate(), false, false},
		{"uniform scale", TransformFromPositionRotationScale(Vec3{1, 2, 3}, mgl32.QuatRotate(1, Vec3{0, 1, 0}), Vec3{2, 2, 2}), false, false},
		{"mirror x", TransformFromPositionRotationScale(Vec3{}, mgl32.QuatIdent(), Vec3{-1, 1, 1}), true, false},
		{"double mirror", TransformFromPositionRotationScale(Vec3{}, mgl32.QuatIdent(), Vec3{-1, -1, 1}), false, false},
		{"flattened", TransformFromPositionRotationScale(Vec3{}, mgl32.QuatIdent(), Vec3{1, 0, 1}), false, true},
		{"matrix", TransformFromMatrix(mgl32.Scale3D(1, 1, -3)), true, false},
		{"centimetre mirror", TransformFromPositionRotationScale(Vec3{}, mgl32.QuatIdent(), Vec3{-0.005, 0.005, 0.005}), true, false},
		{"tiny uniform scale", TransformFromPositionRotationScale(Vec3{}, mgl32.QuatIdent(), Vec3{1e-3, 1e-3, 1e-3}), false, false},
		{"collapsed shear", TransformFromMatrix(Mat4{1, 0, 0, 0, 1, 1e-7, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}), false, true},
		{"collapsed mirrored shear", TransformFromMatrix(Mat4{1, 0, 0, 0, 1, -1e-7, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.tr.Local()
			if got := IsMirrored(m); got != tt.mirrored {
				t.Errorf("IsMirrored = %v, want %v (det=%f)", got, tt.mirrored, m.Det())
			}
			if got := IsSingular(m); got != tt.singular {
				t.Errorf("IsSingular = %v, want %v (det=%f)", got, tt.singular, m.Det())
			}
		})
	}
}

func TestMipLevelsAndAlign(t *testing.T) {
	mips := []struct {
		w, h, want uint32
	}{
		{1, 1, 1},
		{2, 1, 2},
		{256, 256, 9},
		{300, 17, 9},
		{0, 0, 1},
	}
	for _, m := range mips {
		if got := MipLevels(m.w, m.h); got != m.want {
			t.Errorf("MipLevels(%d, %d) = %d, want %d", m.w, m.h, got, m.want)
		}
	}

	aligns := []struct {
		v, a, want uint64
	}{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{13, 0, 13},
	}
	for _, a := range aligns {
		if got := AlignUp(a.v, a.a); got != a.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", a.v, a.a, got, a.want)
		}
	}

	if Clamp(5, 0, 3) != 3 || Clamp(-1.0, 0.0, 1.0) != 0.0 {
		t.Error("Clamp returned an unexpected value")
	}
}
