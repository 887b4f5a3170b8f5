package math

import "github.com/go-gl/mathgl/mgl32"

// FaceNormal returns the unit normal of a counter-clockwise triangle. Degenerate
// triangles get +Z so every vertex still receives a unit normal.
func FaceNormal(p0, p1, p2 Vec3) Vec3 {
	n := p1.Sub(p0).Cross(p2.Sub(p0))
	if n.Len() <= K_FLOAT_EPSILON {
		return Vec3{0, 0, 1}
	}
	return n.Normalize()
}

// GeometryGenerateFlatNormals unwelds a triangle list so every face owns its three
// vertices and assigns each the face normal. indices may be nil for non-indexed
// geometry. remap[i] is the source vertex of output vertex i, so callers can carry
// the remaining attributes across.
func GeometryGenerateFlatNormals(positions []Vec3, indices []uint32) (outPositions []Vec3, normals []Vec3, remap []uint32) {
	corners := len(indices)
	if indices == nil {
		corners = len(positions)
	}
	corners -= corners % 3

	outPositions = make([]Vec3, corners)
	normals = make([]Vec3, corners)
	remap = make([]uint32, corners)

	for i := 0; i < corners; i += 3 {
		for k := 0; k < 3; k++ {
			src := uint32(i + k)
			if indices != nil {
				src = indices[i+k]
			}
			remap[i+k] = src
			outPositions[i+k] = positions[src]
		}
		// NOTE: This just generates a face normal. Smoothing is not applied.
		n := FaceNormal(outPositions[i], outPositions[i+1], outPositions[i+2])
		normals[i], normals[i+1], normals[i+2] = n, n, n
	}
	return outPositions, normals, remap
}

// AnyPerpendicular returns a unit vector orthogonal to the unit vector n.
func AnyPerpendicular(n Vec3) Vec3 {
	axis := Vec3{1, 0, 0}
	if mgl32.Abs(n.X()) > 0.9 {
		axis = Vec3{0, 1, 0}
	}
	return n.Cross(axis).Normalize()
}

// GeometryGenerateTangents computes per-vertex tangents from texture coordinates.
// The xyz part is orthogonalized against the vertex normal and w holds the
// handedness (+1 or -1), so the bitangent is cross(normal, tangent.xyz) * w.
// Vertices with missing or degenerate UVs get an arbitrary perpendicular tangent.
func GeometryGenerateTangents(positions, normals []Vec3, texcoords []Vec2, indices []uint32) []Vec4 {
	vertexCount := len(positions)
	tan := make([]Vec3, vertexCount)
	bitan := make([]Vec3, vertexCount)

	triangleCount := len(indices) / 3
	if indices == nil {
		triangleCount = vertexCount / 3
	}
	index := func(i int) uint32 {
		if indices == nil {
			return uint32(i)
		}
		return indices[i]
	}

	if len(texcoords) == vertexCount {
		for t := 0; t < triangleCount; t++ {
			i0, i1, i2 := index(t*3), index(t*3+1), index(t*3+2)

			edge1 := positions[i1].Sub(positions[i0])
			edge2 := positions[i2].Sub(positions[i0])

			deltaU1 := texcoords[i1].X() - texcoords[i0].X()
			deltaV1 := texcoords[i1].Y() - texcoords[i0].Y()
			deltaU2 := texcoords[i2].X() - texcoords[i0].X()
			deltaV2 := texcoords[i2].Y() - texcoords[i0].Y()

			dividend := deltaU1*deltaV2 - deltaU2*deltaV1
			if mgl32.Abs(dividend) <= K_FLOAT_EPSILON {
				continue
			}
			fc := 1.0 / dividend

			sdir := edge1.Mul(deltaV2).Sub(edge2.Mul(deltaV1)).Mul(fc)
			tdir := edge2.Mul(deltaU1).Sub(edge1.Mul(deltaU2)).Mul(fc)

			for _, v := range [3]uint32{i0, i1, i2} {
				tan[v] = tan[v].Add(sdir)
				bitan[v] = bitan[v].Add(tdir)
			}
		}
	}

	out := make([]Vec4, vertexCount)
	for v := 0; v < vertexCount; v++ {
		n := normals[v]
		if n.Len() <= K_FLOAT_EPSILON {
			n = Vec3{0, 0, 1}
		} else {
			n = n.Normalize()
		}

		// Gram-Schmidt
		t := tan[v].Sub(n.Mul(n.Dot(tan[v])))
		if t.Len() <= K_FLOAT_EPSILON {
			out[v] = AnyPerpendicular(n).Vec4(1)
			continue
		}
		t = t.Normalize()

		w := float32(1)
		if n.Cross(t).Dot(bitan[v]) < 0 {
			w = -1
		}
		out[v] = t.Vec4(w)
	}
	return out
}

// Bitangent derives the bitangent from a normal and a handed tangent.
func Bitangent(normal Vec3, tangent Vec4) Vec3 {
	return normal.Cross(tangent.Vec3()).Mul(tangent.W())
}
