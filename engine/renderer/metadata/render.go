package metadata

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-core/engine/math"
)

// Vertex is the packed vertex layout shared by every archetype.
type Vertex struct {
	Position math.Vec3
	Normal   math.Vec3
	Texcoord math.Vec2
	// Tangent.w is the handedness; the bitangent is cross(Normal, Tangent.xyz) * w.
	Tangent math.Vec4
}

const VertexStride uint32 = 48

// VertexLayoutDesc describes Vertex for pipeline creation.
func VertexLayoutDesc() VertexLayout {
	return VertexLayout{
		Stride: VertexStride,
		Attributes: []VertexAttribute{
			{Location: 0, Format: VertexFormatFloat3, Offset: 0},
			{Location: 1, Format: VertexFormatFloat3, Offset: 12},
			{Location: 2, Format: VertexFormatFloat2, Offset: 24},
			{Location: 3, Format: VertexFormatFloat4, Offset: 32},
		},
	}
}

// PipelineArchetype is the fixed-function class of a draw. One pipeline pair
// (regular and mirrored winding) exists per archetype.
type PipelineArchetype struct {
	AlphaMode   AlphaMode
	DoubleSided bool
}

func (a PipelineArchetype) String() string {
	if a.DoubleSided {
		return fmt.Sprintf("%s_double_sided", a.AlphaMode)
	}
	return a.AlphaMode.String()
}

// Less orders archetypes so opaque geometry is recorded before blended geometry.
func (a PipelineArchetype) Less(b PipelineArchetype) bool {
	if a.AlphaMode != b.AlphaMode {
		return a.AlphaMode < b.AlphaMode
	}
	return !a.DoubleSided && b.DoubleSided
}

/** @brief GPU-resident geometry of one mesh. */
type Mesh struct {
	Index        int
	Name         string
	VertexBuffer *GpuBuffer
	IndexBuffer  *GpuBuffer
	VertexCount  uint32
	IndexCount   uint32
	Extents      math.Extents3D
	Material     *Material
}

/** @brief A material resolved to GPU textures, one per slot. Nil slots use the default texture. */
type Material struct {
	ID        uuid.UUID
	Index     int
	Name      string
	Archetype PipelineArchetype
	Textures  [TextureSlotCount]*Texture
}

// DrawItem is one entry of the flat, archetype-ordered draw list.
type DrawItem struct {
	// DrawIndex addresses the per-frame transform array.
	DrawIndex       uint32
	NodeIndex       int
	Archetype       PipelineArchetype
	Mesh            *Mesh
	DescriptorSet   Handle
	World           math.Mat4
	ReversedWinding bool
}

// FrameInput is supplied by the entity world before recording begins.
type FrameInput struct {
	ViewProjection math.Mat4
	// Overrides replaces the world transform of a node (by node index) for this
	// frame; descendants inherit the override.
	Overrides map[int]math.Mat4
	DeltaTime float64
}
