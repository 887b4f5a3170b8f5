package metadata

import "github.com/spaghettifunk/anima-core/engine/math"

// SceneGraph is the parsed scene handed over by the asset parser. Indices
// refer into the slices of the same graph; -1 means "none".
type SceneGraph struct {
	Name      string
	Nodes     []NodeSource
	Roots     []int
	Meshes    []MeshSource
	Materials []MaterialSource
	Textures  []TextureSource
}

type NodeSource struct {
	Name      string
	Transform math.Transform
	Children  []int
	// Mesh is an index into SceneGraph.Meshes, or -1.
	Mesh int
}

// MeshSource is one drawable primitive. Only Positions is required.
type MeshSource struct {
	Name      string
	Positions []math.Vec3
	Normals   []math.Vec3
	Tangents  []math.Vec4
	Texcoords []math.Vec2
	// Indices may be nil for non-indexed triangle lists.
	Indices []uint32
	// Material is an index into SceneGraph.Materials, or -1 for the default material.
	Material int
}

type AlphaMode uint8

const (
	AlphaModeOpaque AlphaMode = iota
	AlphaModeMask
	AlphaModeBlend
)

func (m AlphaMode) String() string {
	switch m {
	case AlphaModeMask:
		return "mask"
	case AlphaModeBlend:
		return "blend"
	}
	return "opaque"
}

type TextureSlot uint8

const (
	TextureSlotBaseColor TextureSlot = iota
	TextureSlotNormal
	TextureSlotMetallicRoughness
	TextureSlotEmissive
	TextureSlotOcclusion

	TextureSlotCount
)

func (s TextureSlot) String() string {
	switch s {
	case TextureSlotBaseColor:
		return "base_color"
	case TextureSlotNormal:
		return "normal"
	case TextureSlotMetallicRoughness:
		return "metallic_roughness"
	case TextureSlotEmissive:
		return "emissive"
	case TextureSlotOcclusion:
		return "occlusion"
	}
	return "unknown"
}

type MaterialSource struct {
	Name string
	// Textures holds an index into SceneGraph.Textures per slot, or -1.
	Textures    [TextureSlotCount]int
	AlphaMode   AlphaMode
	DoubleSided bool
}

// NewMaterialSource returns a material with every texture slot unset.
func NewMaterialSource(name string) MaterialSource {
	m := MaterialSource{Name: name}
	for i := range m.Textures {
		m.Textures[i] = -1
	}
	return m
}

type PixelFormat uint8

const (
	PixelFormatRGBA8 PixelFormat = iota
	PixelFormatRGB8
)

// TextureSource holds decoded pixels, tightly packed, top row first.
type TextureSource struct {
	Name    string
	Width   uint32
	Height  uint32
	Format  PixelFormat
	Pixels  []byte
	Sampler SamplerDesc
	// SRGB marks color data (base color, emissive).
	SRGB bool
}
