package systems

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

const spirvMagic uint32 = 0x07230203

// DrawPushConstantSize is the push constant block: the draw index.
const DrawPushConstantSize uint32 = 4

/** @brief Provides SPIR-V code for a named shader stage. */
type ShaderLoader interface {
	Load(name string, stage metadata.ShaderStage) ([]uint32, error)
}

func stageSuffix(stage metadata.ShaderStage) string {
	if stage == metadata.ShaderStageFragment {
		return "frag"
	}
	return "vert"
}

// FileShaderLoader reads <Dir>/<name>.<vert|frag>.spv.
type FileShaderLoader struct {
	Dir string
}

func (l FileShaderLoader) Load(name string, stage metadata.ShaderStage) ([]uint32, error) {
	path := filepath.Join(l.Dir, fmt.Sprintf("%s.%s.spv", name, stageSuffix(stage)))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read shader module %s", path)
	}
	return DecodeSPIRV(data)
}

// DecodeSPIRV converts a little-endian SPIR-V binary to words.
func DecodeSPIRV(data []byte) ([]uint32, error) {
	if len(data) < 20 || len(data)%4 != 0 {
		return nil, errors.Newf("invalid SPIR-V size %d", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, errors.Newf("invalid SPIR-V magic %#x", words[0])
	}
	return words, nil
}

// StubShaderLoader returns an empty SPIR-V module. Only useful with the headless backend.
type StubShaderLoader struct{}

func (StubShaderLoader) Load(name string, stage metadata.ShaderStage) ([]uint32, error) {
	// magic, version 1.0, generator, bound, schema
	return []uint32{spirvMagic, 0x00010000, 0, 1, 0}, nil
}

/**
 * @brief The pipelines of one archetype: the regular one and a mirrored
 * variant with clockwise front faces for reversed-winding draws.
 */
type ArchetypePipeline struct {
	Archetype metadata.PipelineArchetype
	Layout    metadata.Handle
	Normal    metadata.Handle
	Mirrored  metadata.Handle
}

// Select returns the variant matching a draw's winding.
func (p *ArchetypePipeline) Select(reversedWinding bool) metadata.Handle {
	if reversedWinding {
		return p.Mirrored
	}
	return p.Normal
}

type PipelineSystemConfig struct {
	/** @brief Base name of the material shaders. */
	ShaderName string
	/** @brief Clear color of the color attachment. */
	ClearColor [4]float32
}

type PipelineSystem struct {
	Config     *PipelineSystemConfig
	RenderPass metadata.Handle
	Layout     metadata.Handle

	ColorFormat metadata.Format
	DepthFormat metadata.Format

	device      renderer.Device
	loader      ShaderLoader
	descriptors *DescriptorSystem

	mu      sync.Mutex
	modules map[string]metadata.Handle
	cache   map[metadata.PipelineArchetype]*ArchetypePipeline
}

func NewPipelineSystem(config *PipelineSystemConfig, device renderer.Device, loader ShaderLoader, descriptors *DescriptorSystem) (*PipelineSystem, error) {
	if config.ShaderName == "" {
		err := errors.New("func NewPipelineSystem - config.ShaderName must be set")
		core.LogError(err.Error())
		return nil, err
	}
	return &PipelineSystem{
		Config:      config,
		device:      device,
		loader:      loader,
		descriptors: descriptors,
		modules:     make(map[string]metadata.Handle),
		cache:       make(map[metadata.PipelineArchetype]*ArchetypePipeline),
	}, nil
}

/**
 * @brief Creates the render pass (one color attachment presented at the end,
 * one depth attachment) and the shared pipeline layout.
 */
func (ps *PipelineSystem) Initialize(colorFormat, depthFormat metadata.Format) error {
	pass, err := ps.device.CreateRenderPass(metadata.RenderPassDesc{
		ColorFormat: colorFormat,
		DepthFormat: depthFormat,
		ClearColor:  ps.Config.ClearColor,
	})
	if err != nil {
		return errors.Wrap(err, "creating main render pass")
	}
	layout, err := ps.device.CreatePipelineLayout(
		[]metadata.Handle{ps.descriptors.FrameLayout, ps.descriptors.MaterialLayout},
		[]metadata.PushConstantRange{{Stages: metadata.ShaderStageVertex, Offset: 0, Size: DrawPushConstantSize}},
	)
	if err != nil {
		ps.device.DestroyRenderPass(pass)
		return errors.Wrap(err, "creating pipeline layout")
	}
	ps.RenderPass, ps.Layout = pass, layout
	ps.ColorFormat, ps.DepthFormat = colorFormat, depthFormat
	return nil
}

func (ps *PipelineSystem) shaderModule(name string, stage metadata.ShaderStage) (metadata.Handle, error) {
	key := name + "." + stageSuffix(stage)
	if m, ok := ps.modules[key]; ok {
		return m, nil
	}
	code, err := ps.loader.Load(name, stage)
	if err != nil {
		return nil, err
	}
	m, err := ps.device.CreateShaderModule(code)
	if err != nil {
		return nil, errors.Wrapf(err, "creating shader module %s", key)
	}
	ps.modules[key] = m
	return m, nil
}

func (ps *PipelineSystem) fragmentShaderName(archetype metadata.PipelineArchetype) string {
	if archetype.AlphaMode == metadata.AlphaModeMask {
		return ps.Config.ShaderName + "_mask"
	}
	return ps.Config.ShaderName
}

/**
 * @brief Returns the pipelines of an archetype, creating them on first use.
 * Safe to call from several goroutines.
 */
func (ps *PipelineSystem) Build(archetype metadata.PipelineArchetype) (*ArchetypePipeline, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if p, ok := ps.cache[archetype]; ok {
		return p, nil
	}
	if ps.RenderPass == nil {
		return nil, errors.New("pipeline system is not initialized")
	}

	vert, err := ps.shaderModule(ps.Config.ShaderName, metadata.ShaderStageVertex)
	if err != nil {
		return nil, err
	}
	frag, err := ps.shaderModule(ps.fragmentShaderName(archetype), metadata.ShaderStageFragment)
	if err != nil {
		return nil, err
	}

	desc := metadata.PipelineDesc{
		Name:           archetype.String(),
		VertexShader:   vert,
		FragmentShader: frag,
		Layout:         ps.Layout,
		RenderPass:     ps.RenderPass,
		Vertex:         metadata.VertexLayoutDesc(),
		CullMode:       metadata.CullModeBack,
		FrontFace:      metadata.FrontFaceCounterClockwise,
		BlendEnabled:   archetype.AlphaMode == metadata.AlphaModeBlend,
		DepthTest:      true,
		DepthWrite:     archetype.AlphaMode != metadata.AlphaModeBlend,
	}
	if archetype.DoubleSided {
		desc.CullMode = metadata.CullModeNone
	}

	normal, err := ps.device.CreateGraphicsPipeline(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "creating pipeline %s", desc.Name)
	}
	desc.Name += "_mirrored"
	desc.FrontFace = metadata.FrontFaceClockwise
	mirrored, err := ps.device.CreateGraphicsPipeline(desc)
	if err != nil {
		ps.device.DestroyPipeline(normal)
		return nil, errors.Wrapf(err, "creating pipeline %s", desc.Name)
	}

	p := &ArchetypePipeline{Archetype: archetype, Layout: ps.Layout, Normal: normal, Mirrored: mirrored}
	ps.cache[archetype] = p
	core.LogDebug("pipeline built", "archetype", archetype.String())
	return p, nil
}

func (ps *PipelineSystem) Shutdown() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for a, p := range ps.cache {
		ps.device.DestroyPipeline(p.Normal)
		ps.device.DestroyPipeline(p.Mirrored)
		delete(ps.cache, a)
	}
	for k, m := range ps.modules {
		ps.device.DestroyShaderModule(m)
		delete(ps.modules, k)
	}
	if ps.Layout != nil {
		ps.device.DestroyPipelineLayout(ps.Layout)
		ps.Layout = nil
	}
	if ps.RenderPass != nil {
		ps.device.DestroyRenderPass(ps.RenderPass)
		ps.RenderPass = nil
	}
	return nil
}
