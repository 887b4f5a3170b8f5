package systems

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func newTestPipelineSystem(t *testing.T, dev *headless.Device) *PipelineSystem {
	t.Helper()
	_, ds := newTestDescriptorSystem(t, dev)
	ps, err := NewPipelineSystem(&PipelineSystemConfig{ShaderName: "material"}, dev, StubShaderLoader{}, ds)
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.Initialize(metadata.FormatB8G8R8A8Srgb, metadata.FormatD32Sfloat); err != nil {
		t.Fatal(err)
	}
	return ps
}

func TestPipelineFixedFunctionState(t *testing.T) {
	dev := headless.New(headless.Options{})
	ps := newTestPipelineSystem(t, dev)

	tests := []struct {
		archetype  metadata.PipelineArchetype
		cull       metadata.CullMode
		blend      bool
		depthWrite bool
	}{
		{metadata.PipelineArchetype{AlphaMode: metadata.AlphaModeOpaque}, metadata.CullModeBack, false, true},
		{metadata.PipelineArchetype{AlphaMode: metadata.AlphaModeMask, DoubleSided: true}, metadata.CullModeNone, false, true},
		{metadata.PipelineArchetype{AlphaMode: metadata.AlphaModeBlend}, metadata.CullModeBack, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.archetype.String(), func(t *testing.T) {
			p, err := ps.Build(tt.archetype)
			if err != nil {
				t.Fatal(err)
			}
			normal, ok := dev.PipelineDesc(p.Normal)
			if !ok {
				t.Fatal("normal pipeline not created")
			}
			mirrored, _ := dev.PipelineDesc(p.Mirrored)
			if normal.FrontFace != metadata.FrontFaceCounterClockwise || mirrored.FrontFace != metadata.FrontFaceClockwise {
				t.Errorf("front faces: normal=%d mirrored=%d", normal.FrontFace, mirrored.FrontFace)
			}
			for _, d := range []metadata.PipelineDesc{normal, mirrored} {
				if d.CullMode != tt.cull || d.BlendEnabled != tt.blend || d.DepthWrite != tt.depthWrite || !d.DepthTest {
					t.Errorf("%s: cull=%d blend=%v depthWrite=%v depthTest=%v", d.Name, d.CullMode, d.BlendEnabled, d.DepthWrite, d.DepthTest)
				}
				if d.Vertex.Stride != metadata.VertexStride {
					t.Errorf("%s: vertex stride %d", d.Name, d.Vertex.Stride)
				}
			}
			if p.Select(true) != p.Mirrored || p.Select(false) != p.Normal {
				t.Error("Select picks the wrong variant")
			}
		})
	}
}

func TestPipelineCache(t *testing.T) {
	dev := headless.New(headless.Options{})
	ps := newTestPipelineSystem(t, dev)
	a := metadata.PipelineArchetype{AlphaMode: metadata.AlphaModeOpaque}

	first, err := ps.Build(a)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := ps.Build(a)
	if first != second {
		t.Error("expected the cached archetype pipeline")
	}
	if n := dev.LiveObjects("pipeline"); n != 2 {
		t.Errorf("expected 2 pipelines, got %d", n)
	}

	if err := ps.Shutdown(); err != nil {
		t.Fatal(err)
	}
	for _, kind := range []string{"pipeline", "shader_module", "pipeline_layout", "render_pass"} {
		if n := dev.LiveObjects(kind); n != 0 {
			t.Errorf("%d %s objects left after shutdown", n, kind)
		}
	}
}

func TestFileShaderLoader(t *testing.T) {
	dir := t.TempDir()
	words := []uint32{spirvMagic, 0x00010000, 0, 1, 0, 42}
	data := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	if err := os.WriteFile(filepath.Join(dir, "material.vert.spv"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "material.frag.spv"), []byte("not spirv at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := FileShaderLoader{Dir: dir}
	got, err := l.Load("material", metadata.ShaderStageVertex)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(words) || got[5] != 42 {
		t.Errorf("decoded %v", got)
	}
	if _, err := l.Load("material", metadata.ShaderStageFragment); err == nil {
		t.Error("expected an error for a file without the SPIR-V magic")
	}
	if _, err := l.Load("missing", metadata.ShaderStageVertex); err == nil {
		t.Error("expected an error for a missing file")
	}
}
