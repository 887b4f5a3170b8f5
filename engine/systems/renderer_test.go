package systems

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima-core/engine/config"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Renderer.Backend = "headless"
	cfg.Renderer.FramesInFlight = 2
	cfg.Renderer.RecordWorkers = 3
	cfg.Renderer.DrawChunkSize = 2
	cfg.Memory.BlockSizeMB = 4
	cfg.Memory.DedicatedThreshold = 2
	cfg.Upload.Concurrency = 2
	return cfg
}

func newTestRenderer(t *testing.T, dev *headless.Device, mutate func(*config.Config)) *RendererSystem {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	r, err := NewRendererSystem(cfg, dev, StubShaderLoader{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Initialize(); err != nil {
		t.Fatal(err)
	}
	return r
}

// gridScene has n nodes side by side sharing one textured quad mesh.
func gridScene(n int) *metadata.SceneGraph {
	mat := metadata.NewMaterialSource("grid")
	mat.Textures[metadata.TextureSlotBaseColor] = 0
	scene := &metadata.SceneGraph{
		Name:      "grid",
		Meshes:    []metadata.MeshSource{quadMesh(0)},
		Materials: []metadata.MaterialSource{mat},
		Textures: []metadata.TextureSource{{
			Name: "checker", Width: 2, Height: 2, Format: metadata.PixelFormatRGBA8,
			Pixels: bytes.Repeat([]byte{255, 0, 255, 255}, 4), Sampler: metadata.DefaultSamplerDesc(),
		}},
	}
	for i := 0; i < n; i++ {
		scene.Nodes = append(scene.Nodes, node("cell", 0, math.TransformFromPosition(math.Vec3{float32(i), 0, 0})))
	}
	return scene
}

func assertNoViolations(t *testing.T, dev *headless.Device) {
	t.Helper()
	for _, v := range dev.Violations() {
		t.Errorf("device violation: %s", v)
	}
}

func TestRendererEndToEnd(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, nil)

	set, err := r.LoadScene(gridScene(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(set.DrawList) != 3 {
		t.Fatalf("draw list has %d items, want 3", len(set.DrawList))
	}
	vp := r.Systems().CameraSystem.GetDefault().ViewProjection(r.SurfaceExtent())
	for i := 0; i < 5; i++ {
		if err := r.DrawFrame(metadata.FrameInput{ViewProjection: vp}); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if n := len(dev.Presents()); n != 5 {
		t.Errorf("presented %d frames, want 5", n)
	}

	var stats bytes.Buffer
	if err := r.WriteMemoryStats(&stats); err != nil {
		t.Fatal(err)
	}
	if !json.Valid(stats.Bytes()) {
		t.Errorf("memory stats are not valid JSON: %s", stats.String())
	}

	if err := r.Shutdown(); err != nil {
		t.Fatal(err)
	}
	assertNoViolations(t, dev)
	if n := dev.LiveObjects(""); n != 0 {
		t.Errorf("%d device objects leaked", n)
	}
}

func TestLoadSceneReplacesPreviousSet(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, nil)
	defer r.Shutdown()

	first, err := r.LoadScene(gridScene(2))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.DrawFrame(metadata.FrameInput{ViewProjection: mgl32.Ident4()}); err != nil {
		t.Fatal(err)
	}
	second, err := r.LoadScene(gridScene(4))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID || r.Scene() != second {
		t.Fatal("expected the second asset set to be live")
	}
	if err := r.DrawFrame(metadata.FrameInput{ViewProjection: mgl32.Ident4()}); err != nil {
		t.Fatal(err)
	}

	broken := gridScene(1)
	broken.Nodes[0].Mesh = 7
	if _, err := r.LoadScene(broken); err == nil {
		t.Fatal("expected the broken scene to fail")
	} else if !core.IsFatal(err) {
		t.Errorf("asset load errors are fatal for the load, got %v", err)
	}
	if r.Scene() != nil {
		t.Error("a failed load must leave no scene live")
	}
	if err := r.DrawFrame(metadata.FrameInput{ViewProjection: mgl32.Ident4()}); err != nil {
		t.Fatal(err)
	}
	assertNoViolations(t, dev)
}

func TestDeviceLostIsFatal(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, nil)

	dev.SetDeviceLost()
	err := r.DrawFrame(metadata.FrameInput{ViewProjection: mgl32.Ident4()})
	if !errors.Is(err, core.ErrDeviceLost) || !core.IsFatal(err) {
		t.Fatalf("expected a fatal device lost error, got %v", err)
	}
}
