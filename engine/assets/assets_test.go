package assets

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 40), G: uint8(y * 40), B: 7, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestDetermineAssetType(t *testing.T) {
	tests := []struct {
		path string
		want AssetType
	}{
		{"textures/checker.png", AssetTypeTexture},
		{"textures/photo.JPG", AssetTypeTexture},
		{"textures/old.bmp", AssetTypeTexture},
		{"textures/detail.webp", AssetTypeTexture},
		{"shaders/material.vert.spv", AssetTypeShader},
		{"scenes/sponza.gltf", AssetTypeScene},
		{"shaders/material.vert", AssetTypeNone},
		{"README", AssetTypeNone},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := DetermineAssetType(tt.path); got != tt.want {
				t.Errorf("DetermineAssetType(%q) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

func TestLoadTexture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gradient.png")
	writePNG(t, path, 3, 2)

	src, err := LoadTexture(path, true)
	if err != nil {
		t.Fatalf("LoadTexture: %v", err)
	}
	if src.Name != "gradient" {
		t.Errorf("Name = %q, want gradient", src.Name)
	}
	if src.Width != 3 || src.Height != 2 {
		t.Errorf("size = %dx%d, want 3x2", src.Width, src.Height)
	}
	if src.Format != metadata.PixelFormatRGBA8 || len(src.Pixels) != 3*2*4 {
		t.Fatalf("format %d with %d bytes, want RGBA8 with 24 bytes", src.Format, len(src.Pixels))
	}
	if !src.SRGB {
		t.Error("SRGB flag lost")
	}
	// texel (2, 1)
	px := src.Pixels[(1*3+2)*4:]
	if px[0] != 80 || px[1] != 40 || px[2] != 7 || px[3] != 255 {
		t.Errorf("texel (2,1) = %v", px[:4])
	}
}

func TestLoadTextureErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.png")
	if err := os.WriteFile(garbage, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.png")},
		{"undecodable", garbage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTexture(tt.path, false); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestAssetManagerIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "textures"), 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(dir, "textures", "checker.png"), 2, 2)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	am := NewAssetManager(0)
	if err := am.Initialize(dir, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer am.Shutdown()

	if am.Count() != 1 {
		t.Fatalf("Count = %d, want 1", am.Count())
	}
	a, ok := am.Lookup("textures/checker.png")
	if !ok || a.Type != AssetTypeTexture {
		t.Fatalf("Lookup = %+v, %v", a, ok)
	}
	if got := am.Assets(AssetTypeTexture); len(got) != 1 || got[0].Path != "textures/checker.png" {
		t.Errorf("Assets(texture) = %+v", got)
	}
	if _, err := am.LoadTexture("textures/checker.png", false); err != nil {
		t.Errorf("LoadTexture: %v", err)
	}
	if _, err := am.LoadTexture("textures/none.png", false); err == nil {
		t.Error("expected an error for an unindexed texture")
	}
}

func TestAssetManagerInitializeRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.png")
	writePNG(t, path, 1, 1)
	if err := NewAssetManager(0).Initialize(path, false); err == nil {
		t.Error("expected an error for a non-directory root")
	}
}

func TestAssetManagerWatchFiresChanged(t *testing.T) {
	if !core.EventSystemInitialize() {
		t.Fatal("event system failed to initialize")
	}
	dir := t.TempDir()
	am := NewAssetManager(20 * time.Millisecond)
	if err := am.Initialize(dir, true); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer am.Shutdown()

	changed := make(chan string, 8)
	listener := new(int)
	core.EventRegister(core.EVENT_CODE_ASSETS_CHANGED, listener, func(code core.SystemEventCode, sender, inst interface{}, data core.EventContext) bool {
		changed <- data.Data.C[0]
		return false
	})
	defer core.EventUnregister(core.EVENT_CODE_ASSETS_CHANGED, listener)

	writePNG(t, filepath.Join(dir, "hot.png"), 1, 1)

	select {
	case p := <-changed:
		if p != "hot.png" {
			t.Errorf("changed path = %q, want hot.png", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change event within 5s")
	}
	if _, ok := am.Lookup("hot.png"); !ok {
		t.Error("new texture was not indexed")
	}
}
