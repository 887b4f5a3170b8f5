package systems

import (
	"image"
	"image/color"
	"testing"

	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func newTestTextureSystem(t *testing.T, dev *headless.Device) (*MemorySystem, *TextureSystem) {
	t.Helper()
	ms, us := newTestUploadSystem(t, dev, 1, true)
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxSamplerCount: 8}, dev, ms, us)
	if err != nil {
		t.Fatal(err)
	}
	if err := ts.Initialize(); err != nil {
		t.Fatal(err)
	}
	return ms, ts
}

func TestDefaultTexture(t *testing.T) {
	dev := headless.New(headless.Options{})
	_, ts := newTestTextureSystem(t, dev)

	def := ts.DefaultTexture
	if def == nil || def.Image == nil || def.Sampler == nil {
		t.Fatal("default texture not created")
	}
	if def.Image.Width != 1 || def.Image.Height != 1 {
		t.Errorf("expected a 1x1 default texture, got %dx%d", def.Image.Width, def.Image.Height)
	}
	ts.DestroyTexture(def)
	if ts.DefaultTexture.Image == nil {
		t.Error("DestroyTexture must not destroy the default texture")
	}
	if err := ts.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if n := dev.LiveObjects("image") + dev.LiveObjects("sampler"); n != 0 {
		t.Errorf("expected default texture and samplers destroyed, %d objects left", n)
	}
}

func TestSamplerCache(t *testing.T) {
	dev := headless.New(headless.Options{})
	_, ts := newTestTextureSystem(t, dev)

	a, err := ts.Sampler(metadata.DefaultSamplerDesc())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := ts.Sampler(metadata.DefaultSamplerDesc())
	if a != b {
		t.Error("expected the same sampler for the same description")
	}
	clamp := metadata.DefaultSamplerDesc()
	clamp.AddressModeU = metadata.SamplerAddressClampToEdge
	c, _ := ts.Sampler(clamp)
	if c == a {
		t.Error("expected a different sampler for a different description")
	}
}

func TestTextureSourceRGBA(t *testing.T) {
	tests := []struct {
		name    string
		src     *metadata.TextureSource
		want    []byte
		wantErr bool
	}{
		{
			name: "rgba passthrough",
			src:  &metadata.TextureSource{Width: 1, Height: 1, Format: metadata.PixelFormatRGBA8, Pixels: []byte{1, 2, 3, 4}},
			want: []byte{1, 2, 3, 4},
		},
		{
			name: "rgb expanded with opaque alpha",
			src:  &metadata.TextureSource{Width: 2, Height: 1, Format: metadata.PixelFormatRGB8, Pixels: []byte{1, 2, 3, 4, 5, 6}},
			want: []byte{1, 2, 3, 255, 4, 5, 6, 255},
		},
		{
			name:    "size mismatch",
			src:     &metadata.TextureSource{Width: 2, Height: 2, Format: metadata.PixelFormatRGB8, Pixels: []byte{1, 2, 3}},
			wantErr: true,
		},
		{
			name:    "empty",
			src:     &metadata.TextureSource{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TextureSourceRGBA(tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if string(got) != string(tt.want) {
				t.Errorf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestTextureSourceFromImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(2, 2, 4, 3))
	img.Set(2, 2, color.NRGBA{R: 255, A: 255})
	img.Set(3, 2, color.NRGBA{G: 255, A: 255})

	src := TextureSourceFromImage("sub", img, true)
	if src.Width != 2 || src.Height != 1 || len(src.Pixels) != 8 {
		t.Fatalf("unexpected source %dx%d with %d bytes", src.Width, src.Height, len(src.Pixels))
	}
	want := []byte{255, 0, 0, 255, 0, 255, 0, 255}
	if string(src.Pixels) != string(want) {
		t.Errorf("got %v want %v", src.Pixels, want)
	}
	if !src.SRGB {
		t.Error("expected srgb flag to be kept")
	}
}
