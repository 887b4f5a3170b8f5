package systems

import (
	"image"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"golang.org/x/image/draw"
)

const DEFAULT_TEXTURE_NAME = "default"

type TextureSystemConfig struct {
	/** @brief The maximum number of distinct samplers kept in the cache. */
	MaxSamplerCount int
}

type TextureSystem struct {
	Config *TextureSystemConfig
	// 1x1 white texture bound to every material slot that has no texture.
	DefaultTexture *metadata.Texture

	device  renderer.Device
	memory  *MemorySystem
	uploads *UploadSystem

	mu       sync.Mutex
	samplers map[metadata.SamplerDesc]metadata.Handle
}

func NewTextureSystem(config *TextureSystemConfig, device renderer.Device, memory *MemorySystem, uploads *UploadSystem) (*TextureSystem, error) {
	if config.MaxSamplerCount <= 0 {
		err := errors.New("func NewTextureSystem - config.MaxSamplerCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &TextureSystem{
		Config:   config,
		device:   device,
		memory:   memory,
		uploads:  uploads,
		samplers: make(map[metadata.SamplerDesc]metadata.Handle),
	}, nil
}

// Initialize creates the default texture. It is read-only until Shutdown.
func (ts *TextureSystem) Initialize() error {
	src := &metadata.TextureSource{
		Name:    DEFAULT_TEXTURE_NAME,
		Width:   1,
		Height:  1,
		Format:  metadata.PixelFormatRGBA8,
		Pixels:  []byte{255, 255, 255, 255},
		Sampler: metadata.DefaultSamplerDesc(),
	}
	t, err := ts.CreateTexture(src)
	if err != nil {
		return errors.Wrap(err, "creating default texture")
	}
	ts.DefaultTexture = t
	core.LogDebug("default texture created")
	return nil
}

// Sampler returns the cached sampler for desc, creating it on first use.
func (ts *TextureSystem) Sampler(desc metadata.SamplerDesc) (metadata.Handle, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if s, ok := ts.samplers[desc]; ok {
		return s, nil
	}
	if len(ts.samplers) >= ts.Config.MaxSamplerCount {
		return nil, errors.Newf("sampler cache is full (%d samplers)", ts.Config.MaxSamplerCount)
	}
	s, err := ts.device.CreateSampler(desc)
	if err != nil {
		return nil, errors.Wrap(err, "creating sampler")
	}
	ts.samplers[desc] = s
	return s, nil
}

/**
 * @brief Uploads a texture and pairs it with a cached sampler whose max LOD
 * covers the generated mip chain.
 */
func (ts *TextureSystem) CreateTexture(src *metadata.TextureSource) (*metadata.Texture, error) {
	img, err := ts.uploads.UploadImage(src)
	if err != nil {
		return nil, err
	}
	desc := src.Sampler
	desc.MaxLod = float32(img.MipLevels)
	sampler, err := ts.Sampler(desc)
	if err != nil {
		ts.memory.DestroyImage(img)
		return nil, err
	}
	return &metadata.Texture{
		ID:      core.NewUUID(),
		Name:    src.Name,
		Image:   img,
		Sampler: sampler,
	}, nil
}

// DestroyTexture releases the image. Samplers are shared and live until Shutdown.
func (ts *TextureSystem) DestroyTexture(t *metadata.Texture) {
	if t == nil || t == ts.DefaultTexture {
		return
	}
	ts.memory.DestroyImage(t.Image)
	t.Image = nil
}

func (ts *TextureSystem) Shutdown() error {
	if ts.DefaultTexture != nil {
		ts.memory.DestroyImage(ts.DefaultTexture.Image)
		ts.DefaultTexture = nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for desc, s := range ts.samplers {
		ts.device.DestroySampler(s)
		delete(ts.samplers, desc)
	}
	return nil
}

// TextureSourceRGBA returns the pixels of src as tightly packed RGBA8,
// expanding 24-bit RGB data with an opaque alpha channel.
func TextureSourceRGBA(src *metadata.TextureSource) ([]byte, error) {
	if src == nil || src.Width == 0 || src.Height == 0 {
		return nil, errors.New("texture has no pixels")
	}
	texels := int(src.Width) * int(src.Height)
	switch src.Format {
	case metadata.PixelFormatRGBA8:
		if len(src.Pixels) != texels*4 {
			return nil, errors.Newf("texture %q: expected %d bytes of RGBA data, got %d", src.Name, texels*4, len(src.Pixels))
		}
		return src.Pixels, nil
	case metadata.PixelFormatRGB8:
		if len(src.Pixels) != texels*3 {
			return nil, errors.Newf("texture %q: expected %d bytes of RGB data, got %d", src.Name, texels*3, len(src.Pixels))
		}
		out := make([]byte, texels*4)
		for i := 0; i < texels; i++ {
			out[i*4+0] = src.Pixels[i*3+0]
			out[i*4+1] = src.Pixels[i*3+1]
			out[i*4+2] = src.Pixels[i*3+2]
			out[i*4+3] = 255
		}
		return out, nil
	}
	return nil, errors.Newf("texture %q: unsupported pixel format %d", src.Name, src.Format)
}

// TextureSourceFromImage converts any decoded image into an RGBA8 texture source.
func TextureSourceFromImage(name string, img image.Image, srgb bool) *metadata.TextureSource {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &metadata.TextureSource{
		Name:    name,
		Width:   uint32(b.Dx()),
		Height:  uint32(b.Dy()),
		Format:  metadata.PixelFormatRGBA8,
		Pixels:  rgba.Pix,
		Sampler: metadata.DefaultSamplerDesc(),
		SRGB:    srgb,
	}
}
