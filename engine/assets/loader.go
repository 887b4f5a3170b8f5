package assets

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/systems"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// LoadTexture decodes an image file into an RGBA8 texture source named after the file.
func LoadTexture(path string, srgb bool) (*metadata.TextureSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening texture %s", path)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding texture %s", path)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, errors.Newf("texture %s has no pixels", path)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	core.LogDebug("texture decoded", "path", path, "format", format, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return systems.TextureSourceFromImage(name, img, srgb), nil
}

// LoadTexture resolves a root-relative texture asset and decodes it.
func (am *AssetManager) LoadTexture(path string, srgb bool) (*metadata.TextureSource, error) {
	a, ok := am.Lookup(path)
	if !ok {
		return nil, errors.Newf("asset not found: %s", path)
	}
	if a.Type != AssetTypeTexture {
		return nil, errors.Newf("asset %s is a %s, not a texture", path, a.Type)
	}
	return LoadTexture(am.Abs(path), srgb)
}
