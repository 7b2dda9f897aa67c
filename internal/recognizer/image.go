package recognizer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // GIF support
	_ "image/jpeg" // JPEG support
	_ "image/png"  // PNG support

	_ "golang.org/x/image/bmp"  // BMP support
	_ "golang.org/x/image/tiff" // TIFF support
	_ "golang.org/x/image/webp" // WebP support
)

// ErrInvalidImage is returned by DecodeImage when the bytes are not an image.
var ErrInvalidImage = errors.New("invalid image")

// DefaultMaxPixels bounds width*height of a decoded image, the same ceiling
// OpenCV applies in imdecode.
const DefaultMaxPixels int64 = 1 << 30

// Image is a request payload that decoded successfully.
type Image struct {
	// Data holds the original encoded bytes, for backends that prefer them.
	Data   []byte
	Format string // "png", "jpeg", "gif", "bmp", "tiff" or "webp"
	Pixels image.Image
}

// Width returns the image width in pixels.
func (img *Image) Width() int { return img.Pixels.Bounds().Dx() }

// Height returns the image height in pixels.
func (img *Image) Height() int { return img.Pixels.Bounds().Dy() }

// MIMEType returns the content type matching Format.
func (img *Image) MIMEType() string {
	return "image/" + img.Format
}

// DecodeImage fully decodes data with DefaultMaxPixels as the size limit.
func DecodeImage(data []byte) (*Image, error) {
	return DecodeImageLimit(data, DefaultMaxPixels)
}

// DecodeImageLimit fully decodes data. A truncated or corrupt body fails here
// rather than inside a backend. The header is read first and an image declaring
// more than maxPixels pixels is rejected before any pixel buffer is allocated;
// maxPixels <= 0 means DefaultMaxPixels.
func DecodeImageLimit(data []byte, maxPixels int64) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	px, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if b := px.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	return &Image{Data: data, Format: format, Pixels: px}, nil
}

// FullFramePoly is the polygon covering the whole image, clockwise from the
// top-left corner. Whole-image text backends report it as their only region.
func (img *Image) FullFramePoly() [][2]int {
	w, h := img.Width(), img.Height()
	return [][2]int{{0, 0}, {w, 0}, {w, h}, {0, h}}
}
