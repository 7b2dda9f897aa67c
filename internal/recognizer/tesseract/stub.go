//go:build !tesseract

package tesseract

import (
	"context"
	"errors"

	"github.com/senchpimy/image-ocr/internal/recognizer"
)

// ErrNotCompiled is returned when the binary was built without the tesseract tag.
var ErrNotCompiled = errors.New("tesseract support not compiled in (rebuild with -tags tesseract)")

func init() {
	recognizer.Register("tesseract", func(ctx context.Context, opts recognizer.Options) (recognizer.Backend, error) {
		return nil, ErrNotCompiled
	})
}
