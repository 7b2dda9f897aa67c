//go:build tesseract

package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/senchpimy/image-ocr/internal/recognizer"
)

func init() {
	recognizer.Register("tesseract", func(ctx context.Context, opts recognizer.Options) (recognizer.Backend, error) {
		return New(opts)
	})
}

// Backend holds one gosseract client for the life of the server. The client
// is not safe for concurrent use; the server's gate guarantees one call at a time.
type Backend struct {
	client *gosseract.Client
	log    *slog.Logger
}

// New creates the client and loads the configured languages.
func New(opts recognizer.Options) (*Backend, error) {
	c := gosseract.NewClient()
	if langs := Languages(opts.Lang); len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			c.Close()
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	opts.Logger.Info("tesseract ready", "languages", opts.Lang)
	return &Backend{client: c, log: opts.Logger}, nil
}

func (b *Backend) Name() string { return "tesseract" }

// Recognize returns one region per word, in the same shape PaddleOCR uses.
func (b *Backend) Recognize(ctx context.Context, img *recognizer.Image) (recognizer.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.client.SetImageFromBytes(img.Data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := b.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("recognize words: %w", err)
	}

	regions := make([]recognizer.TextRegion, 0, len(boxes))
	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" {
			continue
		}
		r := box.Box
		regions = append(regions, recognizer.TextRegion{
			Text:  word,
			Poly:  [][2]int{{r.Min.X, r.Min.Y}, {r.Max.X, r.Min.Y}, {r.Max.X, r.Max.Y}, {r.Min.X, r.Max.Y}},
			Score: box.Confidence / 100.0,
		})
	}
	b.log.Debug("tesseract recognition", "words", len(regions))
	return recognizer.RegionsResult(regions), nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}
