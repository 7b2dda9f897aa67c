package recognizer

import (
	"context"
	"log/slog"
)

func init() {
	Register("noop", func(ctx context.Context, opts Options) (Backend, error) {
		return &noopBackend{log: opts.Logger}, nil
	})
}

// noopBackend accepts every image and reports nothing. It exists so the
// socket, framing and client paths can be exercised without a model.
type noopBackend struct {
	log *slog.Logger
}

func (n *noopBackend) Name() string { return "noop" }

func (n *noopBackend) Recognize(ctx context.Context, img *Image) (Result, error) {
	n.log.Debug("noop recognition", "format", img.Format, "width", img.Width(), "height", img.Height())
	return Result{}, nil
}

func (n *noopBackend) Close() error { return nil }
