// Package python runs recognition models that only exist in the Python
// ecosystem (PaddleOCR, LightOnOCR, GLM-OCR) inside a long-lived worker process.
package python

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/senchpimy/image-ocr/internal/recognizer"
	"github.com/senchpimy/image-ocr/internal/worker"
)

// Models lists the backend names served by the worker script.
var Models = []string{"paddle", "lighton", "glm-ocr"}

func init() {
	for _, m := range Models {
		model := m
		recognizer.Register(model, func(ctx context.Context, opts recognizer.Options) (recognizer.Backend, error) {
			return New(ctx, model, opts)
		})
	}
}

// spawnFunc starts a worker; tests replace it.
type spawnFunc func(ctx context.Context, cfg worker.Config) (*worker.PythonWorker, error)

// Backend forwards images to a Python worker. A worker that crashed or timed
// out is replaced on the next call.
type Backend struct {
	model string
	cfg   worker.Config
	spawn spawnFunc
	log   *slog.Logger

	mu sync.Mutex
	w  *worker.PythonWorker
}

// New starts the worker for model and blocks until its model is loaded.
func New(ctx context.Context, model string, opts recognizer.Options) (*Backend, error) {
	if opts.WorkerScript == "" {
		return nil, errors.New("worker script path is required")
	}
	pythonBin := opts.PythonBin
	if pythonBin == "" {
		pythonBin = "python3"
	}
	b := &Backend{
		model: model,
		cfg: worker.Config{
			PythonBin: pythonBin,
			Script:    opts.WorkerScript,
			Model:     model,
			Lang:      opts.Lang,
			Logger:    opts.Logger,
		},
		spawn: worker.NewPythonWorker,
		log:   opts.Logger.With("backend", model),
	}
	w, err := b.spawn(ctx, b.cfg)
	if err != nil {
		return nil, err
	}
	b.w = w
	return b, nil
}

func (b *Backend) Name() string { return b.model }

// Recognize sends the original encoded bytes; the worker decodes them itself.
func (b *Backend) Recognize(ctx context.Context, img *recognizer.Image) (recognizer.Result, error) {
	w, err := b.current(ctx)
	if err != nil {
		return nil, err
	}
	res, err := w.Recognize(ctx, img.Data, img.Format)
	if err != nil {
		var remote *worker.RemoteError
		if errors.As(err, &remote) {
			return nil, fmt.Errorf("%s raised: %w", b.model, err)
		}
		return nil, err
	}
	return recognizer.Result(res), nil
}

// current returns a healthy worker, respawning it if the last one broke.
func (b *Backend) current(ctx context.Context) (*worker.PythonWorker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.w != nil && !b.w.Broken() {
		return b.w, nil
	}
	if b.w != nil {
		b.log.Warn("python worker is broken, respawning")
		b.w.Close()
		b.w = nil
	}
	w, err := b.spawn(ctx, b.cfg)
	if err != nil {
		return nil, fmt.Errorf("respawn %s worker: %w", b.model, err)
	}
	b.w = w
	return w, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.w == nil {
		return nil
	}
	err := b.w.Close()
	b.w = nil
	return err
}
