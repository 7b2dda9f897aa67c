// Package ollama asks a local Ollama server running a vision model to read the image.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/senchpimy/image-ocr/internal/recognizer"
)

const (
	DefaultURL   = "http://localhost:11434"
	DefaultModel = "gemma3:12b"
)

func init() {
	recognizer.Register("ollama", func(ctx context.Context, opts recognizer.Options) (recognizer.Backend, error) {
		return New(opts), nil
	})
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Stream bool     `json:"stream"`
	Images []string `json:"images"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Backend calls POST /api/generate once per image.
type Backend struct {
	URL       string
	Model     string
	Translate bool
	Client    *http.Client
	log       *slog.Logger
}

// New does not contact the server; a missing Ollama shows up as a per-request error.
func New(opts recognizer.Options) *Backend {
	b := &Backend{
		URL:       strings.TrimRight(opts.OllamaURL, "/"),
		Model:     opts.OllamaModel,
		Translate: opts.Translate,
		// Deadlines come from the request context.
		Client: &http.Client{},
		log:    opts.Logger.With("backend", "ollama"),
	}
	if b.URL == "" {
		b.URL = DefaultURL
	}
	if b.Model == "" {
		b.Model = DefaultModel
	}
	return b
}

func (b *Backend) Name() string { return "ollama" }

func (b *Backend) Recognize(ctx context.Context, img *recognizer.Image) (recognizer.Result, error) {
	body, err := json.Marshal(generateRequest{
		Model:  b.Model,
		Prompt: recognizer.Prompt(b.Translate),
		Stream: false,
		Images: []string{base64.StdEncoding.EncodeToString(img.Data)},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, out.Error)
	}

	b.log.Debug("ollama recognition", "model", b.Model, "chars", len(out.Response))
	return recognizer.TextResult(strings.TrimSpace(out.Response)), nil
}

func (b *Backend) Close() error {
	b.Client.CloseIdleConnections()
	return nil
}
