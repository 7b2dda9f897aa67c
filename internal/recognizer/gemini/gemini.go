// Package gemini sends the image to Google's Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/senchpimy/image-ocr/internal/recognizer"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.5-flash-lite"
)

// ErrNoAPIKey is returned at startup when no key was configured.
var ErrNoAPIKey = errors.New("gemini API key missing (set GEMINI_API_KEY)")

func init() {
	recognizer.Register("gemini", func(ctx context.Context, opts recognizer.Options) (recognizer.Backend, error) {
		return New(opts)
	})
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Backend calls models/{model}:generateContent once per image.
type Backend struct {
	BaseURL   string
	Model     string
	Translate bool
	Client    *http.Client

	apiKey string
	log    *slog.Logger
}

// New fails without an API key so a misconfigured server never starts.
func New(opts recognizer.Options) (*Backend, error) {
	if opts.GeminiAPIKey == "" {
		return nil, ErrNoAPIKey
	}
	b := &Backend{
		BaseURL:   DefaultBaseURL,
		Model:     opts.GeminiModel,
		Translate: opts.Translate,
		Client:    &http.Client{Timeout: 60 * time.Second},
		apiKey:    opts.GeminiAPIKey,
		log:       opts.Logger.With("backend", "gemini"),
	}
	if b.Model == "" {
		b.Model = DefaultModel
	}
	return b, nil
}

func (b *Backend) Name() string { return "gemini" }

func (b *Backend) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(b.BaseURL, "/"), url.PathEscape(b.Model), url.QueryEscape(b.apiKey))
}

func (b *Backend) Recognize(ctx context.Context, img *recognizer.Image) (recognizer.Result, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{
		{Text: recognizer.Prompt(b.Translate)},
		{InlineData: &inlineData{MimeType: img.MIMEType(), Data: base64.StdEncoding.EncodeToString(img.Data)}},
	}}}})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		// The URL carries the key; keep it out of logs and responses.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("gemini returned %d with undecodable body: %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("gemini error %d: %s", out.Error.Code, out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini returned %d", resp.StatusCode)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("gemini returned no candidates")
	}

	text := out.Candidates[0].Content.Parts[0].Text
	b.log.Debug("gemini recognition", "model", b.Model, "chars", len(text))
	return recognizer.TextResult(strings.TrimSpace(text)), nil
}

func (b *Backend) Close() error {
	b.Client.CloseIdleConnections()
	return nil
}
