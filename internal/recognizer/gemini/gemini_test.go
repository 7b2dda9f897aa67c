package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/senchpimy/image-ocr/internal/recognizer"
)

func TestNewRequiresKey(t *testing.T) {
	_, err := New(recognizer.Options{Logger: slog.Default()})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("New() error = %v, want ErrNoAPIKey", err)
	}
}

func TestRecognize(t *testing.T) {
	img := &recognizer.Image{Data: []byte{0xFF, 0xD8}, Format: "jpeg"}

	tests := []struct {
		name     string
		status   int
		body     string
		wantText string
		wantErr  string
	}{
		{"Success", 200, `{"candidates":[{"content":{"parts":[{"text":"Texto leído\n"}]}}]}`, "Texto leído", ""},
		{"API error", 400, `{"error":{"code":400,"message":"API key not valid"}}`, "", "API key not valid"},
		{"No candidates", 200, `{"candidates":[]}`, "", "no candidates"},
		{"Not JSON", 500, `oops`, "", "undecodable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if want := "/models/" + DefaultModel + ":generateContent"; r.URL.Path != want {
					t.Errorf("path = %q, want %q", r.URL.Path, want)
				}
				if r.URL.Query().Get("key") != "secret" {
					t.Errorf("key = %q", r.URL.Query().Get("key"))
				}
				var req generateRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("bad body: %v", err)
				}
				parts := req.Contents[0].Parts
				if len(parts) != 2 || parts[1].InlineData == nil || parts[1].InlineData.MimeType != "image/jpeg" {
					t.Errorf("parts = %+v", parts)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			b, err := New(recognizer.Options{GeminiAPIKey: "secret", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
			if err != nil {
				t.Fatal(err)
			}
			b.BaseURL = srv.URL

			res, err := b.Recognize(context.Background(), img)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Recognize() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Recognize() error = %v", err)
			}
			if res["text"] != tt.wantText {
				t.Errorf("text = %q, want %q", res["text"], tt.wantText)
			}
		})
	}
}

func TestErrorsDoNotLeakKey(t *testing.T) {
	b, err := New(recognizer.Options{GeminiAPIKey: "top-secret", Logger: slog.Default()})
	if err != nil {
		t.Fatal(err)
	}
	b.BaseURL = "http://127.0.0.1:1" // nothing listens here
	_, err = b.Recognize(context.Background(), &recognizer.Image{Data: []byte("x"), Format: "png"})
	if err == nil {
		t.Fatal("expected connection error")
	}
	if strings.Contains(err.Error(), "top-secret") {
		t.Errorf("error leaks API key: %v", err)
	}
}
