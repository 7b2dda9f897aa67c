package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
	if cfg.SocketPath != "/tmp/paddle_socket_unix" {
		t.Errorf("default socket = %q", cfg.SocketPath)
	}
	if cfg.InvalidImageMessage != "IMAGEN INVALIDA" {
		t.Errorf("default invalid image message = %q", cfg.InvalidImageMessage)
	}
}

func TestLayering(t *testing.T) {
	yamlPath := writeFile(t, "ocrbridge.yaml", `
socket_path: /run/from-yaml.sock
backlog: 16
mode: concurrent
idle_timeout: 45s
backend: tesseract
`)
	envPath := writeFile(t, ".env", `
OCR_BACKLOG=32
OCR_LANG=en
OCR_BACKEND=from-dotenv
GEMINI_API_KEY=dotenv-key
`)
	t.Setenv("OCR_BACKEND", "ollama") // real env beats .env
	t.Setenv("OCR_READ_TIMEOUT", "3s")

	cfg, err := Load(yamlPath, envPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := NewFlags()
	flags.Global(fs)
	flags.Serve(fs)
	if err := fs.Parse([]string{"--socket", "/run/from-flag.sock", "--max-sessions", "4"}); err != nil {
		t.Fatal(err)
	}
	flags.Apply(fs, &cfg)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"flag beats yaml", cfg.SocketPath, "/run/from-flag.sock"},
		{"flag only", cfg.MaxSessions, 4},
		{".env beats yaml", cfg.Backlog, 32},
		{"env beats .env", cfg.Backend, "ollama"},
		{"yaml beats default", cfg.Mode, ModeConcurrent},
		{"yaml duration", cfg.IdleTimeout, 45 * time.Second},
		{"env duration", cfg.ReadTimeout, 3 * time.Second},
		{".env only", cfg.Lang, "en"},
		{"unprefixed gemini key", cfg.GeminiAPIKey, "dotenv-key"},
		{"untouched default", cfg.WriteTimeout, 30 * time.Second},
		{"unset flag keeps default", cfg.SocketMode, "0660"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoadRejectsUnknownYAMLKeys(t *testing.T) {
	p := writeFile(t, "bad.yaml", "sokcet_path: /tmp/typo\n")
	if _, err := Load(p, ""); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadEmptyYAML(t *testing.T) {
	p := writeFile(t, "empty.yaml", "")
	cfg, err := Load(p, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backlog != 5 {
		t.Errorf("Backlog = %d, want default 5", cfg.Backlog)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Valid", func(c *Config) {}, ""},
		{"Empty socket", func(c *Config) { c.SocketPath = "" }, "socket_path"},
		{"Zero backlog", func(c *Config) { c.Backlog = 0 }, "backlog"},
		{"Unknown mode", func(c *Config) { c.Mode = "parallel" }, "mode"},
		{"Negative sessions", func(c *Config) { c.MaxSessions = -1 }, "max_sessions"},
		{"Zero payload", func(c *Config) { c.MaxPayloadBytes = 0 }, "max_payload_bytes"},
		{"Negative timeout", func(c *Config) { c.ReadTimeout = -time.Second }, "read_timeout"},
		{"Zero timeout allowed", func(c *Config) { c.IdleTimeout = 0 }, ""},
		{"Bad socket mode", func(c *Config) { c.SocketMode = "rw-rw----" }, "socket_mode"},
		{"Socket mode too wide", func(c *Config) { c.SocketMode = "7777" }, "socket_mode"},
		{"Zero image pixels", func(c *Config) { c.MaxImagePixels = 0 }, "max_image_pixels"},
		{"No backend", func(c *Config) { c.Backend = "" }, "backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestFileMode(t *testing.T) {
	cfg := Defaults()
	m, err := cfg.FileMode()
	if err != nil {
		t.Fatal(err)
	}
	if m != 0o660 {
		t.Errorf("FileMode() = %o, want 660", m)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.GeminiAPIKey = "AIza-secret"
	cfg.DBURL = "postgres://ocr:hunter2@db:5432/ocr"
	out := cfg.Redacted()
	for _, secret := range []string{"AIza-secret", "hunter2"} {
		if strings.Contains(out, secret) {
			t.Errorf("Redacted() leaks %q:\n%s", secret, out)
		}
	}
	if !strings.Contains(out, "postgres://ocr:****@db:5432/ocr") {
		t.Errorf("Redacted() db_url not masked as expected:\n%s", out)
	}
}
