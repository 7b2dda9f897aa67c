package utils

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tb := NewTailBuffer(8)
	tb.Write([]byte("0123456789"))
	if got := tb.String(); got != "23456789" {
		t.Errorf("TailBuffer = %q, want %q", got, "23456789")
	}
	tb.Write([]byte("ab"))
	if got := tb.String(); got != "456789ab" {
		t.Errorf("TailBuffer = %q, want %q", got, "456789ab")
	}
	if tb.Len() != 8 {
		t.Errorf("Len() = %d, want 8", tb.Len())
	}
}

func TestLineLoggerSplitsAndLevels(t *testing.T) {
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ll := &LineLogger{Log: log}

	// Lines arrive split across writes, as they do from a pipe.
	ll.Write([]byte("Cargando Paddle"))
	ll.Write([]byte("OCR...\n[WARNING] slow\r\nERROR boom\npartial"))

	got := out.String()
	for _, want := range []string{
		`level=INFO msg="Cargando PaddleOCR..."`,
		`level=WARN msg="[WARNING] slow"`,
		`level=ERROR msg="ERROR boom"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("log output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "partial") {
		t.Errorf("unterminated line was logged early:\n%s", got)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"Text info", "info", "text", false},
		{"JSON debug", "debug", "json", false},
		{"Default format", "warn", "", false},
		{"Bad level", "loud", "text", true},
		{"Bad format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogger(&bytes.Buffer{}, tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	sc := NewSafeCommand("sh", "-c", "echo oops >&2; exit 3")
	if err := sc.Run(); err == nil {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(sc.StderrTail(), "oops") {
		t.Errorf("StderrTail() = %q, want it to contain oops", sc.StderrTail())
	}
}
