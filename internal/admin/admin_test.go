package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/senchpimy/image-ocr/internal/metrics"
)

func newTestServer(m *metrics.Metrics) *Server {
	return New(m, Info{
		Version:        "test",
		Backend:        "noop",
		ActiveSessions: func() int { return 3 },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealth(t *testing.T) {
	s := newTestServer(metrics.New())

	resp, err := s.App().Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Backend != "noop" || h.ActiveSessions != 3 || h.Version != "test" {
		t.Errorf("health = %+v", h)
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.RecordFramingError("header")
	s := newTestServer(m)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `ocrbridge_framing_errors_total{stage="header"} 1`) {
		t.Errorf("/metrics missing framing counter:\n%s", body)
	}
}

func TestListenLoopbackOnly(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:0", false},
		{"localhost:0", false},
		{"0.0.0.0:0", true},
		{"192.0.2.10:9090", true},
		{"no-port", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			ln, err := Listen(tt.addr)
			if ln != nil {
				ln.Close()
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Listen(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}
