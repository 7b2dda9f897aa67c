// Package admin serves /metrics and /health on a loopback HTTP address.
// Recognition traffic never goes through it.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/senchpimy/image-ocr/internal/metrics"
	"github.com/shirou/gopsutil/v3/process"
)

// Info describes the running server to /health.
type Info struct {
	Version string
	Backend string
	// ActiveSessions reports the number of connected clients.
	ActiveSessions func() int
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status         string    `json:"status"`
	Time           time.Time `json:"time"`
	Version        string    `json:"version"`
	GoVersion      string    `json:"goVersion"`
	Uptime         string    `json:"uptime"`
	Backend        string    `json:"backend"`
	ActiveSessions int       `json:"activeSessions"`
	RSSBytes       uint64    `json:"rssBytes,omitempty"`
	CPUPercent     float64   `json:"cpuPercent,omitempty"`
}

// Server is the admin HTTP app.
type Server struct {
	app   *fiber.App
	info  Info
	start time.Time
	proc  *process.Process
	log   *slog.Logger
}

// New builds the app; call Serve to start it.
func New(m *metrics.Metrics, info Info, log *slog.Logger) *Server {
	s := &Server{info: info, start: time.Now(), log: log}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	} else {
		log.Warn("process stats unavailable", "err", err)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "ocrbridge admin",
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Get("/health", s.health)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) health(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status:    "ok",
		Time:      time.Now(),
		Version:   s.info.Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.start).Round(time.Second).String(),
		Backend:   s.info.Backend,
	}
	if s.info.ActiveSessions != nil {
		resp.ActiveSessions = s.info.ActiveSessions()
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := s.proc.CPUPercent(); err == nil {
			resp.CPUPercent = cpu
		}
	}
	return c.JSON(resp)
}

// Listen binds addr, which must resolve to a loopback interface.
func Listen(addr string) (net.Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid admin address %q: %w", addr, err)
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return nil, fmt.Errorf("admin address %q is not a loopback address", addr)
		}
	}
	return net.Listen("tcp", addr)
}

// Serve runs the app on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.log.Info("admin endpoint listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return fmt.Errorf("admin shutdown: %w", err)
		}
		return nil
	}
}
