// Package server accepts clients on a Unix socket and answers each framed
// image with a framed JSON recognition result.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/senchpimy/image-ocr/internal/config"
	"github.com/senchpimy/image-ocr/internal/frame"
	"github.com/senchpimy/image-ocr/internal/metrics"
	"github.com/senchpimy/image-ocr/internal/recognizer"
	"github.com/senchpimy/image-ocr/internal/types"
)

// Recorder receives one record per completed request.
type Recorder interface {
	Record(rec types.RequestRecord)
}

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server owns the listening socket and the shared, gated backend.
type Server struct {
	cfg     config.Config
	gate    *recognizer.Exclusive
	backend string
	frames  *frame.Reader
	log     *slog.Logger
	metrics *metrics.Metrics
	rec     Recorder

	ready    chan struct{}
	active   atomic.Int64
	mu       sync.Mutex
	sessions map[*session]struct{}
	grace    *time.Timer
	wg       sync.WaitGroup
}

// New wraps backend in an exclusive gate. m and rec may be nil.
func New(cfg config.Config, backend recognizer.Backend, log *slog.Logger, m *metrics.Metrics, rec Recorder) *Server {
	if m == nil {
		m = metrics.New()
	}
	gate := recognizer.NewExclusive(backend)
	gate.OnWait = m.ObserveGateWait
	return &Server{
		cfg:      cfg,
		gate:     gate,
		backend:  backend.Name(),
		frames:   frame.NewReader(uint64(cfg.MaxPayloadBytes)),
		log:      log,
		metrics:  m,
		rec:      rec,
		ready:    make(chan struct{}),
		sessions: make(map[*session]struct{}),
	}
}

// Ready is closed once the socket accepts connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// ActiveSessions reports how many clients are connected.
func (s *Server) ActiveSessions() int { return int(s.active.Load()) }

// Serve binds the socket and serves clients until ctx is cancelled or the
// listener fails. On return the backend is closed and the socket file removed.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		if err := s.gate.Close(); err != nil {
			s.log.Warn("backend close failed", "err", err)
		}
	}()

	mode, err := s.cfg.FileMode()
	if err != nil {
		return err
	}
	ln, err := Listen(s.cfg.SocketPath, mode, s.cfg.Backlog)
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to remove socket file", "path", s.cfg.SocketPath, "err", err)
		}
	}()

	s.log.Info("listening",
		"socket", s.cfg.SocketPath,
		"mode", s.cfg.Mode,
		"backend", s.backend,
		"backlog", s.cfg.Backlog,
	)
	close(s.ready)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Recognition calls outlive ctx so in-flight requests can finish during
	// the grace period; hardCancel ends them when it runs out.
	hardCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer hardCancel()

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		s.beginShutdown(hardCancel)
	})
	defer stop()

	err = s.acceptLoop(ctx, hardCtx, ln)
	cancel()
	s.wg.Wait()
	s.mu.Lock()
	if s.grace != nil {
		s.grace.Stop()
	}
	s.mu.Unlock()
	s.log.Info("server stopped")
	return err
}

func (s *Server) acceptLoop(ctx, hardCtx context.Context, ln net.Listener) error {
	var slots chan struct{}
	concurrent := s.cfg.Mode == config.ModeConcurrent
	if concurrent && s.cfg.MaxSessions > 0 {
		slots = make(chan struct{}, s.cfg.MaxSessions)
	}

	var backoff time.Duration
	for {
		if slots != nil {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if slots != nil {
				<-slots
			}
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				if backoff == 0 {
					backoff = minAcceptBackoff
				} else {
					backoff = min(backoff*2, maxAcceptBackoff)
				}
				s.log.Warn("accept failed, retrying", "err", err, "backoff", backoff)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil
				}
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if !concurrent {
			s.handle(ctx, hardCtx, conn)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if slots != nil {
				defer func() { <-slots }()
			}
			s.handle(ctx, hardCtx, conn)
		}()
	}
}

// beginShutdown wakes idle sessions so they close at once and arms the
// grace timer that force-closes the busy ones.
func (s *Server) beginShutdown(hardCancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("shutting down", "sessions", len(s.sessions), "grace", s.cfg.ShutdownGrace)
	for sess := range s.sessions {
		sess.wakeIfIdle()
	}
	s.grace = time.AfterFunc(s.cfg.ShutdownGrace, func() { s.forceClose(hardCancel) })
}

func (s *Server) forceClose(hardCancel context.CancelFunc) {
	s.mu.Lock()
	n := len(s.sessions)
	for sess := range s.sessions {
		sess.conn.Close()
	}
	s.mu.Unlock()
	if n > 0 {
		s.log.Warn("shutdown grace expired, closed remaining clients", "count", n)
	}
	hardCancel()
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.active.Add(1)
	s.metrics.SessionStarted()
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.active.Add(-1)
	s.metrics.SessionEnded()
}
