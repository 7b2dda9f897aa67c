package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/senchpimy/image-ocr/internal/frame"
	"github.com/senchpimy/image-ocr/internal/recognizer"
	"github.com/senchpimy/image-ocr/internal/types"
)

// State is where a session is in its request/response cycle.
type State int32

const (
	AwaitingHeader State = iota
	AwaitingPayload
	Processing
	SendingResponse
	Closed
)

func (st State) String() string {
	switch st {
	case AwaitingHeader:
		return "awaiting_header"
	case AwaitingPayload:
		return "awaiting_payload"
	case Processing:
		return "processing"
	case SendingResponse:
		return "sending_response"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// session serves one client connection, one request at a time.
type session struct {
	id    string
	conn  net.Conn
	state atomic.Int32
	log   *slog.Logger
}

func (sess *session) setState(st State) { sess.state.Store(int32(st)) }

// wakeIfIdle makes a pending header read return at once. Sessions in the
// middle of a request are left to finish it.
func (sess *session) wakeIfIdle() {
	if State(sess.state.Load()) == AwaitingHeader {
		sess.conn.SetReadDeadline(time.Now())
	}
}

// deadline converts a timeout into an absolute deadline; zero means none.
func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// handle runs the session loop until the client leaves, the connection faults
// or the server shuts down. The connection is closed on every path.
func (s *Server) handle(ctx, hardCtx context.Context, conn net.Conn) {
	sess := &session{id: uuid.NewString(), conn: conn}
	sess.log = s.log.With("session_id", sess.id)
	s.track(sess)
	defer func() {
		sess.setState(Closed)
		conn.Close()
		s.untrack(sess)
	}()

	sess.log.Info("client connected")
	for served := 0; ; served++ {
		// The state is published before the deadline and the shutdown check,
		// so a concurrent wakeIfIdle can never be missed.
		sess.setState(AwaitingHeader)
		conn.SetReadDeadline(deadline(s.cfg.IdleTimeout))
		if ctx.Err() != nil {
			sess.log.Info("closing client for shutdown", "requests", served)
			return
		}

		n, err := s.frames.ReadHeader(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				sess.log.Info("client disconnected", "requests", served)
			case isTimeout(err) && ctx.Err() != nil:
				sess.log.Info("closing client for shutdown", "requests", served)
			case isTimeout(err):
				sess.log.Info("client idle, closing", "idle_timeout", s.cfg.IdleTimeout, "requests", served)
			case errors.Is(err, frame.ErrFraming):
				s.metrics.RecordFramingError("header")
				sess.log.Warn("framing error, closing", "stage", "header", "err", err)
			default:
				sess.log.Warn("read failed, closing", "stage", "header", "err", err)
			}
			return
		}

		sess.setState(AwaitingPayload)
		conn.SetReadDeadline(deadline(s.cfg.ReadTimeout))
		payload, err := s.frames.ReadPayload(conn, n)
		if err != nil {
			s.metrics.RecordFramingError("payload")
			sess.log.Warn("framing error, closing", "stage", "payload", "declared", n, "err", err)
			return
		}
		s.metrics.PayloadBytes.Observe(float64(len(payload)))

		sess.setState(Processing)
		rec := s.process(hardCtx, sess, payload)

		sess.setState(SendingResponse)
		conn.SetWriteDeadline(deadline(s.cfg.WriteTimeout))
		if err := frame.WriteFrame(conn, rec.body); err != nil {
			s.metrics.RecordFramingError("write")
			sess.log.Warn("write failed, closing", "err", err)
			return
		}

		s.metrics.RecordRequest(s.backend, string(rec.Outcome), rec.Duration)
		if s.rec != nil {
			rec.CreatedAt = time.Now()
			s.rec.Record(rec.RequestRecord)
		}
	}
}

type processed struct {
	types.RequestRecord
	body []byte
}

// process turns one payload into the JSON response body. It never fails:
// every problem becomes an {"error": ...} object.
func (s *Server) process(ctx context.Context, sess *session, payload []byte) processed {
	out := processed{RequestRecord: types.RequestRecord{
		ID:           uuid.NewString(),
		SessionID:    sess.id,
		Backend:      s.backend,
		PayloadBytes: len(payload),
	}}

	img, err := recognizer.DecodeImageLimit(payload, s.cfg.MaxImagePixels)
	if err != nil {
		sess.log.Info("invalid image", "bytes", len(payload), "err", err)
		out.Outcome = types.OutcomeInvalidImage
		out.Error = s.cfg.InvalidImageMessage
		out.body = encodeJSON(types.ErrorResult{Error: s.cfg.InvalidImageMessage})
		return out
	}

	if s.cfg.RecognizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RecognizeTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.gate.Recognize(ctx, img)
	out.Duration = time.Since(start)
	if err != nil {
		sess.log.Warn("recognition failed", "err", err, "duration", out.Duration)
		return s.fail(out, err.Error())
	}
	if res == nil {
		res = recognizer.Result{}
	}

	body, err := marshalJSON(res)
	if err != nil {
		sess.log.Warn("backend result is not JSON-encodable", "err", err)
		return s.fail(out, "result encoding failed: "+err.Error())
	}
	sess.log.Debug("recognized",
		"format", img.Format,
		"width", img.Width(),
		"height", img.Height(),
		"duration", out.Duration,
	)
	out.Outcome = types.OutcomeOK
	out.body = body
	return out
}

func (s *Server) fail(out processed, msg string) processed {
	out.Outcome = types.OutcomeBackendError
	out.Error = msg
	out.body = encodeJSON(types.ErrorResult{Error: msg})
	return out
}

// marshalJSON encodes v without HTML escaping, so text such as "<b>" or
// "a & b" reaches the client unchanged. Non-ASCII is written as UTF-8, except
// U+2028 and U+2029, which encoding/json always escapes as \u2028 and \u2029.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// encodeJSON is marshalJSON for values that always encode.
func encodeJSON(v any) []byte {
	b, _ := marshalJSON(v)
	return b
}
