// Package client talks to a running ocrbridge server over its Unix socket.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/senchpimy/image-ocr/internal/frame"
)

// ServerError is an {"error": ...} response.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "server: " + e.Message }

// Client is one connection. Requests on it are answered in order; it is not
// safe for concurrent use.
type Client struct {
	conn   net.Conn
	frames *frame.Reader
}

// Dial connects to the server socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", path, err)
	}
	return &Client{conn: conn, frames: frame.NewReader(0)}, nil
}

// RecognizeRaw sends one encoded image and returns the JSON response as sent.
func (c *Client) RecognizeRaw(ctx context.Context, image []byte) (json.RawMessage, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(dl)
	} else {
		c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := frame.WriteFrame(c.conn, image); err != nil {
		return nil, c.ctxErr(ctx, err)
	}
	resp, err := c.frames.ReadFrame(c.conn)
	if err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("read response: %w", err))
	}
	return resp, nil
}

// Recognize is RecognizeRaw plus decoding. An {"error": ...} reply is
// returned as *ServerError.
func (c *Client) Recognize(ctx context.Context, image []byte) (map[string]any, error) {
	raw, err := c.RecognizeRaw(ctx, image)
	if err != nil {
		return nil, err
	}
	var res map[string]any
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if msg, ok := res["error"].(string); ok && len(res) == 1 {
		return nil, &ServerError{Message: msg}
	}
	return res, nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close ends the session; the server sees an orderly disconnect.
func (c *Client) Close() error {
	return c.conn.Close()
}
