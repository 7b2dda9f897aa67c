// Package frame implements the length-prefixed framing used on the bridge socket.
//
// Every message in either direction is an 8-byte big-endian unsigned length
// followed by exactly that many payload bytes:
//
//	[uint64 N][N bytes]
//
// Requests carry raw encoded image bytes and responses carry a UTF-8 JSON object.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// HeaderSize is the size of the length prefix in bytes.
const HeaderSize = 8

// DefaultMaxPayload caps a single frame when no ceiling is configured.
const DefaultMaxPayload = 64 << 20

var (
	// ErrFraming reports a stream whose framing can no longer be trusted.
	ErrFraming = errors.New("framing error")
	// ErrFrameTooLarge reports a header declaring more bytes than the configured ceiling.
	ErrFrameTooLarge = fmt.Errorf("%w: frame exceeds payload ceiling", ErrFraming)
)

// TruncatedError is returned when the peer closed after sending part of a read.
type TruncatedError struct {
	Stage string // "header" or "payload"
	Got   int
	Want  uint64
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("truncated %s: got %d of %d bytes", e.Stage, e.Got, e.Want)
}

// Unwrap lets errors.Is match ErrFraming.
func (e *TruncatedError) Unwrap() error { return ErrFraming }

// Encode prefixes payload with its length.
func Encode(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint64(buf, uint64(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeHeader parses the length prefix at the start of b.
func DecodeHeader(b []byte) (uint64, error) {
	if len(b) < HeaderSize {
		return 0, &TruncatedError{Stage: "header", Got: len(b), Want: HeaderSize}
	}
	return binary.BigEndian.Uint64(b[:HeaderSize]), nil
}

// ReadExact reads exactly n bytes from r.
//
// It returns io.EOF when the stream ends before any byte was read, which callers
// treat as an orderly close at a frame boundary. A stream that ends after 1..n-1
// bytes yields a *TruncatedError. Other errors (deadlines, resets) pass through.
func ReadExact(r io.Reader, n uint64) ([]byte, error) {
	return readExact(r, n, "payload")
}

func readExact(r io.Reader, n uint64, stage string) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF) && got == 0:
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, &TruncatedError{Stage: stage, Got: got, Want: n}
	default:
		return nil, err
	}
}

// Reader reads whole frames and enforces a payload ceiling.
type Reader struct {
	MaxPayload uint64
}

// NewReader returns a Reader with the given ceiling; zero selects DefaultMaxPayload.
func NewReader(maxPayload uint64) *Reader {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Reader{MaxPayload: maxPayload}
}

// ReadHeader reads the length prefix. io.EOF means the peer closed cleanly
// before starting a new frame.
func (fr *Reader) ReadHeader(r io.Reader) (uint64, error) {
	hdr, err := readExact(r, HeaderSize, "header")
	if err != nil {
		return 0, err
	}
	n, _ := DecodeHeader(hdr)
	if n > fr.MaxPayload {
		return 0, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, n, fr.MaxPayload)
	}
	return n, nil
}

// ReadPayload reads the n payload bytes promised by a header. Running out of
// data here is always a framing error, even when nothing arrived.
func (fr *Reader) ReadPayload(r io.Reader, n uint64) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	payload, err := readExact(r, n, "payload")
	if errors.Is(err, io.EOF) {
		return nil, &TruncatedError{Stage: "payload", Got: 0, Want: n}
	}
	return payload, err
}

// ReadFrame reads one complete frame.
func (fr *Reader) ReadFrame(r io.Reader) ([]byte, error) {
	n, err := fr.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	return fr.ReadPayload(r, n)
}

// WriteFrame writes the header and payload to w. On a net.Conn both parts go
// out in a single vectored write.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(payload)))
	bufs := net.Buffers{hdr[:], payload}
	if _, err := bufs.WriteTo(w); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
