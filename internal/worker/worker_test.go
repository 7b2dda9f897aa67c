package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"io"
	"testing"

	"github.com/senchpimy/image-ocr/internal/frame"
	"github.com/vmihailenco/msgpack/v5"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func newMockWorker(t *testing.T, replies ...any) (*PythonWorker, *MockCloser) {
	t.Helper()
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Pre-fill the data pipe with what "Python" would answer.
	for _, r := range replies {
		var payload []byte
		switch v := r.(type) {
		case []byte:
			payload = v
		default:
			var err error
			payload, err = msgpack.Marshal(v)
			if err != nil {
				t.Fatal(err)
			}
		}
		dataPipeMock.Write(frame.Encode(payload))
	}

	w := &PythonWorker{
		Model:    "paddle",
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		frames:   frame.NewReader(0),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		// Cmd is nil because we aren't testing process management, just the protocol
	}
	return w, stdinMock
}

func TestRecognize(t *testing.T) {
	reply := Response{Result: map[string]any{
		"res": map[string]any{"rec_texts": []string{"hola"}},
	}}
	w, stdinMock := newMockWorker(t, reply)

	inputImage := []byte{0xFF, 0xD8, 0xBE, 0xEF}
	res, err := w.Recognize(context.Background(), inputImage, "jpeg")
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}

	// Verify Go sent one well-formed frame TO Python
	sent, err := frame.NewReader(0).ReadFrame(stdinMock)
	if err != nil {
		t.Fatalf("request frame unreadable: %v", err)
	}
	var req Request
	if err := msgpack.Unmarshal(sent, &req); err != nil {
		t.Fatalf("request is not msgpack: %v", err)
	}
	if !bytes.Equal(req.Image, inputImage) || req.Format != "jpeg" {
		t.Errorf("sent request = %+v", req)
	}

	// Verify Go read the correct data FROM Python
	inner, ok := res["res"].(map[string]any)
	if !ok {
		t.Fatalf("result missing res object: %#v", res)
	}
	texts, ok := inner["rec_texts"].([]any)
	if !ok || len(texts) != 1 || texts[0] != "hola" {
		t.Errorf("rec_texts = %#v", inner["rec_texts"])
	}
	if w.Broken() {
		t.Error("worker marked broken after a good exchange")
	}
}

func TestRecognizeRemoteError(t *testing.T) {
	errMsg := "CUDA out of memory"
	w, _ := newMockWorker(t, Response{Error: errMsg})

	_, err := w.Recognize(context.Background(), []byte("frame"), "png")

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Expected RemoteError, got %v", err)
	}
	if err.Error() != errMsg {
		t.Errorf("Expected error message '%s', got '%v'", errMsg, err)
	}
	if w.Broken() {
		t.Error("a Python exception must not break the worker")
	}
}

func TestRecognizeEmptyResult(t *testing.T) {
	w, _ := newMockWorker(t, Response{})
	res, err := w.Recognize(context.Background(), []byte("img"), "png")
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if res == nil || len(res) != 0 {
		t.Errorf("expected empty result object, got %#v", res)
	}
}

func TestRecognizeBreaksOnGarbage(t *testing.T) {
	w, _ := newMockWorker(t, []byte{0xC1}) // 0xC1 is never valid msgpack

	if _, err := w.Recognize(context.Background(), []byte("img"), "png"); err == nil {
		t.Fatal("expected decode error")
	}
	if !w.Broken() {
		t.Fatal("worker should be broken after an undecodable frame")
	}
	if _, err := w.Recognize(context.Background(), []byte("img"), "png"); !errors.Is(err, ErrBroken) {
		t.Errorf("second call error = %v, want ErrBroken", err)
	}
}

func TestRecognizeClosedPipe(t *testing.T) {
	w, _ := newMockWorker(t) // nothing to read: Python died

	_, err := w.Recognize(context.Background(), []byte("img"), "png")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("error = %v, want io.ErrUnexpectedEOF", err)
	}
	if !w.Broken() {
		t.Error("worker should be broken after its pipe closed")
	}
}

func TestCloseWithoutProcess(t *testing.T) {
	w, _ := newMockWorker(t)
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !w.Broken() {
		t.Error("closed worker should report broken")
	}
}
