package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/senchpimy/image-ocr/internal/frame"
	"github.com/senchpimy/image-ocr/internal/utils"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultStartupTimeout bounds how long a worker may take to load its model.
const DefaultStartupTimeout = 5 * time.Minute

// stopTimeout is how long Close waits for the process to exit before killing it.
const stopTimeout = 2 * time.Second

// ErrBroken is returned once the worker's stream can no longer be trusted.
var ErrBroken = errors.New("python worker is broken")

// Config describes how to launch a worker process.
type Config struct {
	PythonBin      string
	Script         string
	Model          string
	Lang           string
	StartupTimeout time.Duration
	Logger         *slog.Logger
}

// Request is the msgpack document sent for each image.
type Request struct {
	Image  []byte `msgpack:"image"`
	Format string `msgpack:"format"`
}

// Response is the msgpack document the worker sends back. The first frame after
// start is a readiness announcement; every later frame carries either Result or Error.
type Response struct {
	Ready  bool           `msgpack:"ready,omitempty"`
	Model  string         `msgpack:"model,omitempty"`
	Result map[string]any `msgpack:"result,omitempty"`
	Error  string         `msgpack:"error,omitempty"`
}

// RemoteError carries an exception message raised inside the worker.
// The worker itself is still healthy after one.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return e.Msg }

// PythonWorker is one running recognition process.
//
// Frames travel over stdin (to Python) and a dedicated pipe that appears as
// FD 3 in the child, so anything the model libraries print on stdout cannot
// corrupt the stream.
type PythonWorker struct {
	Model    string
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	frames *frame.Reader
	log    *slog.Logger
	broken atomic.Bool
}

// NewPythonWorker starts the process and waits until it reports its model is loaded.
func NewPythonWorker(ctx context.Context, cfg Config) (*PythonWorker, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	log := cfg.Logger.With("model", cfg.Model)

	args := []string{"-u", cfg.Script, "--model", cfg.Model}
	if cfg.Lang != "" {
		args = append(args, "--lang", cfg.Lang)
	}
	py := utils.NewSafeCommand(cfg.PythonBin, args...)
	py.ForwardStderr(log)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %s failed to start: %w", cfg.Model, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	pw := &PythonWorker{
		Model:    cfg.Model,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		frames:   frame.NewReader(frame.DefaultMaxPayload),
		log:      log,
	}
	log.Info("python worker spawned", "pid", py.Process.Pid, "script", cfg.Script)

	startCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()
	resp, err := pw.call(startCtx, nil)
	if err == nil && !resp.Ready {
		err = fmt.Errorf("unexpected first message from worker: %+v", resp)
	}
	if err != nil {
		pw.Close()
		if tail := py.StderrTail(); tail != "" {
			return nil, fmt.Errorf("worker %s did not become ready: %w\n%s", cfg.Model, err, tail)
		}
		return nil, fmt.Errorf("worker %s did not become ready: %w", cfg.Model, err)
	}
	log.Info("python worker ready")
	return pw, nil
}

// Communicate writes one frame and reads one frame back.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if err := frame.WriteFrame(w.Stdin, data); err != nil {
		return nil, err
	}
	resp, err := w.frames.ReadFrame(w.DataPipe)
	if errors.Is(err, io.EOF) {
		// The child closed FD 3, usually because it crashed.
		return nil, fmt.Errorf("worker closed its data pipe: %w", io.ErrUnexpectedEOF)
	}
	return resp, err
}

// call sends req (or, when req is nil, only reads the next frame) and decodes
// the reply. If ctx ends first the process is killed, because a reply may
// still be in flight and the stream would be out of step.
func (w *PythonWorker) call(ctx context.Context, req *Request) (*Response, error) {
	if w.broken.Load() {
		return nil, ErrBroken
	}

	var payload []byte
	if req != nil {
		var err error
		payload, err = msgpack.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal msgpack request: %w", err)
		}
	}

	type reply struct {
		data []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		var r reply
		if payload == nil {
			r.data, r.err = w.frames.ReadFrame(w.DataPipe)
		} else {
			r.data, r.err = w.Communicate(payload)
		}
		done <- r
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		w.broken.Store(true)
		w.kill()
		<-done
		return nil, fmt.Errorf("python worker %s: %w", w.Model, ctx.Err())
	}
	if r.err != nil {
		w.broken.Store(true)
		return nil, fmt.Errorf("python worker %s: %w", w.Model, r.err)
	}

	var resp Response
	if err := msgpack.Unmarshal(r.data, &resp); err != nil {
		w.broken.Store(true)
		return nil, fmt.Errorf("failed to unmarshal msgpack response: %w", err)
	}
	return &resp, nil
}

// Recognize sends one encoded image and returns the worker's result object.
func (w *PythonWorker) Recognize(ctx context.Context, image []byte, format string) (map[string]any, error) {
	resp, err := w.call(ctx, &Request{Image: image, Format: format})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &RemoteError{Msg: resp.Error}
	}
	if resp.Result == nil {
		return map[string]any{}, nil
	}
	return resp.Result, nil
}

// Broken reports whether the worker must be replaced.
func (w *PythonWorker) Broken() bool { return w.broken.Load() }

// kill stops the process and closes both pipes so a blocked read or write returns.
func (w *PythonWorker) kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.Stdin.Close()
	w.DataPipe.Close()
}

// Close asks the worker to exit by closing its stdin, then kills it if it has
// not exited within two seconds.
func (w *PythonWorker) Close() error {
	w.broken.Store(true)
	w.Stdin.Close()
	defer w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}

	exited := make(chan error, 1)
	go func() { exited <- w.Cmd.Wait() }()
	select {
	case err := <-exited:
		return err
	case <-time.After(stopTimeout):
		w.log.Warn("python worker did not exit, killing it")
		w.kill()
		return <-exited
	}
}
