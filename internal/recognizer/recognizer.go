// Package recognizer defines the contract between the bridge and a recognition
// backend, plus the registry used to pick one at startup.
//
// A backend is initialized once through its Factory and then shared by every
// connection. Backends are not assumed to be reentrant: callers go through
// Exclusive, which admits one Recognize call at a time.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrUnknownBackend is returned by New for a name nobody registered.
var ErrUnknownBackend = errors.New("unknown recognition backend")

// Result is a backend-defined JSON object. The bridge never looks inside it.
type Result map[string]any

// Backend turns a decoded image into a Result.
type Backend interface {
	Name() string
	Recognize(ctx context.Context, img *Image) (Result, error)
	Close() error
}

// Options carries the startup settings a backend may need.
type Options struct {
	Name      string
	Lang      string
	Translate bool

	PythonBin    string
	WorkerScript string

	OllamaURL   string
	OllamaModel string

	GeminiModel  string
	GeminiAPIKey string

	Logger *slog.Logger
}

// Factory initializes a backend. It runs once, before the server accepts connections.
type Factory func(ctx context.Context, opts Options) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under name. It panics on duplicates,
// which can only happen through a programming error in an init function.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("recognizer: Register called twice for " + name)
	}
	registry[name] = f
}

// Names lists the registered backends in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New initializes the backend registered under opts.Name.
func New(ctx context.Context, opts Options) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[opts.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, opts.Name, Names())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b, err := f(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("initialize %s backend: %w", opts.Name, err)
	}
	return b, nil
}
