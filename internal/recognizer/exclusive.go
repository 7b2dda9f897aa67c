package recognizer

import (
	"context"
	"fmt"
	"time"
)

// Exclusive serializes calls into a Backend through a single-slot gate.
// Waiting for the slot respects ctx, so a caller whose deadline expires while
// another request holds the backend gives up instead of queueing forever.
type Exclusive struct {
	backend Backend
	slot    chan struct{}

	// OnWait, if set, receives how long each call waited for the slot.
	OnWait func(time.Duration)
}

// NewExclusive wraps b.
func NewExclusive(b Backend) *Exclusive {
	return &Exclusive{backend: b, slot: make(chan struct{}, 1)}
}

// Name returns the wrapped backend's name.
func (e *Exclusive) Name() string { return e.backend.Name() }

// Recognize runs the wrapped backend with the gate held. A panic inside the
// backend is converted into an error.
func (e *Exclusive) Recognize(ctx context.Context, img *Image) (res Result, err error) {
	start := time.Now()
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s backend: %w", e.backend.Name(), ctx.Err())
	}
	defer func() { <-e.slot }()

	if e.OnWait != nil {
		e.OnWait(time.Since(start))
	}

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%s backend panicked: %v", e.backend.Name(), r)
		}
	}()
	return e.backend.Recognize(ctx, img)
}

// Close closes the wrapped backend once no call is in flight.
func (e *Exclusive) Close() error {
	e.slot <- struct{}{}
	defer func() { <-e.slot }()
	return e.backend.Close()
}
