// Package engine owns the connections to the external inference services and
// exposes them through single-owner, lazily loaded handles.
package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
)

const errFmtLoadFailed = "failed to load %s: %w"

// Loader constructs the value held by a Handle.
type Loader[T any] func(ctx context.Context) (T, error)

// Handle owns one lazily constructed model instance. Construction runs at most
// once per load and concurrent callers of Get share the result.
type Handle[T any] struct {
	load   Loader[T]
	value  T
	name   string
	mu     sync.Mutex
	loaded bool
}

// NewHandle creates an unloaded handle.
func NewHandle[T any](name string, load Loader[T]) *Handle[T] {
	return &Handle[T]{name: name, load: load}
}

// Get returns the loaded value, loading it first if needed.
func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loaded {
		return h.value, nil
	}

	return h.loadLocked(ctx)
}

// Reload tears down the current value and loads a new one.
func (h *Handle[T]) Reload(ctx context.Context) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unloadLocked()

	return h.loadLocked(ctx)
}

// Unload releases the current value. The next Get loads it again.
func (h *Handle[T]) Unload() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unloadLocked()
}

// Loaded reports whether a value is currently held.
func (h *Handle[T]) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.loaded
}

// Name returns the handle's display name.
func (h *Handle[T]) Name() string {
	return h.name
}

func (h *Handle[T]) loadLocked(ctx context.Context) (T, error) {
	value, err := h.load(ctx)
	if err != nil {
		var zero T

		return zero, fmt.Errorf(errFmtLoadFailed, h.name, err)
	}

	h.value = value
	h.loaded = true

	return value, nil
}

func (h *Handle[T]) unloadLocked() {
	if !h.loaded {
		return
	}

	if closer, ok := any(h.value).(io.Closer); ok {
		_ = closer.Close()
	}

	var zero T

	h.value = zero
	h.loaded = false
}
