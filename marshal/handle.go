package marshal

import (
	"errors"
	"fmt"
	"sync"
)

// Handle is an opaque reference to a callback registered in a HandleTable.
// Only the table that issued it can resolve it; zero is never issued.
type Handle uint64

// ErrUnknownHandle is returned when resolving a handle the table never issued
// or already released.
var ErrUnknownHandle = errors.New("unknown handle")

// HandleTable maps handles to values for the lifetime of one call frame.
type HandleTable[T any] struct {
	mu      sync.Mutex
	entries map[Handle]T
	next    Handle
}

func NewHandleTable[T any]() *HandleTable[T] {
	return &HandleTable[T]{
		entries: make(map[Handle]T),
		next:    1,
	}
}

// Register stores v and returns its handle.
func (t *HandleTable[T]) Register(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.next
	t.entries[h] = v
	t.next++
	return h
}

// Resolve returns the value registered under h.
func (t *HandleTable[T]) Resolve(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries[h]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return v, nil
}

// Release forgets h. Releasing an unknown handle is a no-op.
func (t *HandleTable[T]) Release(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, h)
}

// Len returns the number of live handles.
func (t *HandleTable[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}
