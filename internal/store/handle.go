package store

import (
	"sync"
)

// Handle shares one Store between components. The store is closed exactly
// once, when the last holder releases it.
type Handle struct {
	mu     sync.Mutex
	store  *Store
	refs   int
	closed bool
}

// NewHandle wraps s with a reference count of one.
func NewHandle(s *Store) *Handle {
	return &Handle{store: s, refs: 1}
}

// Retain adds a holder and returns the store. It returns nil once the
// handle has been closed.
func (h *Handle) Retain() *Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.refs++
	return h.store
}

// Store returns the store without changing the count.
func (h *Handle) Store() *Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return h.store
}

// Release drops a holder, closing the store when none remain.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	h.closed = true
	return h.store.Close()
}
