// Package sessions keeps live sessions in memory, keyed by UUID.
package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown or removed session IDs.
var ErrNotFound = errors.New("session not found")

type entry[T any] struct {
	value    T
	lastUsed time.Time
}

// Registry is a concurrency-safe map of sessions.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
	now     func() time.Time
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]entry[T]),
		now:     time.Now,
	}
}

// Add stores v under a fresh ID and returns the ID.
func (r *Registry[T]) Add(v T) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.entries[id] = entry[T]{value: v, lastUsed: r.now()}
	return id
}

// Get returns the session stored under id and marks it as used.
func (r *Registry[T]) Get(id string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	e.lastUsed = r.now()
	r.entries[id] = e
	return e.value, nil
}

// Remove deletes and returns the session stored under id. The caller owns
// closing it.
func (r *Registry[T]) Remove(id string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	delete(r.entries, id)
	return e.value, nil
}

// Expire removes sessions unused for more than maxIdle and passes each to
// fn. It returns the number removed.
func (r *Registry[T]) Expire(maxIdle time.Duration, fn func(T)) int {
	r.mu.Lock()
	cutoff := r.now().Add(-maxIdle)
	var expired []T
	for id, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			expired = append(expired, e.value)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	if fn != nil {
		for _, v := range expired {
			fn(v)
		}
	}
	return len(expired)
}

// Drain removes every session and passes each to fn.
func (r *Registry[T]) Drain(fn func(T)) {
	r.mu.Lock()
	all := make([]T, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e.value)
	}
	r.entries = make(map[string]entry[T])
	r.mu.Unlock()

	if fn != nil {
		for _, v := range all {
			fn(v)
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
