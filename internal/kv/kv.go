// Package kv is the key-value scope that records per-topic completion flags
// and quiz scores, with change notifications for watchers.
package kv

import (
	"context"
	"strings"
	"sync"
)

// Change describes a value written to the store.
type Change struct {
	Key   string
	Value string
}

// Store is a string key-value scope with change notifications.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Watch calls fn for every change to a key starting with prefix.
	// The returned function stops the watch.
	Watch(prefix string, fn func(Change)) (stop func())
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[int]watcher
	nextID   int
}

type watcher struct {
	prefix string
	fn     func(Change)
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]string),
		watchers: make(map[int]watcher),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores value under key. Watchers are notified only when the stored
// value actually changes, so rewriting the same value is a no-op for them.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	old, existed := s.values[key]
	s.values[key] = value
	var notify []func(Change)
	if !existed || old != value {
		for _, w := range s.watchers {
			if strings.HasPrefix(key, w.prefix) {
				notify = append(notify, w.fn)
			}
		}
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn(Change{Key: key, Value: value})
	}
	return nil
}

func (s *MemoryStore) Watch(prefix string, fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.watchers[id] = watcher{prefix: prefix, fn: fn}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
