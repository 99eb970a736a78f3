package sessions

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := New[string]()

	id := r.Add("alpha")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("Add() id %q is not a UUID: %v", id, err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	got, err := r.Get(id)
	if err != nil || got != "alpha" {
		t.Fatalf("Get() = %q, %v", got, err)
	}

	removed, err := r.Remove(id)
	if err != nil || removed != "alpha" {
		t.Fatalf("Remove() = %q, %v", removed, err)
	}
	if _, err := r.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after remove error = %v, want ErrNotFound", err)
	}
	if _, err := r.Remove(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_UniqueIDs(t *testing.T) {
	r := New[int]()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.Add(i)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestRegistry_Expire(t *testing.T) {
	r := New[string]()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	old := r.Add("old")
	now = now.Add(time.Hour)
	fresh := r.Add("fresh")
	now = now.Add(time.Minute)

	var closed []string
	n := r.Expire(30*time.Minute, func(s string) { closed = append(closed, s) })
	if n != 1 || len(closed) != 1 || closed[0] != "old" {
		t.Fatalf("Expire() = %d, closed %v", n, closed)
	}
	if _, err := r.Get(old); !errors.Is(err, ErrNotFound) {
		t.Error("expired session still present")
	}
	if _, err := r.Get(fresh); err != nil {
		t.Errorf("fresh session removed: %v", err)
	}
}

func TestRegistry_GetKeepsSessionAlive(t *testing.T) {
	r := New[string]()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	active := r.Add("active")
	idle := r.Add("idle")
	for range 4 {
		now = now.Add(20 * time.Minute)
		if _, err := r.Get(active); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if n := r.Expire(30*time.Minute, nil); n > 1 {
			t.Fatalf("Expire() removed %d sessions", n)
		}
	}

	if _, err := r.Get(active); err != nil {
		t.Errorf("session in use for 80m was expired: %v", err)
	}
	if _, err := r.Get(idle); !errors.Is(err, ErrNotFound) {
		t.Errorf("idle session error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_Drain(t *testing.T) {
	r := New[string]()
	r.Add("a")
	r.Add("b")

	count := 0
	r.Drain(func(string) { count++ })
	if count != 2 || r.Len() != 0 {
		t.Errorf("Drain() closed %d, Len() = %d", count, r.Len())
	}
}
