// Package events records gateway traffic for auditing. It never stores
// learner progress.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Event is one forwarder call.
type Event struct {
	Forwarder string
	Outcome   string
	Status    int
	Latency   time.Duration
	RequestID string
	Data      map[string]any
	CreatedAt time.Time
}

func (e Event) validate() error {
	if e.Forwarder == "" {
		return fmt.Errorf("forwarder is required")
	}
	if e.Outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	return nil
}

// Logger persists events.
type Logger interface {
	LogEvent(ctx context.Context, event Event) error
}

// NopLogger ignores all events.
type NopLogger struct{}

func (NopLogger) LogEvent(context.Context, Event) error {
	return nil
}

// MemoryLogger keeps events in memory.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{
		events: []Event{},
	}
}

func (l *MemoryLogger) LogEvent(_ context.Context, event Event) error {
	if err := event.validate(); err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresLogger inserts events into gateway_events.
type PostgresLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresLogger(pool *pgxpool.Pool) *PostgresLogger {
	return &PostgresLogger{pool: pool}
}

func (l *PostgresLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if err := event.validate(); err != nil {
		return err
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	// The request may already be finished; the audit row should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO gateway_events (forwarder, outcome, status, latency_ms, request_id, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		event.Forwarder,
		event.Outcome,
		event.Status,
		event.Latency.Milliseconds(),
		event.RequestID,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"forwarder", event.Forwarder,
		"outcome", event.Outcome,
		"status", event.Status,
	)
	return nil
}

// Counts returns the number of logged events per outcome for a forwarder.
func (l *PostgresLogger) Counts(ctx context.Context, forwarder string) (map[string]int, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT outcome, count(*) FROM gateway_events WHERE forwarder = $1 GROUP BY outcome`,
		forwarder,
	)
	if err != nil {
		return nil, fmt.Errorf("query event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
