package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/p-n-ai/pai-quest/internal/events"
	"github.com/p-n-ai/pai-quest/internal/platform/database"
)

func TestPostgresLogger_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := t.Context()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pai"),
		postgres.WithUsername("pai"),
		postgres.WithPassword("pai"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("starting postgres: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}

	db, err := database.New(ctx, connStr, 4, 1)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Migrate is idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	logger := events.NewPostgresLogger(db.Pool)
	for _, e := range []events.Event{
		{Forwarder: "quiz", Outcome: "ok", Status: 200, Latency: time.Second},
		{Forwarder: "quiz", Outcome: "quota_exceeded", Status: 429, Data: map[string]any{"details": "quota"}},
		{Forwarder: "quiz", Outcome: "ok", Status: 200},
		{Forwarder: "chat", Outcome: "ok", Status: 200},
	} {
		if err := logger.LogEvent(context.Background(), e); err != nil {
			t.Fatalf("LogEvent() error = %v", err)
		}
	}

	counts, err := logger.Counts(ctx, "quiz")
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts["ok"] != 2 || counts["quota_exceeded"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
