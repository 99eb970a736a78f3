package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-quest/internal/events"
	"github.com/p-n-ai/pai-quest/internal/platform/requestid"
)

const defaultTimeout = 30 * time.Second

// Option configures a forwarder.
type Option func(*observer)

// WithMetrics records call counts and durations.
func WithMetrics(m *Metrics) Option {
	return func(o *observer) { o.metrics = m }
}

// WithAuditLog records an audit event per call.
func WithAuditLog(l events.Logger) Option {
	return func(o *observer) {
		if l != nil {
			o.audit = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *observer) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout bounds each upstream call.
func WithTimeout(d time.Duration) Option {
	return func(o *observer) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// observer is the shared instrumentation of the three forwarders.
type observer struct {
	name    string
	metrics *Metrics
	audit   events.Logger
	logger  *slog.Logger
	timeout time.Duration
}

func newObserver(name string, opts []Option) observer {
	o := observer{
		name:    name,
		audit:   events.NopLogger{},
		logger:  slog.Default(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *observer) finish(ctx context.Context, start time.Time, err error, data map[string]any) {
	latency := time.Since(start)
	outcome := Outcome(err)
	status := 200
	if err != nil {
		status = AsError(err).Status
	}
	reqID := requestid.FromContext(ctx)

	o.metrics.observe(o.name, outcome, latency)

	if auditErr := o.audit.LogEvent(ctx, events.Event{
		Forwarder: o.name,
		Outcome:   outcome,
		Status:    status,
		Latency:   latency,
		RequestID: reqID,
		Data:      data,
	}); auditErr != nil {
		o.logger.Warn("audit event not recorded", "forwarder", o.name, "error", auditErr)
	}

	if err != nil {
		level := slog.LevelWarn
		if status >= 500 {
			level = slog.LevelError
		}
		o.logger.Log(ctx, level, "forwarder failed",
			"forwarder", o.name,
			"outcome", outcome,
			"status", status,
			"request_id", reqID,
			"duration", latency,
			"error", err,
		)
		return
	}
	o.logger.Debug("forwarder completed",
		"forwarder", o.name,
		"request_id", reqID,
		"duration", latency,
	)
}
