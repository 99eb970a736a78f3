// Package api exposes the gateway forwarders, learner sessions and the
// realtime stream over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p-n-ai/pai-quest/internal/bus"
	"github.com/p-n-ai/pai-quest/internal/catalog"
	"github.com/p-n-ai/pai-quest/internal/kv"
	"github.com/p-n-ai/pai-quest/internal/progress"
	"github.com/p-n-ai/pai-quest/internal/schedule"
	"github.com/p-n-ai/pai-quest/internal/sessions"
	"github.com/p-n-ai/pai-quest/internal/tutorial"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Deps are the collaborators of a Server. Chat, Quiz and Search are
// normally the gateway forwarders.
type Deps struct {
	Catalog   *catalog.Catalog
	Chat      tutorial.ChatClient
	Quiz      tutorial.QuizGenerator
	Search    tutorial.Searcher
	Store     kv.Store
	Bus       bus.Bus
	Scheduler schedule.Scheduler
	// Realtime serves GET /ws when set.
	Realtime http.Handler
	// Registry receives HTTP metrics and is served on /metrics.
	Registry *prometheus.Registry
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]Check
	Logger *slog.Logger
}

// Server routes API requests.
type Server struct {
	deps      Deps
	logger    *slog.Logger
	metrics   *httpMetrics
	progress  *sessions.Registry[*progress.Machine]
	tutorials *sessions.Registry[*tutorial.Session]
	now       func() time.Time
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = schedule.Timer{}
	}
	if deps.Store == nil {
		deps.Store = kv.NewMemoryStore()
	}
	if deps.Bus == nil {
		deps.Bus = bus.NewLocal()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	return &Server{
		deps:      deps,
		logger:    deps.Logger,
		metrics:   newHTTPMetrics(deps.Registry),
		progress:  sessions.New[*progress.Machine](),
		tutorials: sessions.New[*tutorial.Session](),
		now:       time.Now,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /generate-quiz", s.handleGenerateQuiz)
	mux.HandleFunc("GET /videos/search", s.handleVideoSearch)

	mux.HandleFunc("GET /subjects", s.handleSubjects)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/topics/{topicID}/complete", s.handleCompleteTopic)
	mux.HandleFunc("DELETE /sessions/{id}/achievement", s.handleDismissAchievement)
	mux.HandleFunc("GET /sessions/{id}/report.xlsx", s.handleReport)

	mux.HandleFunc("POST /tutorials", s.handleCreateTutorial)
	mux.HandleFunc("GET /tutorials/{id}", s.handleGetTutorial)
	mux.HandleFunc("DELETE /tutorials/{id}", s.handleDeleteTutorial)
	mux.HandleFunc("POST /tutorials/{id}/search/retry", s.handleRetrySearch)
	mux.HandleFunc("POST /tutorials/{id}/video", s.handleSelectVideo)
	mux.HandleFunc("DELETE /tutorials/{id}/video", s.handleCloseVideo)
	mux.HandleFunc("POST /tutorials/{id}/video/ended", s.handlePlaybackEnded)
	mux.HandleFunc("POST /tutorials/{id}/video/complete", s.handleMarkComplete)
	mux.HandleFunc("POST /tutorials/{id}/chat", s.handleTutorialChat)
	mux.HandleFunc("POST /tutorials/{id}/quiz", s.handleTutorialQuiz)
	mux.HandleFunc("PUT /tutorials/{id}/quiz/answers/{index}", s.handleAnswer)
	mux.HandleFunc("POST /tutorials/{id}/quiz/submit", s.handleSubmitQuiz)

	if s.deps.Realtime != nil {
		mux.Handle("GET /ws", s.deps.Realtime)
	}

	return chain(mux, s.instrument, s.recoverPanics, s.logRequests, requestIDMiddleware)
}

// ExpireSessions closes sessions left unused for maxIdle, checking every
// interval until ctx is done.
func (s *Server) ExpireSessions(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.progress.Expire(maxIdle, (*progress.Machine).Close)
			n += s.tutorials.Expire(maxIdle, (*tutorial.Session).Close)
			if n > 0 {
				s.logger.Info("expired idle sessions", "count", n)
			}
		}
	}
}

// Close closes every live session.
func (s *Server) Close() {
	s.progress.Drain((*progress.Machine).Close)
	s.tutorials.Drain((*tutorial.Session).Close)
}
