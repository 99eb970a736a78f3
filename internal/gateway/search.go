package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxResults applies when the caller does not ask for a count.
	DefaultMaxResults = 10
	// MaxMaxResults is the provider's upper bound.
	MaxMaxResults = 50
)

// VideoSearcher returns a raw, shape-checked search payload.
type VideoSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]byte, error)
}

// SearchRequest is the input of the search forwarder. Zero MaxResults
// selects DefaultMaxResults.
type SearchRequest struct {
	Query      string
	MaxResults int
}

// Validate reports a validation error when the query is blank.
func (r SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return validationError("Query parameter is required")
	}
	return nil
}

// ClampMaxResults applies the default and bounds the count to [1, 50].
func ClampMaxResults(n int) int {
	switch {
	case n == 0:
		return DefaultMaxResults
	case n < 1:
		return 1
	case n > MaxMaxResults:
		return MaxMaxResults
	default:
		return n
	}
}

// ParseMaxResults reads a maxResults query value. Missing or malformed
// values select the default.
func ParseMaxResults(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultMaxResults
	}
	return ClampMaxResults(n)
}

// Search forwards video searches and caches successful payloads.
type Search struct {
	client VideoSearcher
	cache  ResponseCache
	observer
}

// NewSearch creates a search forwarder. A nil client makes every call fail
// with a configuration error; a nil cache disables caching.
func NewSearch(client VideoSearcher, cache ResponseCache, opts ...Option) *Search {
	return &Search{client: client, cache: cache, observer: newObserver("search", opts)}
}

func searchCacheKey(query string, maxResults int) string {
	return fmt.Sprintf("search:%d:%s", maxResults, strings.ToLower(strings.TrimSpace(query)))
}

// Search returns the provider payload for req.
func (s *Search) Search(ctx context.Context, req SearchRequest) (payload []byte, err error) {
	start := time.Now()
	cached := false
	defer func() {
		s.finish(ctx, start, err, map[string]any{
			"query":       req.Query,
			"max_results": req.MaxResults,
			"cached":      cached,
		})
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.client == nil {
		return nil, configurationError(http.StatusInternalServerError, "YouTube API key not configured")
	}
	req.MaxResults = ClampMaxResults(req.MaxResults)

	key := searchCacheKey(req.Query, req.MaxResults)
	if s.cache != nil {
		data, ok, cacheErr := s.cache.Get(ctx, key)
		if cacheErr != nil {
			s.logger.Warn("search cache read failed", "error", cacheErr)
		}
		if ok {
			cached = true
			return data, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err = s.client.Search(callCtx, req.Query, req.MaxResults)
	if err != nil {
		return nil, classifySearch(fmt.Errorf("video search: %w", err))
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, key, payload, SearchTTL); cacheErr != nil {
			s.logger.Warn("search cache write failed", "error", cacheErr)
		}
	}
	return payload, nil
}
