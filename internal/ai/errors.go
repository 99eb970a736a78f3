package ai

import (
	"errors"
	"fmt"
)

// ErrNoContent is returned when the provider answered without usable text.
var ErrNoContent = errors.New("no content in response")

// ErrNoProvider is returned by a Router with nothing registered.
var ErrNoProvider = errors.New("no AI provider configured")

// APIError is a non-success HTTP response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}
