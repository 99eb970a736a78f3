// Package gateway forwards chat, quiz and video search requests to the
// upstream providers and maps their failures onto one error taxonomy.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/p-n-ai/pai-quest/internal/ai"
	"github.com/p-n-ai/pai-quest/internal/quiz"
	"github.com/p-n-ai/pai-quest/internal/youtube"
)

// Kind classifies a forwarder failure.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConfiguration
	KindUpstream
	KindResponseFormat
	KindQuotaExceeded
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindUpstream:
		return "upstream"
	case KindResponseFormat:
		return "response_format"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified forwarder failure. Message is safe to show to the
// learner; Details carries the underlying cause when it is exposed.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// AsError returns err as a *Error, classifying anything else as upstream.
func AsError(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return &Error{Kind: KindUpstream, Status: http.StatusInternalServerError, Message: "Internal server error", Err: err}
}

// Outcome is the metrics and audit label for a call result.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return AsError(err).Kind.String()
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: msg}
}

func configurationError(status int, msg string) *Error {
	return &Error{Kind: KindConfiguration, Status: status, Message: msg}
}

// classifyQuiz maps a quiz generation failure. Validation failures of the
// generated quiz are always format errors; anything else is matched on type
// and message in this order: credential, quota, timeout, format.
func classifyQuiz(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}

	msg := strings.ToLower(err.Error())
	out := &Error{Details: err.Error(), Err: err}

	var apiErr *ai.APIError
	isAPIErr := errors.As(err, &apiErr)

	switch {
	case errors.Is(err, quiz.ErrInvalidFormat):
		out.Kind, out.Status, out.Message = KindResponseFormat, http.StatusInternalServerError, "AI generated invalid response. Please try again."
	case strings.Contains(msg, "api key") || strings.Contains(msg, "api_key_invalid"):
		out.Kind, out.Status, out.Message = KindConfiguration, http.StatusServiceUnavailable, "AI API key invalid or expired"
	case (isAPIErr && apiErr.StatusCode == http.StatusTooManyRequests) ||
		strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
		out.Kind, out.Status, out.Message = KindQuotaExceeded, http.StatusTooManyRequests, "AI service quota exceeded. Please try again later."
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		out.Kind, out.Status, out.Message = KindTimeout, http.StatusGatewayTimeout, "Request timeout. Please try again."
	case strings.Contains(msg, "parse") || strings.Contains(msg, "format"):
		out.Kind, out.Status, out.Message = KindResponseFormat, http.StatusInternalServerError, "AI generated invalid response. Please try again."
	default:
		out.Kind, out.Status, out.Message = KindUpstream, http.StatusInternalServerError, "Failed to generate quiz"
	}
	return out
}

func classifyChat(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return &Error{Kind: KindUpstream, Status: http.StatusInternalServerError, Message: "Failed to process chat message", Err: err}
}

func classifySearch(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	kind := KindUpstream
	if errors.Is(err, youtube.ErrInvalidPayload) {
		kind = KindResponseFormat
	}
	return &Error{Kind: kind, Status: http.StatusInternalServerError, Message: "Failed to fetch videos from YouTube", Err: err}
}
