package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/p-n-ai/pai-quest/internal/ai"
)

// FallbackReply is returned when the provider answers without usable text.
const FallbackReply = "Sorry, I could not generate a response."

// ChatRequest is the input of the chat forwarder.
type ChatRequest struct {
	Message string `json:"message"`
	Topic   string `json:"topic"`
	Subject string `json:"subject"`
}

// Validate reports a validation error when the message is blank.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return validationError("Message is required")
	}
	return nil
}

// Chat forwards tutoring questions to the completion provider.
type Chat struct {
	provider ai.Provider
	observer
}

// NewChat creates a chat forwarder. A nil provider makes every call fail
// with a configuration error.
func NewChat(provider ai.Provider, opts ...Option) *Chat {
	return &Chat{provider: provider, observer: newObserver("chat", opts)}
}

// TutorPrompt builds the tutor-persona prompt for a question.
func TutorPrompt(message, topic, subject string) string {
	return fmt.Sprintf("You are an expert AI tutor helping students learn about %s in the subject %s. "+
		"Provide clear, concise, and educational responses. Use simple language and examples when possible. "+
		"If the question is complex, break it down into steps."+
		"\n\nStudent question: %s\n\nPlease provide a helpful response:", topic, subject, message)
}

// Reply returns the tutor's answer to req.Message.
func (c *Chat) Reply(ctx context.Context, req ChatRequest) (reply string, err error) {
	start := time.Now()
	defer func() {
		c.finish(ctx, start, err, map[string]any{
			"message_len": len(req.Message),
			"topic":       req.Topic,
		})
	}()

	if err := req.Validate(); err != nil {
		return "", err
	}
	if c.provider == nil {
		return "", configurationError(http.StatusInternalServerError, "Gemini API key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.provider.Complete(ctx, ai.CompletionRequest{
		Messages:    []ai.Message{{Role: "user", Content: TutorPrompt(req.Message, req.Topic, req.Subject)}},
		MaxTokens:   1024,
		Temperature: 0.7,
		TopP:        0.95,
		TopK:        40,
		Task:        ai.TaskChat,
	})
	if errors.Is(err, ai.ErrNoContent) {
		return FallbackReply, nil
	}
	if err != nil {
		return "", classifyChat(fmt.Errorf("chat completion: %w", err))
	}
	if strings.TrimSpace(resp.Content) == "" {
		return FallbackReply, nil
	}
	return resp.Content, nil
}
