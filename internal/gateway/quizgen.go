package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/p-n-ai/pai-quest/internal/ai"
	"github.com/p-n-ai/pai-quest/internal/quiz"
)

// QuizRequest is the input of the quiz forwarder.
type QuizRequest struct {
	VideoTitle string `json:"videoTitle"`
	Topic      string `json:"topic"`
	Subject    string `json:"subject"`
}

// Validate reports a validation error when the video title or topic is blank.
func (r QuizRequest) Validate() error {
	if strings.TrimSpace(r.VideoTitle) == "" || strings.TrimSpace(r.Topic) == "" {
		return validationError("Video title and topic are required")
	}
	return nil
}

// Quiz generates validated multiple-choice quizzes.
type Quiz struct {
	provider ai.Provider
	observer
}

// NewQuiz creates a quiz forwarder. A nil provider makes every call fail
// with a configuration error.
func NewQuiz(provider ai.Provider, opts ...Option) *Quiz {
	return &Quiz{provider: provider, observer: newObserver("quiz", opts)}
}

// QuizPrompt builds the generation prompt. An empty subject reads "General".
func QuizPrompt(videoTitle, topic, subject string) string {
	if subject == "" {
		subject = "General"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a quiz with %d multiple-choice questions based on the following educational video:\n\n", quiz.QuestionCount)
	fmt.Fprintf(&b, "Video Title: %s\nTopic: %s\nSubject: %s\n\n", videoTitle, topic, subject)
	b.WriteString("Requirements:\n")
	fmt.Fprintf(&b, "1. Create exactly %d questions that test understanding of the key concepts covered in this video\n", quiz.QuestionCount)
	b.WriteString("2. Each question should have 4 options (A, B, C, D)\n")
	b.WriteString("3. Mark the correct answer\n")
	b.WriteString("4. Questions should range from basic understanding to application level\n")
	b.WriteString("5. Make questions engaging and educational\n\n")
	b.WriteString("Format your response as a JSON array of objects with this exact structure:\n")
	b.WriteString(`[
  {
    "question": "Question text here?",
    "options": ["Option A", "Option B", "Option C", "Option D"],
    "correctAnswer": 0,
    "explanation": "Brief explanation of why this is correct"
  }
]`)
	b.WriteString("\n\nIMPORTANT: Return ONLY the JSON array, no additional text or formatting.")
	return b.String()
}

// Generate asks the provider for a quiz and validates it.
func (q *Quiz) Generate(ctx context.Context, req QuizRequest) (questions []quiz.Question, err error) {
	start := time.Now()
	defer func() {
		q.finish(ctx, start, err, map[string]any{
			"video_title": req.VideoTitle,
			"topic":       req.Topic,
			"questions":   len(questions),
		})
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if q.provider == nil {
		return nil, configurationError(http.StatusServiceUnavailable, "AI service not configured. Please contact administrator.")
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	resp, err := q.provider.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{{Role: "user", Content: QuizPrompt(req.VideoTitle, req.Topic, req.Subject)}},
		Task:     ai.TaskQuiz,
	})
	if err != nil {
		return nil, classifyQuiz(fmt.Errorf("quiz completion: %w", err))
	}

	questions, err = quiz.Parse(resp.Content)
	if err != nil {
		return nil, classifyQuiz(err)
	}
	return questions, nil
}
