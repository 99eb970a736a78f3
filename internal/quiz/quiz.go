// Package quiz holds the quiz model: parsing and validating generated
// questions, and scoring attempts.
package quiz

import (
	"errors"
	"fmt"
)

const (
	// QuestionCount is the number of questions in every quiz.
	QuestionCount = 5
	// OptionCount is the number of options per question.
	OptionCount = 4
)

// Question is one multiple-choice question.
type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

// ErrInvalidFormat is wrapped by every FormatError.
var ErrInvalidFormat = errors.New("invalid quiz format")

// FormatError describes generated output that is not a usable quiz.
// Index is the offending question, or -1 when the problem is the whole
// response.
type FormatError struct {
	Index  int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid quiz format: %s", e.Reason)
	}
	return fmt.Sprintf("invalid question format at index %d: %s", e.Index, e.Reason)
}

func (e *FormatError) Unwrap() error { return ErrInvalidFormat }

// Unanswered marks a question with no recorded answer.
const Unanswered = -1

// Review is the per-question result of a submitted attempt.
type Review struct {
	Index         int    `json:"index"`
	CorrectAnswer int    `json:"correctAnswer"`
	Chosen        int    `json:"chosen"`
	Correct       bool   `json:"correct"`
	Explanation   string `json:"explanation"`
}

// Score counts answers equal to the correct index and builds the review.
// answers must have one entry per question; Unanswered never scores.
func Score(questions []Question, answers []int) (int, []Review) {
	score := 0
	reviews := make([]Review, len(questions))
	for i, q := range questions {
		chosen := Unanswered
		if i < len(answers) {
			chosen = answers[i]
		}
		correct := chosen == q.CorrectAnswer
		if correct {
			score++
		}
		reviews[i] = Review{
			Index:         i,
			CorrectAnswer: q.CorrectAnswer,
			Chosen:        chosen,
			Correct:       correct,
			Explanation:   q.Explanation,
		}
	}
	return score, reviews
}
