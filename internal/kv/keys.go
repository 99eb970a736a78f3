package kv

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key prefixes. Keys are derived from topic titles, so two subjects that
// share a title share a key.
const (
	VideoCompletedPrefix = "video-completed-"
	QuizCompletedPrefix  = "quiz-completed-"
	QuizScorePrefix      = "quiz-score-"
)

// TrueValue is the stored value of a completion flag.
const TrueValue = "true"

// NormalizeTitle returns the NFC form of a topic title so the same title
// typed or decoded differently maps to one key.
func NormalizeTitle(title string) string {
	return norm.NFC.String(title)
}

// VideoCompletedKey is the key recording that a topic's video was watched.
func VideoCompletedKey(title string) string {
	return VideoCompletedPrefix + NormalizeTitle(title)
}

// QuizCompletedKey is the key recording that a topic's quiz was submitted.
func QuizCompletedKey(title string) string {
	return QuizCompletedPrefix + NormalizeTitle(title)
}

// QuizScoreKey is the key holding a topic's latest quiz score.
func QuizScoreKey(title string) string {
	return QuizScorePrefix + NormalizeTitle(title)
}

// TitleFromVideoCompletedKey extracts the topic title from a
// video-completed key.
func TitleFromVideoCompletedKey(key string) (string, bool) {
	if !strings.HasPrefix(key, VideoCompletedPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, VideoCompletedPrefix), true
}
