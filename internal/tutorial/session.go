// Package tutorial implements the video tutorial session: video search and
// playback, watch-to-completion tracking, tutor chat and the topic quiz.
package tutorial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/p-n-ai/pai-quest/internal/bus"
	"github.com/p-n-ai/pai-quest/internal/gateway"
	"github.com/p-n-ai/pai-quest/internal/kv"
	"github.com/p-n-ai/pai-quest/internal/quiz"
	"github.com/p-n-ai/pai-quest/internal/schedule"
	"github.com/p-n-ai/pai-quest/internal/youtube"
)

const (
	// BannerDuration is how long the completion banner stays up.
	BannerDuration = 3 * time.Second
	// SearchResultLimit caps the videos fetched for a topic.
	SearchResultLimit = 12

	ChatFailureReply     = "Sorry, I encountered an error. Please try again."
	SearchFailureMessage = "Failed to load videos. Please try again later."
)

var (
	// ErrInvalidTransition is returned when an operation's preconditions fail.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrBusy is returned when a request of the same kind is still in flight.
	ErrBusy = errors.New("request already in flight")
)

// Searcher finds videos for a query.
type Searcher interface {
	Search(ctx context.Context, req gateway.SearchRequest) ([]byte, error)
}

// ChatClient answers tutoring questions.
type ChatClient interface {
	Reply(ctx context.Context, req gateway.ChatRequest) (string, error)
}

// QuizGenerator produces validated quizzes.
type QuizGenerator interface {
	Generate(ctx context.Context, req gateway.QuizRequest) ([]quiz.Question, error)
}

// Deps are the collaborators of a Session.
type Deps struct {
	Search    Searcher
	Chat      ChatClient
	Quiz      QuizGenerator
	Store     kv.Store
	Bus       bus.Bus
	Scheduler schedule.Scheduler
	Logger    *slog.Logger
}

// Subtopic is a watch record, matched across sessions by title.
type Subtopic struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// ChatEntry is one transcript line.
type ChatEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is a snapshot of a session.
type State struct {
	Topic     string          `json:"topic"`
	Subject   string          `json:"subject"`
	Subtopics []Subtopic      `json:"subtopics"`
	Videos    []youtube.Video `json:"videos"`
	Searching bool            `json:"searching"`

	// SearchError is set after a failed search; RetrySearch clears it.
	SearchError string `json:"searchError,omitempty"`

	SelectedVideoID      string `json:"selectedVideoId,omitempty"`
	SelectedVideoTitle   string `json:"selectedVideoTitle,omitempty"`
	Ended                bool   `json:"ended"`
	Watched              bool   `json:"watched"`
	ShowCompleteButton   bool   `json:"showCompleteButton"`
	ShowCompletionBanner bool   `json:"showCompletionBanner"`

	Chat        []ChatEntry `json:"chat"`
	ChatPending bool        `json:"chatPending"`

	Quiz        []quiz.Question `json:"quiz,omitempty"`
	QuizPending bool            `json:"quizPending"`
	QuizError   string          `json:"quizError,omitempty"`
	Answers     []int           `json:"answers,omitempty"`
	Submitted   bool            `json:"submitted"`
	Score       *int            `json:"score,omitempty"`
	Review      []quiz.Review   `json:"review,omitempty"`
}

// Session is one learner's video tutorial view.
type Session struct {
	deps Deps

	mu    sync.Mutex
	state State
	// generation changes when the topic is reloaded or the session closes;
	// responses started under an older generation are dropped.
	generation int
	bannerSeq  int
	banner     schedule.Handle
	closed     bool

	unsubscribe func()
}

// New creates a session and subscribes it to video completions.
func New(deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = schedule.Timer{}
	}
	s := &Session{deps: deps}
	s.state.Subtopics = []Subtopic{}
	s.state.Chat = []ChatEntry{}
	if deps.Bus != nil {
		s.unsubscribe = deps.Bus.Subscribe(bus.TopicVideoCompleted, s.onVideoCompleted)
	}
	return s
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := s.state
	st.Subtopics = append([]Subtopic{}, s.state.Subtopics...)
	st.Videos = append([]youtube.Video(nil), s.state.Videos...)
	st.Chat = append([]ChatEntry{}, s.state.Chat...)
	st.Quiz = append([]quiz.Question(nil), s.state.Quiz...)
	st.Answers = append([]int(nil), s.state.Answers...)
	st.Review = append([]quiz.Review(nil), s.state.Review...)
	if s.state.Score != nil {
		score := *s.state.Score
		st.Score = &score
	}
	return st
}

func (s *Session) checkOpenLocked(op string) error {
	if s.closed {
		return fmt.Errorf("%s: session closed: %w", op, ErrInvalidTransition)
	}
	return nil
}

// ParseSubtopics decodes a JSON subtopic list. An empty string is an empty
// list.
func ParseSubtopics(raw string) ([]Subtopic, error) {
	if strings.TrimSpace(raw) == "" {
		return []Subtopic{}, nil
	}
	var subtopics []Subtopic
	if err := json.Unmarshal([]byte(raw), &subtopics); err != nil {
		return []Subtopic{}, fmt.Errorf("parse subtopics: %w", err)
	}
	if subtopics == nil {
		subtopics = []Subtopic{}
	}
	return subtopics, nil
}

// LoadTopic shows a topic: it resets the session, restores subtopic
// completion from the store and searches for videos. A search failure is
// reported in the state.
func (s *Session) LoadTopic(ctx context.Context, topic, subject, subtopicsJSON string) (State, error) {
	subtopics, err := ParseSubtopics(subtopicsJSON)
	if err != nil {
		s.deps.Logger.Warn("ignoring malformed subtopics", "topic", topic, "error", err)
	}
	for i := range subtopics {
		if s.completedInStore(ctx, kv.VideoCompletedKey(subtopics[i].Title)) {
			subtopics[i].Completed = true
		}
	}

	s.mu.Lock()
	if err := s.checkOpenLocked("load topic"); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	s.generation++
	s.cancelBannerLocked()
	s.state = State{
		Topic:     topic,
		Subject:   subject,
		Subtopics: subtopics,
		Chat:      []ChatEntry{},
	}
	if topic == "" {
		st := s.snapshotLocked()
		s.mu.Unlock()
		return st, nil
	}
	s.state.Searching = true
	gen := s.generation
	s.mu.Unlock()

	s.search(ctx, gen, topic)
	return s.State(), nil
}

// RetrySearch repeats the video search for the current topic.
func (s *Session) RetrySearch(ctx context.Context) (State, error) {
	s.mu.Lock()
	if err := s.checkOpenLocked("retry search"); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	if s.state.Topic == "" {
		s.mu.Unlock()
		return State{}, fmt.Errorf("retry search: no topic loaded: %w", ErrInvalidTransition)
	}
	if s.state.Searching {
		s.mu.Unlock()
		return State{}, fmt.Errorf("retry search: %w", ErrBusy)
	}
	s.state.Searching = true
	s.state.SearchError = ""
	gen, topic := s.generation, s.state.Topic
	s.mu.Unlock()

	s.search(ctx, gen, topic)
	return s.State(), nil
}

func (s *Session) search(ctx context.Context, gen int, topic string) {
	var videos []youtube.Video
	var err error
	if s.deps.Search == nil {
		err = errors.New("video search not configured")
	} else {
		var payload []byte
		payload, err = s.deps.Search.Search(ctx, gateway.SearchRequest{
			Query:      topic + " tutorial",
			MaxResults: SearchResultLimit,
		})
		if err == nil {
			videos, err = youtube.ParseVideos(payload)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.state.Searching = false
	if err != nil {
		s.deps.Logger.Warn("video search failed", "topic", topic, "error", err)
		s.state.Videos = nil
		s.state.SearchError = SearchFailureMessage
		return
	}
	s.state.Videos = videos
	s.state.SearchError = ""
}

func (s *Session) completedInStore(ctx context.Context, key string) bool {
	if s.deps.Store == nil {
		return false
	}
	v, ok, err := s.deps.Store.Get(ctx, key)
	if err != nil {
		s.deps.Logger.Warn("reading completion flag", "key", key, "error", err)
		return false
	}
	return ok && v == kv.TrueValue
}

// SelectVideo starts playback of a video. Completion of the current topic
// recorded earlier is restored.
func (s *Session) SelectVideo(ctx context.Context, videoID, title string) (State, error) {
	if strings.TrimSpace(videoID) == "" {
		return State{}, fmt.Errorf("select video: empty video id: %w", ErrInvalidTransition)
	}

	s.mu.Lock()
	gen, topic := s.generation, s.state.Topic
	s.mu.Unlock()
	watched := topic != "" && s.completedInStore(ctx, kv.VideoCompletedKey(topic))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked("select video"); err != nil {
		return State{}, err
	}
	// The watched flag belongs to the topic that was loaded when reading it.
	if s.generation != gen {
		return s.snapshotLocked(), nil
	}
	s.state.SelectedVideoID = videoID
	s.state.SelectedVideoTitle = title
	s.state.Ended = false
	s.state.ShowCompleteButton = false
	s.state.Watched = watched
	return s.snapshotLocked(), nil
}

// CloseVideo stops playback.
func (s *Session) CloseVideo() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SelectedVideoID = ""
	s.state.SelectedVideoTitle = ""
	s.state.Ended = false
	s.state.ShowCompleteButton = false
	return s.snapshotLocked()
}

// PlaybackEnded records that the selected video played to its end. It is
// the only way to enable completion.
func (s *Session) PlaybackEnded() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked("playback ended"); err != nil {
		return State{}, err
	}
	if s.state.SelectedVideoID == "" {
		return State{}, fmt.Errorf("playback ended: no video selected: %w", ErrInvalidTransition)
	}
	s.state.Ended = true
	s.state.ShowCompleteButton = true
	return s.snapshotLocked(), nil
}

// MarkVideoComplete records the current topic as watched, updates the
// matching subtopic, notifies other sessions and shows the banner.
func (s *Session) MarkVideoComplete(ctx context.Context) (State, error) {
	s.mu.Lock()
	if err := s.checkOpenLocked("mark video complete"); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	if !s.state.Ended {
		s.mu.Unlock()
		return State{}, fmt.Errorf("mark video complete: video has not ended: %w", ErrInvalidTransition)
	}
	if s.state.Watched {
		s.mu.Unlock()
		return State{}, fmt.Errorf("mark video complete: already watched: %w", ErrInvalidTransition)
	}

	topic := s.state.Topic
	s.state.Watched = true
	s.markSubtopicLocked(topic)

	s.cancelBannerLocked()
	s.bannerSeq++
	seq := s.bannerSeq
	s.state.ShowCompletionBanner = true
	s.banner = s.deps.Scheduler.After(BannerDuration, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.bannerSeq == seq {
			s.state.ShowCompletionBanner = false
			s.banner = nil
		}
	})
	s.mu.Unlock()

	// Store watchers and bus handlers may call back into this session, so
	// the lock is released first.
	var errs []error
	if s.deps.Store != nil {
		if err := s.deps.Store.Set(ctx, kv.VideoCompletedKey(topic), kv.TrueValue); err != nil {
			errs = append(errs, fmt.Errorf("storing completion: %w", err))
		}
	}
	if s.deps.Bus != nil {
		if err := s.deps.Bus.Publish(ctx, bus.TopicVideoCompleted, bus.NewVideoCompleted(topic)); err != nil {
			errs = append(errs, fmt.Errorf("publishing completion: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.deps.Logger.Warn("video completion not fully propagated", "topic", topic, "error", err)
	}

	return s.State(), nil
}

func (s *Session) cancelBannerLocked() {
	s.bannerSeq++
	if s.banner != nil {
		s.banner.Cancel()
		s.banner = nil
	}
	s.state.ShowCompletionBanner = false
}

func (s *Session) markSubtopicLocked(title string) {
	want := kv.NormalizeTitle(title)
	for i := range s.state.Subtopics {
		if kv.NormalizeTitle(s.state.Subtopics[i].Title) == want {
			s.state.Subtopics[i].Completed = true
		}
	}
}

func (s *Session) onVideoCompleted(msg bus.Message) {
	v, err := bus.DecodeVideoCompleted(msg.Payload)
	if err != nil {
		s.deps.Logger.Debug("ignoring malformed completion", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.markSubtopicLocked(v.SubtopicTitle)
}

// SendChat asks the tutor a question. Only one question may be pending.
func (s *Session) SendChat(ctx context.Context, text string) (State, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return State{}, fmt.Errorf("send chat: empty message: %w", ErrInvalidTransition)
	}

	s.mu.Lock()
	if err := s.checkOpenLocked("send chat"); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	if s.state.ChatPending {
		s.mu.Unlock()
		return State{}, fmt.Errorf("send chat: %w", ErrBusy)
	}
	s.state.Chat = append(s.state.Chat, ChatEntry{Role: "user", Content: text})
	s.state.ChatPending = true
	gen := s.generation
	req := gateway.ChatRequest{Message: text, Topic: s.state.Topic, Subject: s.state.Subject}
	s.mu.Unlock()

	reply := ChatFailureReply
	if s.deps.Chat != nil {
		answer, err := s.deps.Chat.Reply(ctx, req)
		if err != nil {
			s.deps.Logger.Warn("chat failed", "topic", req.Topic, "error", err)
		} else {
			reply = answer
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return s.snapshotLocked(), nil
	}
	s.state.Chat = append(s.state.Chat, ChatEntry{Role: "assistant", Content: reply})
	s.state.ChatPending = false
	return s.snapshotLocked(), nil
}

// GenerateQuiz requests a quiz for a video, defaulting to the selected
// video's title. On failure the attempt is discarded and the classified
// gateway error is returned.
func (s *Session) GenerateQuiz(ctx context.Context, videoTitle string) (State, error) {
	s.mu.Lock()
	if err := s.checkOpenLocked("generate quiz"); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	if s.state.QuizPending {
		s.mu.Unlock()
		return State{}, fmt.Errorf("generate quiz: %w", ErrBusy)
	}
	if strings.TrimSpace(videoTitle) == "" {
		videoTitle = s.state.SelectedVideoTitle
	}
	s.state.QuizPending = true
	s.state.QuizError = ""
	gen := s.generation
	req := gateway.QuizRequest{VideoTitle: videoTitle, Topic: s.state.Topic, Subject: s.state.Subject}
	s.mu.Unlock()

	var questions []quiz.Question
	var err error
	if s.deps.Quiz == nil {
		err = &gateway.Error{Kind: gateway.KindConfiguration, Status: 503, Message: "AI service not configured. Please contact administrator."}
	} else {
		questions, err = s.deps.Quiz.Generate(ctx, req)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return s.snapshotLocked(), nil
	}
	s.state.QuizPending = false
	s.resetQuizLocked()
	if err != nil {
		s.state.QuizError = gateway.AsError(err).Message
		return s.snapshotLocked(), err
	}
	s.state.Quiz = questions
	s.state.Answers = make([]int, len(questions))
	for i := range s.state.Answers {
		s.state.Answers[i] = quiz.Unanswered
	}
	return s.snapshotLocked(), nil
}

func (s *Session) resetQuizLocked() {
	s.state.Quiz = nil
	s.state.Answers = nil
	s.state.Submitted = false
	s.state.Score = nil
	s.state.Review = nil
}

// AnswerQuestion records or replaces the answer to one question.
func (s *Session) AnswerQuestion(question, option int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked("answer question"); err != nil {
		return State{}, err
	}
	if len(s.state.Quiz) == 0 {
		return State{}, fmt.Errorf("answer question: no quiz: %w", ErrInvalidTransition)
	}
	if s.state.Submitted {
		return State{}, fmt.Errorf("answer question: quiz already submitted: %w", ErrInvalidTransition)
	}
	if question < 0 || question >= len(s.state.Quiz) {
		return State{}, fmt.Errorf("answer question: question %d out of range: %w", question, ErrInvalidTransition)
	}
	if option < 0 || option >= len(s.state.Quiz[question].Options) {
		return State{}, fmt.Errorf("answer question: option %d out of range: %w", option, ErrInvalidTransition)
	}
	s.state.Answers[question] = option
	return s.snapshotLocked(), nil
}

// SubmitQuiz scores a fully answered quiz and stores the score and
// completion flag for the topic.
func (s *Session) SubmitQuiz(ctx context.Context) (State, error) {
	s.mu.Lock()
	if err := s.checkOpenLocked("submit quiz"); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	if len(s.state.Quiz) == 0 || s.state.Submitted {
		s.mu.Unlock()
		return State{}, fmt.Errorf("submit quiz: no open quiz: %w", ErrInvalidTransition)
	}
	for i, a := range s.state.Answers {
		if a == quiz.Unanswered {
			s.mu.Unlock()
			return State{}, fmt.Errorf("submit quiz: question %d unanswered: %w", i, ErrInvalidTransition)
		}
	}
	score, review := quiz.Score(s.state.Quiz, s.state.Answers)
	s.state.Submitted = true
	s.state.Score = &score
	s.state.Review = review
	topic := s.state.Topic
	s.mu.Unlock()

	if s.deps.Store != nil {
		if err := s.deps.Store.Set(ctx, kv.QuizScoreKey(topic), strconv.Itoa(score)); err != nil {
			s.deps.Logger.Warn("storing quiz score", "topic", topic, "error", err)
		}
		if err := s.deps.Store.Set(ctx, kv.QuizCompletedKey(topic), kv.TrueValue); err != nil {
			s.deps.Logger.Warn("storing quiz completion", "topic", topic, "error", err)
		}
	}
	return s.State(), nil
}

// Close unsubscribes from notifications and drops in-flight responses.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	s.cancelBannerLocked()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
