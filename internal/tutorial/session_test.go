package tutorial_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/p-n-ai/pai-quest/internal/bus"
	"github.com/p-n-ai/pai-quest/internal/gateway"
	"github.com/p-n-ai/pai-quest/internal/kv"
	"github.com/p-n-ai/pai-quest/internal/quiz"
	"github.com/p-n-ai/pai-quest/internal/schedule"
	"github.com/p-n-ai/pai-quest/internal/tutorial"
)

const twoVideos = `{"items":[
 {"id":{"videoId":"v1"},"snippet":{"title":"Intro","channelTitle":"Ch","thumbnails":{"high":{"url":"h1"}}}},
 {"id":{"videoId":"v2"},"snippet":{"title":"More","channelTitle":"Ch","thumbnails":{"default":{"url":"d2"}}}}
]}`

type fakeSearch struct {
	mu      sync.Mutex
	payload string
	err     error
	reqs    []gateway.SearchRequest
}

func (f *fakeSearch) Search(_ context.Context, req gateway.SearchRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.payload), nil
}

type fakeChat struct {
	reply  string
	err    error
	before func()
	last   gateway.ChatRequest
}

func (f *fakeChat) Reply(_ context.Context, req gateway.ChatRequest) (string, error) {
	f.last = req
	if f.before != nil {
		f.before()
	}
	return f.reply, f.err
}

type fakeQuiz struct {
	questions []quiz.Question
	err       error
	last      gateway.QuizRequest
}

func (f *fakeQuiz) Generate(_ context.Context, req gateway.QuizRequest) ([]quiz.Question, error) {
	f.last = req
	return f.questions, f.err
}

func fiveQuestions() []quiz.Question {
	qs := make([]quiz.Question, quiz.QuestionCount)
	for i := range qs {
		qs[i] = quiz.Question{
			Question:      fmt.Sprintf("Q%d?", i),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: i % quiz.OptionCount,
			Explanation:   "because",
		}
	}
	return qs
}

type fixture struct {
	session *tutorial.Session
	search  *fakeSearch
	chat    *fakeChat
	quiz    *fakeQuiz
	store   *kv.MemoryStore
	bus     *bus.Local
	sched   *schedule.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		search: &fakeSearch{payload: twoVideos},
		chat:   &fakeChat{reply: "Fractions are parts of a whole."},
		quiz:   &fakeQuiz{questions: fiveQuestions()},
		store:  kv.NewMemoryStore(),
		bus:    bus.NewLocal(),
		sched:  schedule.NewManual(),
	}
	f.session = tutorial.New(tutorial.Deps{
		Search:    f.search,
		Chat:      f.chat,
		Quiz:      f.quiz,
		Store:     f.store,
		Bus:       f.bus,
		Scheduler: f.sched,
	})
	t.Cleanup(f.session.Close)
	return f
}

const subtopics = `[{"id":"s1","title":"Fractions"},{"id":"s2","title":"Decimals"}]`

func (f *fixture) load(t *testing.T) tutorial.State {
	t.Helper()
	st, err := f.session.LoadTopic(context.Background(), "Fractions", "math", subtopics)
	if err != nil {
		t.Fatalf("LoadTopic() error = %v", err)
	}
	return st
}

func (f *fixture) watchToEnd(t *testing.T) {
	t.Helper()
	if _, err := f.session.SelectVideo(context.Background(), "v1", "Intro"); err != nil {
		t.Fatalf("SelectVideo() error = %v", err)
	}
	if _, err := f.session.PlaybackEnded(); err != nil {
		t.Fatalf("PlaybackEnded() error = %v", err)
	}
}

func TestLoadTopic_SearchesVideos(t *testing.T) {
	f := newFixture(t)
	st := f.load(t)

	if len(f.search.reqs) != 1 {
		t.Fatalf("search calls = %d, want 1", len(f.search.reqs))
	}
	req := f.search.reqs[0]
	if req.Query != "Fractions tutorial" || req.MaxResults != tutorial.SearchResultLimit {
		t.Errorf("search request = %+v", req)
	}
	if st.Searching || st.SearchError != "" {
		t.Errorf("searching = %v error = %q", st.Searching, st.SearchError)
	}
	if len(st.Videos) != 2 || st.Videos[0].ID != "v1" || st.Videos[1].Thumbnail != "d2" {
		t.Errorf("videos = %+v", st.Videos)
	}
	if len(st.Subtopics) != 2 || st.Subtopics[0].Completed {
		t.Errorf("subtopics = %+v", st.Subtopics)
	}
}

func TestLoadTopic_RestoresCompletedSubtopics(t *testing.T) {
	f := newFixture(t)
	_ = f.store.Set(context.Background(), kv.VideoCompletedKey("Decimals"), kv.TrueValue)

	st := f.load(t)
	if st.Subtopics[0].Completed || !st.Subtopics[1].Completed {
		t.Errorf("subtopics = %+v, want only Decimals completed", st.Subtopics)
	}
}

func TestLoadTopic_MalformedSubtopics(t *testing.T) {
	f := newFixture(t)
	st, err := f.session.LoadTopic(context.Background(), "Fractions", "math", "{not json")
	if err != nil {
		t.Fatalf("LoadTopic() error = %v", err)
	}
	if len(st.Subtopics) != 0 {
		t.Errorf("subtopics = %+v, want empty", st.Subtopics)
	}
	if len(st.Videos) != 2 {
		t.Error("a bad subtopic list should not stop the search")
	}
}

func TestLoadTopic_EmptyTopicSkipsSearch(t *testing.T) {
	f := newFixture(t)
	if _, err := f.session.LoadTopic(context.Background(), "", "", ""); err != nil {
		t.Fatalf("LoadTopic() error = %v", err)
	}
	if len(f.search.reqs) != 0 {
		t.Errorf("search calls = %d, want 0", len(f.search.reqs))
	}
	if _, err := f.session.RetrySearch(context.Background()); !errors.Is(err, tutorial.ErrInvalidTransition) {
		t.Errorf("RetrySearch() error = %v, want ErrInvalidTransition", err)
	}
}

func TestSearchFailureAndRetry(t *testing.T) {
	f := newFixture(t)
	f.search.err = errors.New("quota")

	st := f.load(t)
	if st.SearchError != tutorial.SearchFailureMessage || len(st.Videos) != 0 {
		t.Fatalf("state = %+v, want search error", st)
	}

	f.search.err = nil
	st, err := f.session.RetrySearch(context.Background())
	if err != nil {
		t.Fatalf("RetrySearch() error = %v", err)
	}
	if st.SearchError != "" || len(st.Videos) != 2 {
		t.Errorf("after retry: error %q videos %d", st.SearchError, len(st.Videos))
	}
}

func TestPlayback_Transitions(t *testing.T) {
	f := newFixture(t)
	f.load(t)

	if _, err := f.session.PlaybackEnded(); !errors.Is(err, tutorial.ErrInvalidTransition) {
		t.Errorf("PlaybackEnded() without video error = %v", err)
	}
	if _, err := f.session.SelectVideo(context.Background(), "", "x"); !errors.Is(err, tutorial.ErrInvalidTransition) {
		t.Errorf("SelectVideo(\"\") error = %v", err)
	}
	if _, err := f.session.MarkVideoComplete(context.Background()); !errors.Is(err, tutorial.ErrInvalidTransition) {
		t.Errorf("MarkVideoComplete() before end error = %v", err)
	}

	st, err := f.session.SelectVideo(context.Background(), "v1", "Intro")
	if err != nil {
		t.Fatalf("SelectVideo() error = %v", err)
	}
	if st.SelectedVideoID != "v1" || st.Ended || st.ShowCompleteButton || st.Watched {
		t.Errorf("after select: %+v", st)
	}

	st, err = f.session.PlaybackEnded()
	if err != nil {
		t.Fatalf("PlaybackEnded() error = %v", err)
	}
	if !st.Ended || !st.ShowCompleteButton {
		t.Errorf("after end: ended %v button %v", st.Ended, st.ShowCompleteButton)
	}

	st = f.session.CloseVideo()
	if st.SelectedVideoID != "" || st.Ended || st.ShowCompleteButton {
		t.Errorf("after close: %+v", st)
	}
}

func TestMarkVideoComplete(t *testing.T) {
	f := newFixture(t)
	f.load(t)

	var got []bus.VideoCompleted
	f.bus.Subscribe(bus.TopicVideoCompleted, func(m bus.Message) {
		v, err := bus.DecodeVideoCompleted(m.Payload)
		if err == nil {
			got = append(got, v)
		}
	})

	f.watchToEnd(t)
	st, err := f.session.MarkVideoComplete(context.Background())
	if err != nil {
		t.Fatalf("MarkVideoComplete() error = %v", err)
	}
	if !st.Watched || !st.ShowCompletionBanner {
		t.Errorf("watched %v banner %v", st.Watched, st.ShowCompletionBanner)
	}
	if !st.Subtopics[0].Completed || st.Subtopics[1].Completed {
		t.Errorf("subtopics = %+v", st.Subtopics)
	}
	if v, ok, _ := f.store.Get(context.Background(), kv.VideoCompletedKey("Fractions")); !ok || v != kv.TrueValue {
		t.Errorf("stored flag = %q, %v", v, ok)
	}
	if len(got) != 1 || got[0].SubtopicTitle != "Fractions" {
		t.Errorf("published = %+v", got)
	}

	if _, err := f.session.MarkVideoComplete(context.Background()); !errors.Is(err, tutorial.ErrInvalidTransition) {
		t.Errorf("second MarkVideoComplete() error = %v", err)
	}

	f.sched.Advance(tutorial.BannerDuration - 1)
	if !f.session.State().ShowCompletionBanner {
		t.Error("banner hidden too early")
	}
	f.sched.Advance(1)
	if f.session.State().ShowCompletionBanner {
		t.Error("banner should hide after 3s")
	}
}

func TestSelectVideo_RestoresWatched(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	f.watchToEnd(t)
	if _, err := f.session.MarkVideoComplete(context.Background()); err != nil {
		t.Fatalf("MarkVideoComplete() error = %v", err)
	}

	st, err := f.session.SelectVideo(context.Background(), "v2", "More")
	if err != nil {
		t.Fatalf("SelectVideo() error = %v", err)
	}
	if !st.Watched || st.Ended {
		t.Errorf("watched %v ended %v, want restored watched", st.Watched, st.Ended)
	}
}

// hookStore runs onGet once, the first time key is read.
type hookStore struct {
	*kv.MemoryStore
	key   string
	once  sync.Once
	onGet func()
}

func (h *hookStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == h.key && h.onGet != nil {
		h.once.Do(h.onGet)
	}
	return h.MemoryStore.Get(ctx, key)
}

func TestSelectVideo_TopicChangedDuringLookup(t *testing.T) {
	ctx := context.Background()
	store := &hookStore{MemoryStore: kv.NewMemoryStore()}
	s := tutorial.New(tutorial.Deps{
		Search:    &fakeSearch{payload: twoVideos},
		Store:     store,
		Bus:       bus.NewLocal(),
		Scheduler: schedule.NewManual(),
	})
	t.Cleanup(s.Close)

	if _, err := s.LoadTopic(ctx, "Fractions", "math", ""); err != nil {
		t.Fatalf("LoadTopic() error = %v", err)
	}
	if err := store.Set(ctx, kv.VideoCompletedKey("Fractions"), kv.TrueValue); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	store.key = kv.VideoCompletedKey("Fractions")
	store.onGet = func() {
		if _, err := s.LoadTopic(ctx, "Decimals", "math", ""); err != nil {
			t.Errorf("LoadTopic() error = %v", err)
		}
	}

	st, err := s.SelectVideo(ctx, "v1", "Intro")
	if err != nil {
		t.Fatalf("SelectVideo() error = %v", err)
	}
	if st.Topic != "Decimals" {
		t.Fatalf("topic = %q, want Decimals", st.Topic)
	}
	if st.Watched || st.SelectedVideoID != "" {
		t.Errorf("watched %v selected %q, want fresh Decimals state", st.Watched, st.SelectedVideoID)
	}
	if got := s.State(); got.Watched {
		t.Error("Fractions completion leaked into Decimals")
	}
}

func TestCompletionFromAnotherSession(t *testing.T) {
	store := kv.NewMemoryStore()
	local := bus.NewLocal()
	fan := bus.NewFanout(local, bus.NewStorageChannel(store))
	newSession := func() *tutorial.Session {
		s := tutorial.New(tutorial.Deps{
			Search:    &fakeSearch{payload: twoVideos},
			Store:     store,
			Bus:       fan,
			Scheduler: schedule.NewManual(),
		})
		t.Cleanup(s.Close)
		return s
	}

	viewer := newSession()
	if _, err := viewer.LoadTopic(context.Background(), "Maths", "math", subtopics); err != nil {
		t.Fatalf("LoadTopic() error = %v", err)
	}

	player := newSession()
	if _, err := player.LoadTopic(context.Background(), "Decimals", "math", ""); err != nil {
		t.Fatalf("LoadTopic() error = %v", err)
	}
	if _, err := player.SelectVideo(context.Background(), "v1", "Intro"); err != nil {
		t.Fatal(err)
	}
	if _, err := player.PlaybackEnded(); err != nil {
		t.Fatal(err)
	}
	if _, err := player.MarkVideoComplete(context.Background()); err != nil {
		t.Fatalf("MarkVideoComplete() error = %v", err)
	}

	st := viewer.State()
	if st.Subtopics[0].Completed || !st.Subtopics[1].Completed {
		t.Errorf("viewer subtopics = %+v, want Decimals completed", st.Subtopics)
	}

	viewer.Close()
	if local.Subscribers(bus.TopicVideoCompleted) != 1 {
		t.Errorf("subscribers after close = %d, want 1", local.Subscribers(bus.TopicVideoCompleted))
	}
}

func TestSendChat(t *testing.T) {
	f := newFixture(t)
	f.load(t)

	if _, err := f.session.SendChat(context.Background(), "   "); !errors.Is(err, tutorial.ErrInvalidTransition) {
		t.Errorf("SendChat(blank) error = %v", err)
	}

	st, err := f.session.SendChat(context.Background(), " What is a fraction? ")
	if err != nil {
		t.Fatalf("SendChat() error = %v", err)
	}
	if f.chat.last.Message != "What is a fraction?" || f.chat.last.Topic != "Fractions" || f.chat.last.Subject != "math" {
		t.Errorf("chat request = %+v", f.chat.last)
	}
	want := []tutorial.ChatEntry{
		{Role: "user", Content: "What is a fraction?"},
		{Role: "assistant", Content: "Fractions are parts of a whole."},
	}
	if len(st.Chat) != 2 || st.Chat[0] != want[0] || st.Chat[1] != want[1] {
		t.Errorf("chat = %+v", st.Chat)
	}
	if st.ChatPending {
		t.Error("chat should not be pending")
	}

	f.chat.err = errors.New("boom")
	st, err = f.session.SendChat(context.Background(), "again")
	if err != nil {
		t.Fatalf("SendChat() error = %v", err)
	}
	if last := st.Chat[len(st.Chat)-1]; last.Content != tutorial.ChatFailureReply {
		t.Errorf("reply = %q, want failure reply", last.Content)
	}
}

func TestSendChat_BusyAndStale(t *testing.T) {
	f := newFixture(t)
	f.load(t)

	var busyErr error
	f.chat.before = func() {
		_, busyErr = f.session.SendChat(context.Background(), "second")
		f.chat.before = nil
		// Reloading the topic makes the in-flight reply stale.
		if _, err := f.session.LoadTopic(context.Background(), "Decimals", "math", ""); err != nil {
			t.Errorf("LoadTopic() error = %v", err)
		}
	}

	st, err := f.session.SendChat(context.Background(), "first")
	if err != nil {
		t.Fatalf("SendChat() error = %v", err)
	}
	if !errors.Is(busyErr, tutorial.ErrBusy) {
		t.Errorf("concurrent SendChat() error = %v, want ErrBusy", busyErr)
	}
	if st.Topic != "Decimals" || len(st.Chat) != 0 || st.ChatPending {
		t.Errorf("state = topic %q chat %+v pending %v, want fresh session", st.Topic, st.Chat, st.ChatPending)
	}
}

func TestQuizFlow(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	if _, err := f.session.SelectVideo(context.Background(), "v1", "Intro"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.session.SubmitQuiz(context.Background()); !errors.Is(err, tutorial.ErrInvalidTransition) {
		t.Errorf("SubmitQuiz() without quiz error = %v", err)
	}

	st, err := f.session.GenerateQuiz(context.Background(), "")
	if err != nil {
		t.Fatalf("GenerateQuiz() error = %v", err)
	}
	if f.quiz.last.VideoTitle != "Intro" || f.quiz.last.Topic != "Fractions" {
		t.Errorf("quiz request = %+v", f.quiz.last)
	}
	if len(st.Quiz) != quiz.QuestionCount {
		t.Fatalf("quiz = %d questions", len(st.Quiz))
	}
	for i, a := range st.Answers {
		if a != quiz.Unanswered {
			t.Errorf("answer %d = %d, want unanswered", i, a)
		}
	}

	bad := []struct {
		name             string
		question, option int
	}{
		{"negative question", -1, 0},
		{"question past end", quiz.QuestionCount, 0},
		{"negative option", 0, -1},
		{"option past end", 0, quiz.OptionCount},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.session.AnswerQuestion(tt.question, tt.option); !errors.Is(err, tutorial.ErrInvalidTransition) {
				t.Errorf("AnswerQuestion(%d, %d) error = %v", tt.question, tt.option, err)
			}
		})
	}

	// Answer all but the last correctly.
	for i := 0; i < quiz.QuestionCount-1; i++ {
		if _, err := f.session.AnswerQuestion(i, i%quiz.OptionCount); err != nil {
			t.Fatalf("AnswerQuestion(%d) error = %v", i, err)
		}
	}
	if _, err := f.session.SubmitQuiz(context.Background()); !errors.Is(err, tutorial.ErrInvalidTransition) {
		t.Errorf("SubmitQuiz() with unanswered question error = %v", err)
	}

	last := quiz.QuestionCount - 1
	if _, err := f.session.AnswerQuestion(last, (last+1)%quiz.OptionCount); err != nil {
		t.Fatal(err)
	}
	st, err = f.session.SubmitQuiz(context.Background())
	if err != nil {
		t.Fatalf("SubmitQuiz() error = %v", err)
	}
	if !st.Submitted || st.Score == nil || *st.Score != quiz.QuestionCount-1 {
		t.Errorf("submitted %v score %v", st.Submitted, st.Score)
	}
	if len(st.Review) != quiz.QuestionCount || st.Review[last].Correct {
		t.Errorf("review = %+v", st.Review)
	}

	if v, _, _ := f.store.Get(context.Background(), kv.QuizScoreKey("Fractions")); v != "4" {
		t.Errorf("stored score = %q, want 4", v)
	}
	if v, _, _ := f.store.Get(context.Background(), kv.QuizCompletedKey("Fractions")); v != kv.TrueValue {
		t.Errorf("stored completion = %q", v)
	}

	if _, err := f.session.AnswerQuestion(0, 1); !errors.Is(err, tutorial.ErrInvalidTransition) {
		t.Errorf("AnswerQuestion() after submit error = %v", err)
	}
}

func TestGenerateQuiz_FailureDiscardsAttempt(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	if _, err := f.session.GenerateQuiz(context.Background(), "Intro"); err != nil {
		t.Fatal(err)
	}

	f.quiz.err = &gateway.Error{Kind: gateway.KindResponseFormat, Status: 500, Message: "AI generated invalid response. Please try again."}
	st, err := f.session.GenerateQuiz(context.Background(), "Intro")
	var gerr *gateway.Error
	if !errors.As(err, &gerr) || gerr.Kind != gateway.KindResponseFormat {
		t.Fatalf("GenerateQuiz() error = %v, want response format", err)
	}
	if len(st.Quiz) != 0 || len(st.Answers) != 0 || st.QuizPending {
		t.Errorf("state = %+v, want discarded attempt", st)
	}
	if !strings.Contains(st.QuizError, "invalid response") {
		t.Errorf("quiz error = %q", st.QuizError)
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	f.watchToEnd(t)
	if _, err := f.session.MarkVideoComplete(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.session.Close()
	f.session.Close()

	if f.sched.Pending() != 0 {
		t.Errorf("pending tasks = %d, want banner canceled", f.sched.Pending())
	}
	if f.bus.Subscribers(bus.TopicVideoCompleted) != 0 {
		t.Error("closed session should unsubscribe")
	}
	if _, err := f.session.SendChat(context.Background(), "hi"); !errors.Is(err, tutorial.ErrInvalidTransition) {
		t.Errorf("SendChat() after close error = %v", err)
	}
}
