package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/p-n-ai/pai-quest/internal/tutorial"
)

type createTutorialRequest struct {
	Topic   string `json:"topic"`
	Subject string `json:"subject"`
	// Subtopics is a JSON array, or a string holding one.
	Subtopics json.RawMessage `json:"subtopics"`
}

func (req createTutorialRequest) subtopicsJSON() string {
	raw := req.Subtopics
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type tutorialResponse struct {
	ID    string         `json:"id"`
	State tutorial.State `json:"state"`
}

func (s *Server) handleCreateTutorial(w http.ResponseWriter, r *http.Request) {
	var req createTutorialRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Topic == "" {
		writeMessage(w, http.StatusBadRequest, "Topic is required")
		return
	}

	sess := tutorial.New(tutorial.Deps{
		Search:    s.deps.Search,
		Chat:      s.deps.Chat,
		Quiz:      s.deps.Quiz,
		Store:     s.deps.Store,
		Bus:       s.deps.Bus,
		Scheduler: s.deps.Scheduler,
		Logger:    s.logger,
	})
	st, err := sess.LoadTopic(r.Context(), req.Topic, req.Subject, req.subtopicsJSON())
	if err != nil {
		sess.Close()
		s.writeError(w, r, err)
		return
	}
	id := s.tutorials.Add(sess)
	s.logger.Info("tutorial session created", "session_id", id, "topic", req.Topic)
	writeJSON(w, http.StatusCreated, tutorialResponse{ID: id, State: st})
}

func (s *Server) tutorialSession(w http.ResponseWriter, r *http.Request) (string, *tutorial.Session, bool) {
	id := r.PathValue("id")
	sess, err := s.tutorials.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return "", nil, false
	}
	return id, sess, true
}

// withTutorial runs op against the addressed session and renders the
// resulting state.
func (s *Server) withTutorial(w http.ResponseWriter, r *http.Request, op func(*tutorial.Session) (tutorial.State, error)) {
	id, sess, ok := s.tutorialSession(w, r)
	if !ok {
		return
	}
	st, err := op(sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tutorialResponse{ID: id, State: st})
}

func (s *Server) handleGetTutorial(w http.ResponseWriter, r *http.Request) {
	s.withTutorial(w, r, func(sess *tutorial.Session) (tutorial.State, error) {
		return sess.State(), nil
	})
}

func (s *Server) handleDeleteTutorial(w http.ResponseWriter, r *http.Request) {
	sess, err := s.tutorials.Remove(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetrySearch(w http.ResponseWriter, r *http.Request) {
	s.withTutorial(w, r, func(sess *tutorial.Session) (tutorial.State, error) {
		return sess.RetrySearch(r.Context())
	})
}

type selectVideoRequest struct {
	VideoID string `json:"videoId"`
	Title   string `json:"title"`
}

func (s *Server) handleSelectVideo(w http.ResponseWriter, r *http.Request) {
	var req selectVideoRequest
	if !decode(w, r, &req) {
		return
	}
	s.withTutorial(w, r, func(sess *tutorial.Session) (tutorial.State, error) {
		return sess.SelectVideo(r.Context(), req.VideoID, req.Title)
	})
}

func (s *Server) handleCloseVideo(w http.ResponseWriter, r *http.Request) {
	s.withTutorial(w, r, func(sess *tutorial.Session) (tutorial.State, error) {
		return sess.CloseVideo(), nil
	})
}

func (s *Server) handlePlaybackEnded(w http.ResponseWriter, r *http.Request) {
	s.withTutorial(w, r, func(sess *tutorial.Session) (tutorial.State, error) {
		return sess.PlaybackEnded()
	})
}

func (s *Server) handleMarkComplete(w http.ResponseWriter, r *http.Request) {
	s.withTutorial(w, r, func(sess *tutorial.Session) (tutorial.State, error) {
		return sess.MarkVideoComplete(r.Context())
	})
}

type chatMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTutorialChat(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if !decode(w, r, &req) {
		return
	}
	s.withTutorial(w, r, func(sess *tutorial.Session) (tutorial.State, error) {
		return sess.SendChat(r.Context(), req.Text)
	})
}

type tutorialQuizRequest struct {
	VideoTitle string `json:"videoTitle"`
}

func (s *Server) handleTutorialQuiz(w http.ResponseWriter, r *http.Request) {
	var req tutorialQuizRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	s.withTutorial(w, r, func(sess *tutorial.Session) (tutorial.State, error) {
		return sess.GenerateQuiz(r.Context(), req.VideoTitle)
	})
}

type answerRequest struct {
	Option *int `json:"option"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Question index must be an integer")
		return
	}
	var req answerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Option == nil {
		writeMessage(w, http.StatusBadRequest, "Option is required")
		return
	}
	s.withTutorial(w, r, func(sess *tutorial.Session) (tutorial.State, error) {
		return sess.AnswerQuestion(index, *req.Option)
	})
}

func (s *Server) handleSubmitQuiz(w http.ResponseWriter, r *http.Request) {
	s.withTutorial(w, r, func(sess *tutorial.Session) (tutorial.State, error) {
		return sess.SubmitQuiz(r.Context())
	})
}
