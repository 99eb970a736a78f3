package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/p-n-ai/pai-quest/internal/gateway"
	"github.com/p-n-ai/pai-quest/internal/quiz"
)

// searchMaxAge is advertised to browsers for search payloads.
const searchMaxAge = time.Hour

type chatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChatRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Chat == nil {
		s.writeError(w, r, &gateway.Error{Kind: gateway.KindConfiguration, Status: http.StatusInternalServerError, Message: "Gemini API key not configured"})
		return
	}

	reply, err := s.deps.Chat.Reply(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}

type quizResponse struct {
	Quiz []quiz.Question `json:"quiz"`
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	var req gateway.QuizRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Quiz == nil {
		s.writeError(w, r, &gateway.Error{Kind: gateway.KindConfiguration, Status: http.StatusServiceUnavailable, Message: "AI service not configured. Please contact administrator."})
		return
	}

	questions, err := s.deps.Quiz.Generate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizResponse{Quiz: questions})
}

func (s *Server) handleVideoSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := gateway.SearchRequest{
		Query:      q.Get("q"),
		MaxResults: gateway.ParseMaxResults(q.Get("maxResults")),
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Search == nil {
		s.writeError(w, r, &gateway.Error{Kind: gateway.KindConfiguration, Status: http.StatusInternalServerError, Message: "YouTube API key not configured"})
		return
	}

	payload, err := s.deps.Search.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(searchMaxAge.Seconds())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
