package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/p-n-ai/pai-quest/internal/catalog"
	"github.com/p-n-ai/pai-quest/internal/progress"
	"github.com/p-n-ai/pai-quest/internal/report"
)

type subjectSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Topics int    `json:"topics"`
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request) {
	cat := s.catalog()
	out := make([]subjectSummary, 0, cat.Len())
	for _, subj := range cat.Subjects() {
		out = append(out, subjectSummary{ID: subj.ID, Name: subj.Name, Topics: len(subj.Topics)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"subjects": out})
}

func (s *Server) catalog() *catalog.Catalog {
	if s.deps.Catalog == nil {
		return &catalog.Catalog{}
	}
	return s.deps.Catalog
}

type createSessionRequest struct {
	Subject string `json:"subject"`
}

type progressResponse struct {
	ID    string         `json:"id"`
	State progress.State `json:"state"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decode(w, r, &req) {
		return
	}

	m := progress.New(s.catalog(), s.deps.Scheduler)
	known := m.SelectSubject(req.Subject)
	id := s.progress.Add(m)
	if !known {
		s.logger.Warn("progress session created for unknown subject", "session_id", id, "subject", req.Subject)
	} else {
		s.logger.Info("progress session created", "session_id", id, "subject", req.Subject)
	}
	writeJSON(w, http.StatusCreated, progressResponse{ID: id, State: m.State()})
}

func (s *Server) progressSession(w http.ResponseWriter, r *http.Request) (string, *progress.Machine, bool) {
	id := r.PathValue("id")
	m, err := s.progress.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return "", nil, false
	}
	return id, m, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.progressSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{ID: id, State: m.State()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	m, err := s.progress.Remove(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteTopic(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.progressSession(w, r)
	if !ok {
		return
	}
	st, err := m.CompleteTopic(r.PathValue("topicID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{ID: id, State: st})
}

func (s *Server) handleDismissAchievement(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.progressSession(w, r)
	if !ok {
		return
	}
	m.DismissAchievement()
	writeJSON(w, http.StatusOK, progressResponse{ID: id, State: m.State()})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	_, m, ok := s.progressSession(w, r)
	if !ok {
		return
	}
	st := m.State()

	var buf bytes.Buffer
	if err := report.Write(&buf, st, s.now()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename(st.SubjectID)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
