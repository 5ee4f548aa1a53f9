package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/tagmail/internal/compose"
	"github.com/wesm/tagmail/internal/engine"
	"github.com/wesm/tagmail/internal/scheduler"
	"github.com/wesm/tagmail/internal/search"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/tagset"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ListResponse is the body of GET /messages.
type ListResponse struct {
	Query    string          `json:"query"`
	Offset   int             `json:"offset"`
	Limit    int             `json:"limit"`
	Messages []store.Summary `json:"messages"`
}

// CountResponse is the body of GET /count.
type CountResponse struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// TagRequest is the body of POST /tags/apply and /tags/remove.
type TagRequest struct {
	Query string `json:"query"`
	Tag   string `json:"tag"`
}

// TagResponse reports how many messages a tag mutation changed.
type TagResponse struct {
	Query   string `json:"query"`
	Tag     string `json:"tag"`
	Changed int    `json:"changed"`
}

// TagsResponse is the body of GET /tags.
type TagsResponse struct {
	Tags []string `json:"tags"`
}

// PreviewResponse carries a rendered message.
type PreviewResponse struct {
	EML string `json:"eml"`
}

// SendResponse identifies the stored copy of a sent message.
type SendResponse struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

// SourceInfo describes a configured import source.
type SourceInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Schedule  string `json:"schedule,omitempty"`
	Enabled   bool   `json:"enabled"`
	Scheduled bool   `json:"scheduled"`
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running bool           `json:"running"`
	Sources []SourceStatus `json:"sources"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeEngineError maps engine errors onto HTTP statuses. Unclassified
// errors are logged and reported as 500 without detail.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	var syntaxErr *search.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
	case errors.Is(err, tagset.ErrInvalidTag):
		writeError(w, http.StatusBadRequest, "invalid_tag", err.Error())
	case errors.Is(err, compose.ErrInvalidDraft):
		writeError(w, http.StatusBadRequest, "invalid_draft", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate", err.Error())
	case errors.Is(err, engine.ErrNoDeliverer):
		writeError(w, http.StatusServiceUnavailable, "send_unavailable", "No SMTP relay configured")
	default:
		s.logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to "+op)
	}
}

// requireEngine answers 503 when the server runs without an engine.
func (s *Server) requireEngine(w http.ResponseWriter) bool {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine_unavailable", "Message engine not available")
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// idParam returns the {id} path segment. Message IDs may hold characters
// that clients must percent-encode, and chi matches on the escaped path.
func idParam(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

// handleStats returns corpus statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeEngineError(w, "retrieve statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleListMessages lists messages matching ?q=, newest first.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	q := r.URL.Query().Get("q")
	opts := engine.PageOptions(offset, limit, s.cfg.List.DefaultLimit)
	msgs, err := s.engine.List(r.Context(), q, opts)
	if err != nil {
		s.writeEngineError(w, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Query:    q,
		Offset:   opts.Offset,
		Limit:    opts.Limit,
		Messages: msgs,
	})
}

// handleCount counts messages matching ?q=.
func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	q := r.URL.Query().Get("q")
	n, err := s.engine.Count(r.Context(), q)
	if err != nil {
		s.writeEngineError(w, "count messages", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Query: q, Count: n})
}

// handleGetMessage returns the full record of one message.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	msg, err := s.engine.View(r.Context(), idParam(r))
	if err != nil {
		s.writeEngineError(w, "retrieve message", err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleReplyTemplate returns a reply draft for one message.
func (s *Server) handleReplyTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	draft, err := s.engine.ReplyTemplate(r.Context(), idParam(r))
	if err != nil {
		s.writeEngineError(w, "build reply", err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleListTags returns every tag in use.
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	tags := s.engine.ListTags(r.Context())
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, TagsResponse{Tags: tags})
}

func (s *Server) handleApplyTag(w http.ResponseWriter, r *http.Request) {
	s.handleMutateTag(w, r, true)
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	s.handleMutateTag(w, r, false)
}

func (s *Server) handleMutateTag(w http.ResponseWriter, r *http.Request, add bool) {
	if !s.requireEngine(w) {
		return
	}
	var req TagRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var (
		n   int
		err error
	)
	if add {
		n, err = s.engine.ApplyTag(r.Context(), req.Query, req.Tag)
	} else {
		n, err = s.engine.RemoveTag(r.Context(), req.Query, req.Tag)
	}
	if err != nil {
		s.writeEngineError(w, "update tags", err)
		return
	}
	writeJSON(w, http.StatusOK, TagResponse{Query: req.Query, Tag: req.Tag, Changed: n})
}

// handlePreview renders a draft without sending it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	var draft compose.Draft
	if err := decodeBody(w, r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	raw, err := s.engine.Preview(r.Context(), &draft)
	if err != nil {
		s.writeEngineError(w, "render draft", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{EML: string(raw)})
}

// handleSend delivers a draft and stores the sent copy.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	var draft compose.Draft
	if err := decodeBody(w, r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	msg, err := s.engine.Send(r.Context(), &draft)
	if err != nil {
		s.writeEngineError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{ID: msg.ID, Tags: msg.Tags.Sorted()})
}

// handleListSources lists configured import sources.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources := make([]SourceInfo, 0, len(s.cfg.Sources))
	for _, src := range s.cfg.Sources {
		info := SourceInfo{
			Name:     src.Name,
			Path:     src.Path,
			Schedule: src.Schedule,
			Enabled:  src.Enabled,
		}
		if s.scheduler != nil {
			info.Scheduled = s.scheduler.IsScheduled(src.Name)
		}
		sources = append(sources, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// handleTriggerImport starts an import of one scheduled source.
func (s *Server) handleTriggerImport(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler not running")
		return
	}
	name := chi.URLParam(r, "name")
	err := s.scheduler.TriggerRun(name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "accepted",
			"message": "Import started for " + name,
		})
	case errors.Is(err, scheduler.ErrNotScheduled):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "import_running", err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", err.Error())
	}
}

// handleSchedulerStatus returns the status of every scheduled source.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler not running")
		return
	}
	statuses := s.scheduler.Status()
	if statuses == nil {
		statuses = []SourceStatus{}
	}
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running: s.scheduler.IsRunning(),
		Sources: statuses,
	})
}
