package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"docchat/internal/repository"
	"docchat/internal/service"
)

// ChatHandler adapts the services to HTTP.
type ChatHandler struct {
	chat     *service.ChatService
	ingest   *service.IngestService
	sessions *service.SessionService
}

// NewChatHandler creates the HTTP handler set.
func NewChatHandler(chat *service.ChatService, ingest *service.IngestService, sessions *service.SessionService) *ChatHandler {
	return &ChatHandler{chat: chat, ingest: ingest, sessions: sessions}
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func toSessionResponse(s *repository.Session) sessionResponse {
	return sessionResponse{ID: s.ID, CreatedAt: s.CreatedAt}
}

// CreateSession handles POST /v1/sessions.
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Create(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// ListSessions handles GET /v1/sessions.
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		out[i] = toSessionResponse(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// GetSession handles GET /v1/sessions/{sessionID}.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// DeleteSession handles DELETE /v1/sessions/{sessionID}.
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageResponse struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GetMessages handles GET /v1/sessions/{sessionID}/messages.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := h.sessions.History(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	out := make([]messageResponse, len(messages))
	for i, m := range messages {
		out[i] = messageResponse{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

type chatRequest struct {
	Query string `json:"query"`
}

type sourceResponse struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Source   string `json:"source"`
	Modality string `json:"modality"`
	Caption  string `json:"caption,omitempty"`
	Page     int    `json:"page,omitempty"`
}

type chatResponse struct {
	Answer   string           `json:"answer"`
	Sources  []sourceResponse `json:"sources"`
	Cached   bool             `json:"cached"`
	Grounded bool             `json:"grounded"`
}

// Chat handles POST /v1/sessions/{sessionID}/chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := h.chat.Chat(r.Context(), chi.URLParam(r, "sessionID"), req.Query)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to answer query")
		return
	}

	sources := make([]sourceResponse, len(resp.Sources))
	for i, doc := range resp.Sources {
		sources[i] = sourceResponse{
			ID:       doc.ID,
			Content:  doc.Content,
			Source:   doc.Source,
			Modality: string(doc.Modality),
			Caption:  doc.Caption,
			Page:     doc.Page,
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Answer:   resp.Answer,
		Sources:  sources,
		Cached:   resp.Cached,
		Grounded: resp.Grounded,
	})
}

type streamMeta struct {
	Sources  []sourceResponse `json:"sources"`
	Cached   bool             `json:"cached"`
	Grounded bool             `json:"grounded"`
}

type streamToken struct {
	Token string `json:"token"`
	Done  bool   `json:"done"`
}

// ChatStream handles POST /v1/sessions/{sessionID}/chat/stream as
// server-sent events: one "meta" event with the grounding, then "token"
// events until the answer is complete.
func (h *ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := h.chat.Stream(r.Context(), chi.URLParam(r, "sessionID"), req.Query)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to answer query")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	sources := make([]sourceResponse, len(stream.Sources))
	for i, doc := range stream.Sources {
		sources[i] = sourceResponse{
			ID:       doc.ID,
			Content:  doc.Content,
			Source:   doc.Source,
			Modality: string(doc.Modality),
			Caption:  doc.Caption,
			Page:     doc.Page,
		}
	}
	writeSSE(w, "meta", streamMeta{Sources: sources, Cached: stream.Cached, Grounded: stream.Grounded})
	flusher.Flush()

	for chunk := range stream.Chunks {
		if chunk.Error != nil {
			writeSSE(w, "error", map[string]string{"error": chunk.Error.Error()})
			flusher.Flush()
			return
		}
		writeSSE(w, "token", streamToken{Token: chunk.Token, Done: chunk.Done})
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

type ingestRequest struct {
	Documents []ingestDocument `json:"documents"`
}

type ingestDocument struct {
	Content  string `json:"content"`
	Source   string `json:"source"`
	Modality string `json:"modality,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Page     int    `json:"page,omitempty"`
}

// IngestDocuments handles POST /v1/sessions/{sessionID}/documents.
func (h *ChatHandler) IngestDocuments(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents are required")
		return
	}

	docs := make([]repository.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = repository.Document{
			Content:  d.Content,
			Source:   d.Source,
			Modality: repository.Modality(d.Modality),
			Caption:  d.Caption,
			Page:     d.Page,
		}
	}

	added, err := h.ingest.Ingest(r.Context(), chi.URLParam(r, "sessionID"), docs)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}
