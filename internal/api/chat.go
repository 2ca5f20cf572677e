package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/elfrid-labs/elfrid/internal/assistant"
	"github.com/elfrid-labs/elfrid/internal/store"
	"github.com/go-chi/chi/v5"
)

// ChatHandler exposes the assistant pipeline over HTTP.
type ChatHandler struct {
	pipeline *assistant.Pipeline
}

// NewChatHandler creates a chat handler around the pipeline.
func NewChatHandler(pipeline *assistant.Pipeline) *ChatHandler {
	return &ChatHandler{pipeline: pipeline}
}

// RegisterRoutes registers the chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/voice", h.Voice)
	r.Post("/new_chat", h.NewChat)
}

type voiceRequest struct {
	UserID *int64  `json:"user_id"`
	Input  *string `json:"input"`
}

// Voice processes one user utterance through the pipeline.
// Input: {"user_id": int, "input": str}. Output: {"response": str}.
func (h *ChatHandler) Voice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := decodeBody(w, r, &req); err != nil || req.UserID == nil || req.Input == nil {
		Error(w, http.StatusBadRequest, "missing user_id or input")
		return
	}

	reply, err := h.pipeline.ProcessRequest(r.Context(), *req.UserID, *req.Input)
	if err != nil {
		writePipelineError(w, err, *req.UserID)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"response": reply})
}

type newChatRequest struct {
	UserID *int64 `json:"user_id"`
}

// NewChat creates a new chat session.
// Input: {"user_id": int}. Output: {"session_id": int}.
func (h *ChatHandler) NewChat(w http.ResponseWriter, r *http.Request) {
	var req newChatRequest
	if err := decodeBody(w, r, &req); err != nil || req.UserID == nil {
		Error(w, http.StatusBadRequest, "missing user_id")
		return
	}

	sessionID, err := h.pipeline.NewSession(r.Context(), *req.UserID)
	if err != nil {
		writePipelineError(w, err, *req.UserID)
		return
	}

	JSON(w, http.StatusOK, map[string]int64{"session_id": sessionID})
}

// writePipelineError maps validation failures to client errors and
// everything else to a generic internal error. Full detail stays in the
// server log only.
func writePipelineError(w http.ResponseWriter, err error, userID int64) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusBadRequest, "user not found")
	case errors.Is(err, store.ErrInvalidData):
		Error(w, http.StatusBadRequest, "invalid data")
	default:
		slog.Error("pipeline request failed", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "internal server error")
	}
}
