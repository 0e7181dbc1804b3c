package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/medicore/medicore/internal/chatlog"
	"github.com/medicore/medicore/internal/log"
)

// ConversationHandler exposes the conversation store to the UI shell.
//
// POST /api/conversations                - create a conversation
// GET  /api/conversations/{id}/messages  - turns, chronological
type ConversationHandler struct {
	store  *chatlog.Store
	logger log.Logger
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(store *chatlog.Store, logger log.Logger) *ConversationHandler {
	return &ConversationHandler{store: store, logger: logger}
}

// RegisterRoutes registers conversation routes on the given mux.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations", h.create)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.messages)
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (h *ConversationHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}

	conv, err := h.store.Create(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("creating conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create conversation", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, conv, h.logger)
}

type messagesResponse struct {
	Messages []chatlog.Turn `json:"messages"`
}

func (h *ConversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id", h.logger)
		return
	}

	turns, err := h.store.Turns(r.Context(), id)
	if err != nil {
		h.logger.Error("loading conversation failed", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation", h.logger)
		return
	}
	if turns == nil {
		turns = []chatlog.Turn{}
	}

	writeJSON(w, http.StatusOK, messagesResponse{Messages: turns}, h.logger)
}
