package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/medicore/medicore/internal/chatlog"
	"github.com/medicore/medicore/internal/llm"
	"github.com/medicore/medicore/internal/log"
	"github.com/medicore/medicore/internal/rag"
)

// ChatPipeline is the orchestrator surface the chat endpoint drives.
type ChatPipeline interface {
	Run(ctx context.Context, req rag.Request, sink rag.Sink) (rag.Result, error)
}

// ChatHandler handles the chat endpoint.
//
// POST /api/chat - body {"message": "...", "conversationId": "..."|null}.
// On success the upstream completion byte stream is forwarded to the
// client verbatim as text/event-stream; it is not re-framed. Errors that
// occur before the first upstream byte map to 429 (rate limited), 402
// (quota exhausted), 400 (bad input) or 500.
type ChatHandler struct {
	pipeline ChatPipeline
	history  *chatlog.Store
	logger   log.Logger
}

// NewChatHandler creates a chat handler. history may be nil; user turns
// are then not persisted.
func NewChatHandler(pipeline ChatPipeline, history *chatlog.Store, logger log.Logger) *ChatHandler {
	return &ChatHandler{pipeline: pipeline, history: history, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required", h.logger)
		return
	}

	var convID *uuid.UUID
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversationId", h.logger)
			return
		}
		convID = &id
	}

	// Insert-then-continue: a failed user-turn write must not block the
	// answer. The no-partial-persistence rule applies to the assistant
	// message, which the pipeline owns.
	if h.history != nil && convID != nil {
		if err := h.history.Append(r.Context(), *convID, chatlog.RoleUser, req.Message); err != nil {
			h.logger.Error("persisting user message failed",
				"conversation_id", *convID, "error", err)
		}
	}

	stream := &streamWriter{w: w}
	_, err := h.pipeline.Run(r.Context(), rag.Request{
		Message:        req.Message,
		ConversationID: convID,
	}, rag.Sink{Raw: stream})
	if err != nil {
		h.logger.Error("chat pipeline failed", "error", err)
		if stream.started {
			// Headers are already on the wire; nothing more to send.
			return
		}
		status, message := mapPipelineError(err)
		writeError(w, status, message, h.logger)
		return
	}
}

// mapPipelineError converts a pipeline failure to an HTTP status and a
// user-facing message. Rate-limit and quota failures get distinct,
// actionable messages; everything else collapses to a generic retry
// message with detail kept in the logs.
func mapPipelineError(err error) (int, string) {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, "Rate limit exceeded. Please wait a moment and try again."
	case errors.Is(err, llm.ErrQuotaExhausted):
		return http.StatusPaymentRequired, "AI credits exhausted. Please add credits to continue."
	default:
		return http.StatusInternalServerError, "Failed to get response. Please try again."
	}
}

// streamWriter forwards raw upstream bytes to the client, sending the SSE
// headers lazily on the first chunk so earlier pipeline failures can still
// produce a JSON error with a real status code.
type streamWriter struct {
	w       http.ResponseWriter
	started bool
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, nil
}
