// Package rag implements the retrieval-augmented generation pipeline:
// query embedding, similarity retrieval, context assembly, streamed
// completion, incremental decoding, and persistence of the finished answer.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/medicore/medicore/internal/chatlog"
	"github.com/medicore/medicore/internal/corpus"
	"github.com/medicore/medicore/internal/llm"
	"github.com/medicore/medicore/internal/sse"
)

// readBufferSize is the chunk size for the upstream read loop.
const readBufferSize = 4096

// Embedder turns text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds corpus documents similar to a query vector.
type Retriever interface {
	Search(ctx context.Context, vec []float32, threshold float64, topK int) ([]corpus.Match, error)
}

// History hydrates and appends conversation turns.
type History interface {
	Recent(ctx context.Context, conversationID uuid.UUID, n int) ([]chatlog.Turn, error)
	Append(ctx context.Context, conversationID uuid.UUID, role, content string) error
}

// Streamer submits an assembled prompt for streamed completion.
type Streamer interface {
	StreamChat(ctx context.Context, messages []llm.Message) (io.ReadCloser, error)
}

// Options are the retrieval and history knobs of a pipeline.
type Options struct {
	Threshold    float64
	TopK         int
	HistoryLimit int
}

// Request is one chat request. ConversationID is nil for a one-off
// exchange with no history and no persistence.
type Request struct {
	Message        string
	ConversationID *uuid.UUID
}

// Sink receives the streamed output of a run.
//
// Raw, when non-nil, receives every upstream byte chunk verbatim so the
// transport can pass the stream through unframed. OnDelta, when non-nil,
// is called once per decoded text delta in decode order. Both are invoked
// from the run's goroutine only.
type Sink struct {
	Raw     io.Writer
	OnDelta func(text string)
}

// Result is the outcome of a completed run.
type Result struct {
	Answer  string
	Matches int
}

// phase tracks the strictly sequential pipeline state machine. Each run
// owns its own phase; nothing is shared across requests.
type phase int

const (
	phaseIdle phase = iota
	phaseEmbedding
	phaseRetrieving
	phaseAssembling
	phaseStreamingInFlight
	phaseStreaming
	phaseCompleted
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseEmbedding:
		return "embedding"
	case phaseRetrieving:
		return "retrieving"
	case phaseAssembling:
		return "assembling"
	case phaseStreamingInFlight:
		return "streaming_in_flight"
	case phaseStreaming:
		return "streaming"
	case phaseCompleted:
		return "completed"
	case phaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pipeline orchestrates one chat request end to end. All collaborators are
// injected, so independent pipeline instances can serve concurrent
// requests (and tests) without cross-talk.
//
// Pipeline itself is stateless across runs and safe for concurrent use;
// per-request state (decoder buffer, phase) lives in Run's frame.
type Pipeline struct {
	embedder  Embedder
	retriever Retriever
	history   History
	streamer  Streamer
	opts      Options
	logger    *slog.Logger
}

// New creates a Pipeline. history may be nil when no conversation store is
// available; requests then run without hydration or persistence.
func New(embedder Embedder, retriever Retriever, history History, streamer Streamer, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if streamer == nil {
		return nil, fmt.Errorf("streamer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		embedder:  embedder,
		retriever: retriever,
		history:   history,
		streamer:  streamer,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Run executes the pipeline for one request.
//
// Failure classification from the streamer (rate limit, quota, other
// upstream) propagates unchanged; embedding and retrieval failures wrap
// ErrEmbedding and ErrRetrieval. On success the concatenated answer is
// appended to the conversation exactly once; a persistence failure is
// logged, not returned, so the caller still delivers the answer. If ctx is
// cancelled mid-stream the upstream read stops promptly and nothing is
// persisted: a silently truncated answer stored as complete would be a
// correctness bug.
func (p *Pipeline) Run(ctx context.Context, req Request, sink Sink) (Result, error) {
	if req.Message == "" {
		return Result{}, fmt.Errorf("message is required")
	}

	st := phaseIdle
	advance := func(next phase) {
		p.logger.Debug("pipeline transition", "from", st.String(), "to", next.String())
		st = next
	}

	advance(phaseEmbedding)
	queryVec, err := p.embedder.Embed(ctx, req.Message)
	if err != nil {
		advance(phaseFailed)
		return Result{}, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	advance(phaseRetrieving)
	matches, err := p.retriever.Search(ctx, queryVec, p.opts.Threshold, p.opts.TopK)
	if err != nil {
		advance(phaseFailed)
		return Result{}, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	advance(phaseAssembling)
	var history []chatlog.Turn
	if p.history != nil && req.ConversationID != nil {
		history, err = p.history.Recent(ctx, *req.ConversationID, p.opts.HistoryLimit)
		if err != nil {
			// The answer is still meaningful without prior turns.
			p.logger.Warn("history hydration failed, continuing without history",
				"conversation_id", *req.ConversationID, "error", err)
			history = nil
		}
	}
	messages := BuildPrompt(matches, history, req.Message)

	advance(phaseStreamingInFlight)
	body, err := p.streamer.StreamChat(ctx, messages)
	if err != nil {
		advance(phaseFailed)
		// Keep the RateLimited/QuotaExhausted/Upstream distinction intact.
		return Result{}, fmt.Errorf("completion request: %w", err)
	}
	defer func() {
		if closeErr := body.Close(); closeErr != nil {
			p.logger.Debug("closing upstream stream", "error", closeErr)
		}
	}()

	advance(phaseStreaming)
	answer, err := p.consumeStream(ctx, body, sink)
	if err != nil {
		advance(phaseFailed)
		return Result{}, err
	}

	advance(phaseCompleted)
	if p.history != nil && req.ConversationID != nil && answer != "" {
		if persistErr := p.history.Append(ctx, *req.ConversationID, chatlog.RoleAssistant, answer); persistErr != nil {
			p.logger.Error("persisting assistant message failed",
				"conversation_id", *req.ConversationID, "error", persistErr)
		}
	}

	return Result{Answer: answer, Matches: len(matches)}, nil
}

// consumeStream reads the upstream body chunk by chunk, forwarding raw
// bytes to the sink and decoded deltas in arrival order, and returns the
// concatenated answer.
func (p *Pipeline) consumeStream(ctx context.Context, body io.Reader, sink Sink) (string, error) {
	var (
		dec    sse.Decoder
		answer []byte
		buf    = make([]byte, readBufferSize)
	)

	for {
		// Observe cancellation between chunks; the read itself is aborted
		// by the request context through the HTTP transport.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("stream cancelled: %w", ctxErr)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if sink.Raw != nil {
				if _, writeErr := sink.Raw.Write(buf[:n]); writeErr != nil {
					// The caller went away; stop reading, persist nothing.
					return "", fmt.Errorf("forwarding stream: %w", writeErr)
				}
			}

			for _, delta := range dec.Feed(buf[:n]) {
				answer = append(answer, delta...)
				if sink.OnDelta != nil {
					sink.OnDelta(delta)
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("stream cancelled: %w", ctxErr)
			}
			return "", fmt.Errorf("%w: reading stream: %v", llm.ErrUpstream, readErr)
		}
	}

	if pending := dec.Pending(); pending > 0 {
		p.logger.Debug("discarding unterminated trailing frame", "bytes", pending)
	}

	return string(answer), nil
}
