// Package llm is the client for the OpenAI-compatible AI gateway.
//
// It covers the two upstream operations the pipeline needs: embedding
// generation (request/response) and chat completion (streamed). The chat
// call returns the raw response body so callers can both pass the bytes
// through to their own clients and decode them incrementally; see
// internal/sse for the decoder.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	embeddingsPath  = "/v1/embeddings"
	completionsPath = "/v1/chat/completions"

	// defaultTimeout bounds the embeddings call. Chat completions stream
	// for an unbounded time and rely on context cancellation instead.
	defaultTimeout = 30 * time.Second
)

// Message is one entry of a chat completion request.
// Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config holds the gateway endpoint and model selection.
type Config struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
}

// Client talks to the AI gateway. Safe for concurrent use.
type Client struct {
	cfg    Config
	httpc  *http.Client
	logger *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		// No global timeout: a streamed completion legitimately outlives
		// any fixed deadline. Per-call timeouts are set via context.
		httpc:  &http.Client{},
		logger: logger,
	}, nil
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates a vector embedding for the given text.
// It is a pure request/response call with no side effects; persistence of
// the vector is the caller's responsibility.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Input: text, Model: c.cfg.EmbedModel})
	if err != nil {
		return nil, fmt.Errorf("encoding embedding request: %w", err)
	}

	resp, err := c.post(ctx, embeddingsPath, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("closing embedding response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding embedding response: %v", ErrUpstream, err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrUpstream)
	}

	return parsed.Data[0].Embedding, nil
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// StreamChat submits a chat completion request with streaming enabled and
// returns the raw response body. The caller owns the body and must close it;
// cancelling ctx aborts the underlying read.
//
// Non-2xx statuses are classified before any body is handed out:
// 429 → ErrRateLimited, 402 → ErrQuotaExhausted, anything else → ErrUpstream.
func (c *Client) StreamChat(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	body, err := json.Marshal(completionRequest{
		Model:    c.cfg.ChatModel,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}

	resp, err := c.post(ctx, completionsPath, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := classifyStatus(resp)
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("closing completion error body", "error", closeErr)
		}
		return nil, err
	}

	return resp.Body, nil
}

// post issues an authenticated JSON POST against the gateway.
func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	return c.httpc.Do(req)
}

// classifyStatus maps a non-2xx gateway response to the error taxonomy.
// The body is read (bounded) only to enrich the log line; the returned
// error carries the classification, not upstream prose.
func classifyStatus(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: status 429: %s", ErrRateLimited, strings.TrimSpace(string(detail)))
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: status 402: %s", ErrQuotaExhausted, strings.TrimSpace(string(detail)))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
}
