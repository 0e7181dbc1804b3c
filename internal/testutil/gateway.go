// Package testutil provides shared test helpers: a mock AI gateway, SSE
// stream builders, and in-memory fakes for the pipeline's collaborators.
package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Gateway is a mock OpenAI-compatible gateway backed by httptest.
//
// The embeddings endpoint returns a deterministic vector derived from the
// input text, so equal inputs embed equally across calls. The completions
// endpoint replays scripted chunks with a flush between each, letting
// tests control exactly where the transport splits frames.
//
// Thread-safe for concurrent use.
type Gateway struct {
	mu sync.Mutex

	srv *httptest.Server

	embedDim    int
	embedStatus int // non-zero forces this status on /v1/embeddings
	embedBody   string

	chatStatus int // non-zero forces this status on /v1/chat/completions
	chatChunks [][]byte

	embedInputs []string
	chatCalls   int
}

// NewGateway starts a mock gateway producing embeddings of the given
// dimensionality. Callers must Close it.
func NewGateway(embedDim int) *Gateway {
	g := &Gateway{embedDim: embedDim}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", g.handleEmbed)
	mux.HandleFunc("POST /v1/chat/completions", g.handleChat)
	g.srv = httptest.NewServer(mux)

	return g
}

// URL returns the gateway base URL.
func (g *Gateway) URL() string { return g.srv.URL }

// Close shuts the gateway down.
func (g *Gateway) Close() { g.srv.Close() }

// ScriptChat sets the chunks the next completion responses will replay.
func (g *Gateway) ScriptChat(chunks ...[]byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chatChunks = chunks
	g.chatStatus = 0
}

// FailChat makes the completions endpoint return the given status with an
// {"error": ...} body.
func (g *Gateway) FailChat(status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chatStatus = status
}

// FailEmbed makes the embeddings endpoint return the given status. An
// optional body overrides the default error JSON (use it to serve
// malformed payloads with status 200).
func (g *Gateway) FailEmbed(status int, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.embedStatus = status
	g.embedBody = body
}

// EmbedInputs returns the texts embedded so far.
func (g *Gateway) EmbedInputs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.embedInputs...)
}

// ChatCalls returns the number of completion requests served.
func (g *Gateway) ChatCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chatCalls
}

func (g *Gateway) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input string `json:"input"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	status, body := g.embedStatus, g.embedBody
	g.embedInputs = append(g.embedInputs, req.Input)
	dim := g.embedDim
	g.mu.Unlock()

	if status != 0 {
		if body == "" {
			body = `{"error": "mock failure"}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}

	resp := map[string]any{
		"data": []map[string]any{
			{"embedding": DeterministicVector(req.Input, dim)},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	status := g.chatStatus
	chunks := g.chatChunks
	g.chatCalls++
	g.mu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error": "mock failure"}`))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, chunk := range chunks {
		_, _ = w.Write(chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// DeterministicVector derives a unit-scaled vector from text. Equal texts
// produce equal vectors, so similarity assertions are stable.
func DeterministicVector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		word := binary.BigEndian.Uint32(sum[(i*4)%28:]) // cycle through the digest
		vec[i] = float32(word%2000)/1000.0 - 1.0        // [-1, 1)
	}
	return vec
}
