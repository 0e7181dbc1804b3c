package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/medicore/medicore/internal/chatlog"
	"github.com/medicore/medicore/internal/corpus"
	"github.com/medicore/medicore/internal/llm"
)

// FakeEmbedder returns a fixed vector or error.
type FakeEmbedder struct {
	Vec []float32
	Err error

	mu    sync.Mutex
	Texts []string
}

func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.Texts = append(f.Texts, text)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Vec, nil
}

// FakeRetriever returns fixed matches or an error.
type FakeRetriever struct {
	Matches []corpus.Match
	Err     error
}

func (f *FakeRetriever) Search(_ context.Context, _ []float32, _ float64, _ int) ([]corpus.Match, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Matches, nil
}

// AppendedTurn records one Append call on FakeHistory.
type AppendedTurn struct {
	ConversationID uuid.UUID
	Role           string
	Content        string
}

// FakeHistory serves fixed turns and records appends.
type FakeHistory struct {
	Turns     []chatlog.Turn
	RecentErr error
	AppendErr error

	mu       sync.Mutex
	Appended []AppendedTurn
}

func (f *FakeHistory) Recent(_ context.Context, _ uuid.UUID, _ int) ([]chatlog.Turn, error) {
	if f.RecentErr != nil {
		return nil, f.RecentErr
	}
	return f.Turns, nil
}

func (f *FakeHistory) Append(_ context.Context, id uuid.UUID, role, content string) error {
	if f.AppendErr != nil {
		return f.AppendErr
	}
	f.mu.Lock()
	f.Appended = append(f.Appended, AppendedTurn{ConversationID: id, Role: role, Content: content})
	f.mu.Unlock()
	return nil
}

// AppendedMessages returns a copy of the recorded appends.
func (f *FakeHistory) AppendedMessages() []AppendedTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AppendedTurn(nil), f.Appended...)
}

// ScriptedStreamer replays chunks one per Read call, then EOF. OnChunk,
// when non-nil, runs before each chunk is returned (used to trigger
// cancellation mid-stream).
type ScriptedStreamer struct {
	Chunks  [][]byte
	Err     error
	OnChunk func(i int)

	mu       sync.Mutex
	Requests [][]llm.Message
}

func (s *ScriptedStreamer) StreamChat(_ context.Context, messages []llm.Message) (io.ReadCloser, error) {
	s.mu.Lock()
	s.Requests = append(s.Requests, messages)
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return &chunkReader{chunks: s.Chunks, onChunk: s.OnChunk}, nil
}

// LastRequest returns the messages of the most recent StreamChat call.
func (s *ScriptedStreamer) LastRequest() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Requests) == 0 {
		return nil
	}
	return s.Requests[len(s.Requests)-1]
}

type chunkReader struct {
	chunks  [][]byte
	onChunk func(i int)
	i       int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		return 0, io.EOF
	}
	if r.onChunk != nil {
		r.onChunk(r.i)
	}
	n := copy(p, r.chunks[r.i])
	// Chunks are sized below the pipeline's read buffer in tests; a
	// partial copy here would silently drop bytes.
	if n < len(r.chunks[r.i]) {
		panic("testutil: chunk larger than read buffer")
	}
	r.i++
	return n, nil
}

func (r *chunkReader) Close() error { return nil }
