package rag

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/medicore/internal/chatlog"
	"github.com/medicore/medicore/internal/corpus"
	"github.com/medicore/medicore/internal/llm"
	"github.com/medicore/medicore/internal/testutil"
)

func newTestPipeline(t *testing.T, embedder Embedder, retriever Retriever, history History, streamer Streamer) *Pipeline {
	t.Helper()
	p, err := New(embedder, retriever, history, streamer, Options{
		Threshold:    0.5,
		TopK:         3,
		HistoryLimit: 10,
	}, testutil.DiscardLogger())
	require.NoError(t, err)
	return p
}

func TestNew_RequiredCollaborators(t *testing.T) {
	t.Parallel()

	embedder := &testutil.FakeEmbedder{Vec: []float32{1}}
	retriever := &testutil.FakeRetriever{}
	streamer := &testutil.ScriptedStreamer{}
	logger := testutil.DiscardLogger()

	_, err := New(nil, retriever, nil, streamer, Options{}, logger)
	require.Error(t, err)
	_, err = New(embedder, nil, nil, streamer, Options{}, logger)
	require.Error(t, err)
	_, err = New(embedder, retriever, nil, nil, Options{}, logger)
	require.Error(t, err)

	// history is optional.
	_, err = New(embedder, retriever, nil, streamer, Options{}, logger)
	require.NoError(t, err)
}

func TestRun_HappyPath(t *testing.T) {
	t.Parallel()

	convID := uuid.New()
	embedder := &testutil.FakeEmbedder{Vec: []float32{0.1, 0.2}}
	retriever := &testutil.FakeRetriever{Matches: []corpus.Match{
		{Document: corpus.Document{Title: "Flu Care", Category: "general", Content: "Rest and fluids."}, Score: 0.9},
	}}
	history := &testutil.FakeHistory{Turns: []chatlog.Turn{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi, how can I help?"},
	}}
	upstream := testutil.ChatStream("Rest, ", "fluids, ", "and sleep.")
	streamer := &testutil.ScriptedStreamer{Chunks: testutil.ChunkEvery([]byte(upstream), 7)}

	p := newTestPipeline(t, embedder, retriever, history, streamer)

	var raw bytes.Buffer
	var deltas []string
	result, err := p.Run(context.Background(), Request{
		Message:        "what helps with the flu?",
		ConversationID: &convID,
	}, Sink{Raw: &raw, OnDelta: func(text string) { deltas = append(deltas, text) }})

	require.NoError(t, err)
	assert.Equal(t, "Rest, fluids, and sleep.", result.Answer)
	assert.Equal(t, 1, result.Matches)
	assert.Equal(t, []string{"Rest, ", "fluids, ", "and sleep."}, deltas)
	assert.Equal(t, upstream, raw.String(), "raw sink must receive the upstream bytes verbatim")
	assert.Equal(t, []string{"what helps with the flu?"}, embedder.Texts)

	// Prompt ordering: system with context first, hydrated turns, user last.
	messages := streamer.LastRequest()
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, "Flu Care")
	assert.Equal(t, "hello", messages[1].Content)
	assert.Equal(t, "what helps with the flu?", messages[3].Content)

	// Assistant message persisted exactly once.
	appended := history.AppendedMessages()
	require.Len(t, appended, 1)
	assert.Equal(t, convID, appended[0].ConversationID)
	assert.Equal(t, chatlog.RoleAssistant, appended[0].Role)
	assert.Equal(t, "Rest, fluids, and sleep.", appended[0].Content)
}

func TestRun_EmptyMessageRejected(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t,
		&testutil.FakeEmbedder{Vec: []float32{1}},
		&testutil.FakeRetriever{},
		nil,
		&testutil.ScriptedStreamer{})

	_, err := p.Run(context.Background(), Request{Message: ""}, Sink{})
	require.Error(t, err)
}

func TestRun_EmbeddingFailure(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t,
		&testutil.FakeEmbedder{Err: errors.New("gateway down")},
		&testutil.FakeRetriever{},
		nil,
		&testutil.ScriptedStreamer{})

	_, err := p.Run(context.Background(), Request{Message: "q"}, Sink{})
	require.ErrorIs(t, err, ErrEmbedding)
}

func TestRun_RetrievalFailure(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t,
		&testutil.FakeEmbedder{Vec: []float32{1}},
		&testutil.FakeRetriever{Err: errors.New("connection refused")},
		nil,
		&testutil.ScriptedStreamer{})

	_, err := p.Run(context.Background(), Request{Message: "q"}, Sink{})
	require.ErrorIs(t, err, ErrRetrieval)
}

func TestRun_StreamerFailureClassificationPropagates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "rate limited", err: llm.ErrRateLimited},
		{name: "quota exhausted", err: llm.ErrQuotaExhausted},
		{name: "upstream", err: llm.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			convID := uuid.New()
			history := &testutil.FakeHistory{}
			p := newTestPipeline(t,
				&testutil.FakeEmbedder{Vec: []float32{1}},
				&testutil.FakeRetriever{},
				history,
				&testutil.ScriptedStreamer{Err: tt.err})

			_, err := p.Run(context.Background(), Request{Message: "q", ConversationID: &convID}, Sink{})
			require.ErrorIs(t, err, tt.err)
			assert.Empty(t, history.AppendedMessages(), "no answer must be persisted on failure")
		})
	}
}

func TestRun_CancellationMidStreamPersistsNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	convID := uuid.New()
	history := &testutil.FakeHistory{}
	chunks := [][]byte{
		[]byte(testutil.ChatFrame("partial ")),
		[]byte(testutil.ChatFrame("answer")),
		[]byte(testutil.DoneFrame()),
	}
	streamer := &testutil.ScriptedStreamer{
		Chunks: chunks,
		OnChunk: func(i int) {
			if i == 1 {
				cancel()
			}
		},
	}

	p := newTestPipeline(t,
		&testutil.FakeEmbedder{Vec: []float32{1}},
		&testutil.FakeRetriever{},
		history,
		streamer)

	_, err := p.Run(ctx, Request{Message: "q", ConversationID: &convID}, Sink{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, history.AppendedMessages(), "truncated answers must not be stored")
}

func TestRun_HistoryHydrationFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	convID := uuid.New()
	history := &testutil.FakeHistory{RecentErr: errors.New("db timeout")}
	streamer := &testutil.ScriptedStreamer{
		Chunks: [][]byte{[]byte(testutil.ChatStream("fine"))},
	}

	p := newTestPipeline(t,
		&testutil.FakeEmbedder{Vec: []float32{1}},
		&testutil.FakeRetriever{},
		history,
		streamer)

	result, err := p.Run(context.Background(), Request{Message: "q", ConversationID: &convID}, Sink{})
	require.NoError(t, err)
	assert.Equal(t, "fine", result.Answer)

	// Prompt has no hydrated turns: system plus the user message only.
	require.Len(t, streamer.LastRequest(), 2)
}

func TestRun_PersistenceFailureStillReturnsAnswer(t *testing.T) {
	t.Parallel()

	convID := uuid.New()
	history := &testutil.FakeHistory{AppendErr: errors.New("disk full")}
	streamer := &testutil.ScriptedStreamer{
		Chunks: [][]byte{[]byte(testutil.ChatStream("saved? no. answered? yes."))},
	}

	p := newTestPipeline(t,
		&testutil.FakeEmbedder{Vec: []float32{1}},
		&testutil.FakeRetriever{},
		history,
		streamer)

	result, err := p.Run(context.Background(), Request{Message: "q", ConversationID: &convID}, Sink{})
	require.NoError(t, err)
	assert.Equal(t, "saved? no. answered? yes.", result.Answer)
}

func TestRun_NoConversationSkipsHistory(t *testing.T) {
	t.Parallel()

	history := &testutil.FakeHistory{Turns: []chatlog.Turn{{Role: "user", Content: "stale"}}}
	streamer := &testutil.ScriptedStreamer{
		Chunks: [][]byte{[]byte(testutil.ChatStream("one-off"))},
	}

	p := newTestPipeline(t,
		&testutil.FakeEmbedder{Vec: []float32{1}},
		&testutil.FakeRetriever{},
		history,
		streamer)

	result, err := p.Run(context.Background(), Request{Message: "q"}, Sink{})
	require.NoError(t, err)
	assert.Equal(t, "one-off", result.Answer)
	assert.Empty(t, history.AppendedMessages())
	require.Len(t, streamer.LastRequest(), 2, "no hydrated turns without a conversation")
}

func TestRun_MalformedFrameMidStreamRecovered(t *testing.T) {
	t.Parallel()

	// A valid frame split across chunks must not lose the deltas around it.
	stream := testutil.ChatStream("alpha", "beta", "gamma")
	streamer := &testutil.ScriptedStreamer{Chunks: testutil.ChunkEvery([]byte(stream), 11)}

	p := newTestPipeline(t,
		&testutil.FakeEmbedder{Vec: []float32{1}},
		&testutil.FakeRetriever{},
		nil,
		streamer)

	result, err := p.Run(context.Background(), Request{Message: "q"}, Sink{})
	require.NoError(t, err)
	assert.Equal(t, "alphabetagamma", result.Answer)
}
