package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/medicore/internal/corpus"
	"github.com/medicore/medicore/internal/testutil"
)

// fakeCorpus implements Corpus in memory.
type fakeCorpus struct {
	docs    []corpus.Document
	listErr error
	setErr  map[uuid.UUID]error

	stored map[uuid.UUID][]float32
}

func (f *fakeCorpus) MissingEmbeddings(_ context.Context) ([]corpus.Document, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.docs, nil
}

func (f *fakeCorpus) SetEmbedding(_ context.Context, id uuid.UUID, vec []float32) error {
	if err := f.setErr[id]; err != nil {
		return err
	}
	if f.stored == nil {
		f.stored = make(map[uuid.UUID][]float32)
	}
	f.stored[id] = vec
	return nil
}

// failingEmbedder fails for one specific input and succeeds otherwise.
type failingEmbedder struct {
	failOn string
	calls  int
}

func (f *failingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if text == f.failOn {
		return nil, errors.New("embedding rejected")
	}
	return []float32{0.5}, nil
}

func doc(title string) corpus.Document {
	return corpus.Document{ID: uuid.New(), Title: title, Category: "general", Content: "body"}
}

func TestBackfill_EmptyCorpus(t *testing.T) {
	t.Parallel()

	embedder := &failingEmbedder{}
	report, err := Backfill(context.Background(), &fakeCorpus{}, embedder, testutil.DiscardLogger())

	require.NoError(t, err)
	assert.Equal(t, BackfillReport{}, report)
	assert.Zero(t, embedder.calls, "nothing to embed for an empty candidate list")
}

func TestBackfill_AllSucceed(t *testing.T) {
	t.Parallel()

	store := &fakeCorpus{docs: []corpus.Document{doc("A"), doc("B"), doc("C")}}
	report, err := Backfill(context.Background(), store, &failingEmbedder{}, testutil.DiscardLogger())

	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Embedded)
	assert.Zero(t, report.Failed)
	assert.Len(t, store.stored, 3)
}

func TestBackfill_ContinuesPastFailures(t *testing.T) {
	t.Parallel()

	bad := doc("Bad")
	store := &fakeCorpus{docs: []corpus.Document{doc("A"), bad, doc("C")}}
	embedder := &failingEmbedder{failOn: bad.EmbeddingText()}

	report, err := Backfill(context.Background(), store, embedder, testutil.DiscardLogger())

	require.NoError(t, err, "a per-document failure must not fail the pass")
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []uuid.UUID{bad.ID}, report.FailedIDs)
	assert.NotContains(t, store.stored, bad.ID)
}

func TestBackfill_StoreFailureCounted(t *testing.T) {
	t.Parallel()

	bad := doc("Unwritable")
	store := &fakeCorpus{
		docs:   []corpus.Document{bad, doc("B")},
		setErr: map[uuid.UUID]error{bad.ID: errors.New("constraint violation")},
	}

	report, err := Backfill(context.Background(), store, &failingEmbedder{}, testutil.DiscardLogger())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Embedded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []uuid.UUID{bad.ID}, report.FailedIDs)
}

func TestBackfill_ListFailureAbortsPass(t *testing.T) {
	t.Parallel()

	store := &fakeCorpus{listErr: errors.New("relation does not exist")}
	_, err := Backfill(context.Background(), store, &failingEmbedder{}, testutil.DiscardLogger())
	require.Error(t, err)
}

func TestBackfill_CancellationStopsBatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &fakeCorpus{docs: []corpus.Document{doc("A"), doc("B")}}
	report, err := Backfill(ctx, store, &failingEmbedder{}, testutil.DiscardLogger())

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Embedded)
}
