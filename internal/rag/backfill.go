package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/medicore/medicore/internal/corpus"
)

// Corpus is the document-store surface the backfill pass needs.
type Corpus interface {
	MissingEmbeddings(ctx context.Context) ([]corpus.Document, error)
	SetEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error
}

// BackfillReport summarizes one backfill pass. Every document that lacked
// an embedding is accounted for: either embedded or recorded as failed.
type BackfillReport struct {
	Total     int         `json:"total"`
	Embedded  int         `json:"embedded"`
	Failed    int         `json:"failed"`
	FailedIDs []uuid.UUID `json:"failedIds,omitempty"`
}

// Backfill computes embeddings for every document that does not have one.
//
// One document's failure never aborts the batch: it is logged, counted,
// and the pass moves on. Re-running is safe; writing the same embedding
// twice is harmless. Only listing the candidates can fail the pass as a
// whole.
func Backfill(ctx context.Context, store Corpus, embedder Embedder, logger *slog.Logger) (BackfillReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	docs, err := store.MissingEmbeddings(ctx)
	if err != nil {
		return BackfillReport{}, fmt.Errorf("listing documents for backfill: %w", err)
	}

	report := BackfillReport{Total: len(docs)}
	if len(docs) == 0 {
		logger.Info("all documents already have embeddings")
		return report, nil
	}

	logger.Info("generating embeddings", "documents", len(docs))

	for _, doc := range docs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, fmt.Errorf("backfill interrupted: %w", ctxErr)
		}

		vec, err := embedder.Embed(ctx, doc.EmbeddingText())
		if err != nil {
			logger.Error("embedding document failed", "id", doc.ID, "title", doc.Title, "error", err)
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, doc.ID)
			continue
		}

		if err := store.SetEmbedding(ctx, doc.ID, vec); err != nil {
			logger.Error("storing embedding failed", "id", doc.ID, "title", doc.Title, "error", err)
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, doc.ID)
			continue
		}

		logger.Debug("embedded document", "id", doc.ID, "title", doc.Title)
		report.Embedded++
	}

	logger.Info("backfill finished",
		"total", report.Total, "embedded", report.Embedded, "failed", report.Failed)
	return report, nil
}
