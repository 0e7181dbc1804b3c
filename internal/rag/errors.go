package rag

import "errors"

var (
	// ErrEmbedding indicates the query embedding could not be computed.
	// There is no meaningful answer without a query vector, so this aborts
	// the whole request (backfill mode is the one exception; see Backfill).
	ErrEmbedding = errors.New("embedding failed")

	// ErrRetrieval indicates the similarity search failed. Aborts the
	// request: context assembly needs a retrieval result, even an empty one.
	ErrRetrieval = errors.New("retrieval failed")
)
