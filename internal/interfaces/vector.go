package interfaces

import "context"

// VectorRecord is one row for the vector index: parallel content,
// metadata and embedding under a caller-supplied stable id.
type VectorRecord struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// VectorIndex is an upsert-by-id vector store. Upserting the same id
// twice must replace, not duplicate - the pipeline relies on this for
// at-least-once redelivery.
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, records []VectorRecord) error
	Close()
}
