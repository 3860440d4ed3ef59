// Package embedding maps text to fixed-dimension unit vectors.
//
// The default HashEmbedder is a deterministic stand-in for a real embedding
// model; the ONNXEmbedder (cgo builds) is the production swap-in. Both sit
// behind the Embedder interface so ingestion and retrieval never care which
// one is wired.
package embedding

import "context"

// Embedder produces vector embeddings for text. Identical input text must
// always produce the identical vector, and every vector is unit-normalized so
// inner product is a valid cosine-similarity proxy.
type Embedder interface {
	// Embed returns the vector for text. Empty or whitespace-only text is an
	// error (models.ErrEmptyInput).
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per non-empty text, in input order.
	// Empty and whitespace-only entries are skipped, not errors.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the fixed vector length.
	Dimensions() int
	Close() error
}
