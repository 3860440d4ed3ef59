package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand"
	"strings"

	"github.com/fieldline/voicekb/internal/models"
)

// DefaultDimensions matches the dimensionality of common hosted embedding models.
const DefaultDimensions = 1536

// HashEmbedder derives a deterministic embedding from the SHA-256 of the text:
// the first four hash bytes seed a PRNG whose Gaussian samples fill the vector,
// which is then normalized to unit length. The same text always yields the
// bit-identical vector, which makes ingestion and retrieval reproducible.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a deterministic embedder of the given dimension.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the deterministic unit vector for text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.ErrEmptyInput
	}
	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint32(sum[:4]))
	rng := rand.New(rand.NewSource(seed))

	emb := make([]float32, e.dimensions)
	var norm float64
	for i := range emb {
		v := rng.NormFloat64()
		emb[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range emb {
			emb[i] *= inv
		}
	}
	return emb, nil
}

// EmbedBatch embeds each non-empty text in order. Empty entries are skipped.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, emb)
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error {
	return nil
}
