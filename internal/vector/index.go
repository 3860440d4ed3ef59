// Package vector provides the chunk vector index and similarity search.
package vector

import (
	"context"
	"encoding/binary"
	"math"
)

// Index stores chunk embeddings and answers nearest-neighbor queries.
// The index knows nothing about tenants or disabled flags; scope filtering
// happens after the search, which is why callers over-fetch.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns the top-k entries by inner product (cosine similarity
	// for unit vectors), ordered by descending score.
	Search(ctx context.Context, query []float32, k int) ([]*Result, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// Result is a single nearest-neighbor hit. ID is the chunk id.
type Result struct {
	ID    string
	Score float64
}

// Encode serializes a vector as little-endian float32 bytes (the BLOB format
// used by the chunk store).
func Encode(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}

// Decode deserializes a vector encoded by Encode.
func Decode(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
