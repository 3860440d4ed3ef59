package models

import "errors"

// Request-level errors, mapped to HTTP status codes at the server boundary.
var (
	// ErrValidation marks malformed input (bad id format, bad payload). HTTP 400.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing entity. HTTP 404.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a uniqueness violation (duplicate equipment name per tenant). HTTP 409.
	ErrConflict = errors.New("conflict")
)

// Per-file ingestion errors. These skip the file and never abort the batch.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyDocument     = errors.New("no text content extracted")
	ErrNoChunks          = errors.New("text splitting produced no chunks")
	ErrEmbeddingFailed   = errors.New("failed to generate embeddings for all chunks")
)

// Embedding errors.
var (
	// ErrEmptyInput is returned when embedding empty or whitespace-only text.
	ErrEmptyInput = errors.New("cannot embed empty text")
	// ErrDimensionMismatch is returned when a vector's length does not match
	// the configured embedding dimension. Retrieval fails fast rather than
	// truncating or padding.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Retrieval errors, fatal to a single retrieve call. The tool adapter catches
// them and degrades to empty results.
var (
	ErrQueryEmbedding   = errors.New("query embedding failed")
	ErrRetrievalBackend = errors.New("vector search failed")
	ErrResultMapping    = errors.New("failed to map search results")
)
