// Package retrieval answers natural-language queries with scoped vector search.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fieldline/voicekb/internal/config"
	"github.com/fieldline/voicekb/internal/embedding"
	"github.com/fieldline/voicekb/internal/ident"
	"github.com/fieldline/voicekb/internal/models"
	"github.com/fieldline/voicekb/internal/storage"
	"github.com/fieldline/voicekb/internal/vector"
)

// Query is one retrieval request. EquipmentID and TenantID scope the search;
// Filters are extra equality constraints on chunk fields, applied after the
// scope (they can narrow the result but never re-admit disabled chunks).
type Query struct {
	Query       string
	K           int
	EquipmentID string
	TenantID    string
	Filters     map[string]string
}

// Engine runs scoped semantic retrieval over the chunk index.
//
// The index itself is scope-blind, so the engine over-fetches: it asks the
// index for max(k*OverfetchFactor, MinCandidates) neighbors, applies the
// scope filters to what comes back, and truncates to k. Relevance order from
// the index is preserved through filtering.
type Engine struct {
	store    storage.Store
	embedder embedding.Embedder
	index    vector.Index
	config   *config.RetrievalConfig
	logger   *zap.Logger // optional
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for retrieval events (dropped filters, timings).
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a retrieval engine with the given dependencies.
func NewEngine(
	store storage.Store,
	embedder embedding.Embedder,
	index vector.Index,
	cfg *config.RetrievalConfig,
	opts ...Option,
) *Engine {
	e := &Engine{store: store, embedder: embedder, index: index, config: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve embeds the query, searches the index, filters to scope, and
// returns the top-k chunks with their metadata.
func (e *Engine) Retrieve(ctx context.Context, q *Query) (*models.RetrievalResult, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, fmt.Errorf("%w: empty query", models.ErrValidation)
	}
	k := q.K
	if k <= 0 {
		k = e.config.DefaultK
	}
	if e.config.MaxK > 0 && k > e.config.MaxK {
		k = e.config.MaxK
	}

	queryVec, err := e.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrQueryEmbedding, err)
	}

	searchK := k * e.config.OverfetchFactor
	if searchK < e.config.MinCandidates {
		searchK = e.config.MinCandidates
	}
	hits, err := e.index.Search(ctx, queryVec, searchK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRetrievalBackend, err)
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := e.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrResultMapping, err)
	}

	// A malformed equipment id cannot match anything, so the filter is dropped
	// rather than silently returning nothing.
	equipmentID := q.EquipmentID
	if equipmentID != "" && !ident.IsValid(equipmentID) {
		if e.logger != nil {
			e.logger.Warn("dropping malformed equipment id filter",
				zap.String("equipment_id", equipmentID))
		}
		equipmentID = ""
	}

	result := &models.RetrievalResult{
		Data: []models.ChunkContent{},
		Metadata: models.RetrievalMetadata{
			Query:       q.Query,
			K:           k,
			EquipmentID: equipmentID,
			TenantID:    q.TenantID,
			Chunks:      []models.ChunkMetadata{},
		},
	}
	for _, hit := range hits {
		if len(result.Data) == k {
			break
		}
		ch, ok := chunks[hit.ID]
		if !ok || ch.IsDisabled {
			continue
		}
		if equipmentID != "" && ch.EquipmentID != equipmentID {
			continue
		}
		if q.TenantID != "" && ch.TenantID != q.TenantID {
			continue
		}
		if !matchFilters(ch, q.Filters) {
			continue
		}
		result.Data = append(result.Data, models.ChunkContent{
			Text:     ch.Content,
			FileName: ch.FileName,
			Score:    hit.Score,
		})
		result.Metadata.Chunks = append(result.Metadata.Chunks, models.ChunkMetadata{
			ChunkID:     ch.ID,
			DocumentID:  ch.DocumentID,
			EquipmentID: ch.EquipmentID,
			TenantID:    ch.TenantID,
			ChunkIndex:  ch.ChunkIndex,
			Score:       hit.Score,
			FileName:    ch.FileName,
		})
	}
	result.Metadata.ChunksRetrieved = len(result.Data)
	return result, nil
}

// IndexSize returns the number of vectors currently indexed.
func (e *Engine) IndexSize() int {
	return e.index.Size()
}

// matchFilters applies extra equality filters. An unknown field can never
// match, which mirrors equality against a missing field.
func matchFilters(ch *models.Chunk, filters map[string]string) bool {
	for key, want := range filters {
		got, ok := chunkField(ch, key)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func chunkField(ch *models.Chunk, key string) (string, bool) {
	switch key {
	case "document_id":
		return ch.DocumentID, true
	case "equipment_id":
		return ch.EquipmentID, true
	case "tenant_id":
		return ch.TenantID, true
	case "file_name":
		return ch.FileName, true
	default:
		return "", false
	}
}
