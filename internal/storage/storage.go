// Package storage defines persistence for equipment, documents, and chunks.
package storage

import (
	"context"

	"github.com/fieldline/voicekb/internal/models"
)

// CascadeResult reports how many rows a cascading equipment delete removed.
type CascadeResult struct {
	EquipmentDeleted int64 `json:"equipment_deleted"`
	DocumentsDeleted int64 `json:"documents_deleted"`
	ChunksDeleted    int64 `json:"chunks_deleted"`
}

// Store defines equipment, document, and chunk persistence. Implementations
// return models.ErrNotFound and models.ErrConflict (wrapped) where documented
// so the HTTP layer can map them without knowing the engine.
type Store interface {
	// Equipment operations
	CreateEquipment(ctx context.Context, eq *models.Equipment) error
	GetEquipment(ctx context.Context, id string) (*models.Equipment, error)
	ListEquipment(ctx context.Context, tenantID string) ([]*models.Equipment, error)
	// DeleteEquipmentCascade removes the equipment and every document and
	// chunk referencing it in one transaction, returning per-entity counts.
	DeleteEquipmentCascade(ctx context.Context, id string) (*CascadeResult, error)

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByFileName(ctx context.Context, equipmentID, fileName string) (*models.Document, error)
	// UpdateDocumentStatus transitions embedding_status and records the error
	// detail (empty for success paths).
	UpdateDocumentStatus(ctx context.Context, id, status, errDetail string) error
	// ListDocumentsByEquipment returns non-disabled documents, newest first.
	ListDocumentsByEquipment(ctx context.Context, equipmentID string) ([]*models.Document, error)
	// DisableDocument soft-deletes a document and its chunks, returning the
	// number of chunks disabled.
	DisableDocument(ctx context.Context, id string) (int64, error)

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	// GetChunksByIDs returns the chunks for the given ids, keyed by chunk id.
	// Missing ids are absent from the map, not errors.
	GetChunksByIDs(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	// ListChunkEmbeddings streams id/vector pairs for all non-disabled chunks,
	// used to rebuild the vector index at startup.
	ListChunkEmbeddings(ctx context.Context) (ids []string, vectors [][]float32, err error)
	// ListChunkIDsByDocument returns all chunk ids for a document, used to
	// prune the vector index when the document is disabled.
	ListChunkIDsByDocument(ctx context.Context, documentID string) ([]string, error)
	// ListChunkIDsByEquipment returns all chunk ids for an equipment, used to
	// prune the vector index on cascade delete.
	ListChunkIDsByEquipment(ctx context.Context, equipmentID string) ([]string, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
