// Package models defines core data structures for equipment, documents, chunks,
// and retrieval results.
package models

import "time"

// Embedding status values for a Document.
const (
	EmbeddingStatusProcessing = "processing"
	EmbeddingStatusCompleted  = "completed"
	EmbeddingStatusFailed     = "failed"
)

// Equipment is a tenant-scoped retrieval partition. Documents uploaded for an
// equipment are retrieved together. Name is unique within a tenant.
type Equipment struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TenantID    string    `json:"tenant_id"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document is the metadata record for one uploaded file. It is created in
// status "processing" before any chunk exists and transitions to "completed"
// only after at least one chunk has been persisted, or to "failed" when no
// chunk could be embedded.
type Document struct {
	ID              string    `json:"id"`
	EquipmentID     string    `json:"equipment_id"`
	TenantID        string    `json:"tenant_id"`
	FileName        string    `json:"file_name"`
	ContentType     string    `json:"content_type"`
	Size            int64     `json:"size"`
	StorageKey      string    `json:"storage_key"`
	UploadedBy      string    `json:"uploaded_by"`
	Description     string    `json:"description,omitempty"`
	DocumentType    string    `json:"document_type"`
	EmbeddingStatus string    `json:"embedding_status"`
	EmbeddingError  string    `json:"embedding_error,omitempty"`
	IsDisabled      bool      `json:"is_disabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Chunk is one embedded text segment of a document. Chunk indices within a
// document reflect source order starting at 0. Content is never mutated after
// creation; only IsDisabled may change.
type Chunk struct {
	ID          string    `json:"chunk_id"`
	DocumentID  string    `json:"document_id"`
	EquipmentID string    `json:"equipment_id"`
	TenantID    string    `json:"tenant_id"`
	FileName    string    `json:"file_name"`
	ChunkIndex  int       `json:"chunk_index"`
	Content     string    `json:"text"`
	Embedding   []float32 `json:"-"`
	IsDisabled  bool      `json:"is_disabled"`
	CreatedAt   time.Time `json:"created_at"`
}
