package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fieldline/voicekb/internal/models"
	"github.com/fieldline/voicekb/internal/vector"
)

// SQLiteStore implements Store using SQLite. One store is opened at process
// startup and shared by every request; there is no per-request connection
// lifecycle.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS equipment (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		tenant_id TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		UNIQUE (tenant_id, name)
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		equipment_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content_type TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		storage_key TEXT,
		uploaded_by TEXT,
		description TEXT,
		document_type TEXT,
		embedding_status TEXT NOT NULL,
		embedding_error TEXT,
		is_disabled INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_equipment ON documents(equipment_id, created_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		equipment_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		file_name TEXT,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		is_disabled INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id, chunk_index);
	CREATE INDEX IF NOT EXISTS idx_chunks_scope ON document_chunks(equipment_id, tenant_id);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateEquipment inserts an equipment. Returns models.ErrConflict when the
// name is already taken within the tenant.
func (s *SQLiteStore) CreateEquipment(ctx context.Context, eq *models.Equipment) error {
	now := time.Now().UTC()
	eq.CreatedAt = now
	eq.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equipment (id, name, description, tenant_id, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eq.ID, eq.Name, eq.Description, eq.TenantID, boolToInt(eq.IsActive), eq.CreatedAt, eq.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: equipment name %q already exists for tenant %q",
				models.ErrConflict, eq.Name, eq.TenantID)
		}
		return err
	}
	return nil
}

// GetEquipment returns an equipment by id, or models.ErrNotFound.
func (s *SQLiteStore) GetEquipment(ctx context.Context, id string) (*models.Equipment, error) {
	var eq models.Equipment
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, tenant_id, is_active, created_at, updated_at
		 FROM equipment WHERE id = ?`, id,
	).Scan(&eq.ID, &eq.Name, &eq.Description, &eq.TenantID, &active, &eq.CreatedAt, &eq.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: equipment %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	eq.IsActive = active != 0
	return &eq, nil
}

// ListEquipment returns all equipment, optionally scoped to a tenant.
func (s *SQLiteStore) ListEquipment(ctx context.Context, tenantID string) ([]*models.Equipment, error) {
	query := `SELECT id, name, description, tenant_id, is_active, created_at, updated_at
		 FROM equipment ORDER BY created_at DESC`
	args := []any{}
	if tenantID != "" {
		query = `SELECT id, name, description, tenant_id, is_active, created_at, updated_at
		 FROM equipment WHERE tenant_id = ? ORDER BY created_at DESC`
		args = append(args, tenantID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Equipment
	for rows.Next() {
		var eq models.Equipment
		var active int
		if err := rows.Scan(&eq.ID, &eq.Name, &eq.Description, &eq.TenantID, &active, &eq.CreatedAt, &eq.UpdatedAt); err != nil {
			return nil, err
		}
		eq.IsActive = active != 0
		out = append(out, &eq)
	}
	return out, rows.Err()
}

// DeleteEquipmentCascade removes the equipment plus all of its documents and
// chunks in one transaction and reports the per-entity counts. A partial
// cascade rolls back and returns the error rather than hiding it.
func (s *SQLiteStore) DeleteEquipmentCascade(ctx context.Context, id string) (*CascadeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM equipment WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: equipment %s", models.ErrNotFound, id)
	}

	res := &CascadeResult{}
	chunkRes, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE equipment_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}
	res.ChunksDeleted, _ = chunkRes.RowsAffected()

	docRes, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE equipment_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("delete documents: %w", err)
	}
	res.DocumentsDeleted, _ = docRes.RowsAffected()

	eqRes, err := tx.ExecContext(ctx, `DELETE FROM equipment WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("delete equipment: %w", err)
	}
	res.EquipmentDeleted, _ = eqRes.RowsAffected()

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// CreateDocument inserts a document metadata record.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, equipment_id, tenant_id, file_name, content_type, size,
		   storage_key, uploaded_by, description, document_type, embedding_status,
		   embedding_error, is_disabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.EquipmentID, doc.TenantID, doc.FileName, doc.ContentType, doc.Size,
		doc.StorageKey, doc.UploadedBy, doc.Description, doc.DocumentType, doc.EmbeddingStatus,
		doc.EmbeddingError, boolToInt(doc.IsDisabled), doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

const documentColumns = `id, equipment_id, tenant_id, file_name, content_type, size,
	storage_key, uploaded_by, description, document_type, embedding_status,
	embedding_error, is_disabled, created_at, updated_at`

func scanDocument(scan func(dest ...any) error) (*models.Document, error) {
	var doc models.Document
	var disabled int
	err := scan(&doc.ID, &doc.EquipmentID, &doc.TenantID, &doc.FileName, &doc.ContentType,
		&doc.Size, &doc.StorageKey, &doc.UploadedBy, &doc.Description, &doc.DocumentType,
		&doc.EmbeddingStatus, &doc.EmbeddingError, &disabled, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.IsDisabled = disabled != 0
	return &doc, nil
}

// GetDocument returns a document by id, or models.ErrNotFound.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	return doc, err
}

// GetDocumentByFileName returns the newest document with the given file name
// for an equipment, or models.ErrNotFound. Used by the drop-folder watcher.
func (s *SQLiteStore) GetDocumentByFileName(ctx context.Context, equipmentID, fileName string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE equipment_id = ? AND file_name = ? AND is_disabled = 0
		 ORDER BY created_at DESC LIMIT 1`, equipmentID, fileName)
	doc, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %q for equipment %s", models.ErrNotFound, fileName, equipmentID)
	}
	return doc, err
}

// UpdateDocumentStatus transitions a document's embedding status.
func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id, status, errDetail string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET embedding_status = ?, embedding_error = ?, updated_at = ?
		 WHERE id = ?`,
		status, errDetail, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	return nil
}

// ListDocumentsByEquipment returns non-disabled documents, newest first.
func (s *SQLiteStore) ListDocumentsByEquipment(ctx context.Context, equipmentID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE equipment_id = ? AND is_disabled = 0
		 ORDER BY created_at DESC`, equipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DisableDocument soft-deletes a document and its chunks. Chunk rows are kept
// for audit; retrieval excludes them via is_disabled.
func (s *SQLiteStore) DisableDocument(ctx context.Context, id string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET is_disabled = 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	chunkRes, err := tx.ExecContext(ctx,
		`UPDATE document_chunks SET is_disabled = 1 WHERE document_id = ?`, id)
	if err != nil {
		return 0, err
	}
	n, _ := chunkRes.RowsAffected()
	return n, tx.Commit()
}

// BatchCreateChunks inserts chunks in one transaction.
func (s *SQLiteStore) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (id, document_id, equipment_id, tenant_id, file_name,
		   chunk_index, content, embedding, is_disabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, ch := range chunks {
		ch.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.DocumentID, ch.EquipmentID, ch.TenantID,
			ch.FileName, ch.ChunkIndex, ch.Content, vector.Encode(ch.Embedding),
			boolToInt(ch.IsDisabled), ch.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChunksByIDs returns chunks keyed by id. Missing ids are simply absent.
func (s *SQLiteStore) GetChunksByIDs(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, equipment_id, tenant_id, file_name, chunk_index,
		   content, embedding, is_disabled, created_at
		 FROM document_chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ch models.Chunk
		var blob []byte
		var disabled int
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.EquipmentID, &ch.TenantID, &ch.FileName,
			&ch.ChunkIndex, &ch.Content, &blob, &disabled, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Embedding = vector.Decode(blob)
		ch.IsDisabled = disabled != 0
		out[ch.ID] = &ch
	}
	return out, rows.Err()
}

// ListChunkEmbeddings returns id/vector pairs for all non-disabled chunks.
func (s *SQLiteStore) ListChunkEmbeddings(ctx context.Context) ([]string, [][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM document_chunks WHERE is_disabled = 0`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ids []string
	var vectors [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		vectors = append(vectors, vector.Decode(blob))
	}
	return ids, vectors, rows.Err()
}

// ListChunkIDsByDocument returns all chunk ids for a document.
func (s *SQLiteStore) ListChunkIDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	return s.listChunkIDs(ctx, `SELECT id FROM document_chunks WHERE document_id = ?`, documentID)
}

// ListChunkIDsByEquipment returns all chunk ids for an equipment.
func (s *SQLiteStore) ListChunkIDsByEquipment(ctx context.Context, equipmentID string) ([]string, error) {
	return s.listChunkIDs(ctx, `SELECT id FROM document_chunks WHERE equipment_id = ?`, equipmentID)
}

func (s *SQLiteStore) listChunkIDs(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStore) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
