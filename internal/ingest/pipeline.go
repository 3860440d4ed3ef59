// Package ingest runs uploaded files through extraction, chunking, and
// embedding into storage and the vector index.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldline/voicekb/internal/chunker"
	"github.com/fieldline/voicekb/internal/embedding"
	"github.com/fieldline/voicekb/internal/extract"
	"github.com/fieldline/voicekb/internal/ident"
	"github.com/fieldline/voicekb/internal/models"
	"github.com/fieldline/voicekb/internal/storage"
	"github.com/fieldline/voicekb/internal/vector"
)

// FileInput describes one uploaded file to ingest. Path points at the
// uploaded bytes on local disk (typically a temp file the caller removes).
type FileInput struct {
	EquipmentID  string
	TenantID     string
	FileName     string
	ContentType  string
	Size         int64
	UploadedBy   string
	Description  string
	DocumentType string
	Path         string
}

// StatusSkipped marks a file that was not ingestable at all: unsupported
// format, unreadable, or no extractable text. Skipped files leave no
// Document record behind and do not count as batch failures.
const StatusSkipped = "skipped"

// FileResult is the per-file outcome of an ingestion run.
type FileResult struct {
	FileName   string `json:"file_name"`
	DocumentID string `json:"document_id,omitempty"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

// BatchResult aggregates per-file outcomes. One failing file never aborts
// the batch; it is recorded here and the rest continue.
type BatchResult struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Results   []*FileResult `json:"results"`
}

// Pipeline ingests documents: persist the file, extract text, chunk, embed,
// store chunks, and index their vectors.
type Pipeline struct {
	store     storage.Store
	embedder  embedding.Embedder
	index     vector.Index
	chunker   *chunker.Chunker
	extractor *extract.Extractor
	filesPath string
	logger    *zap.Logger // optional; when set, logs ingestion events
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for ingestion events (file ingested, chunk skipped, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline with the given dependencies. filesPath is the
// root directory where uploaded file bytes are kept, addressed by storage key.
func NewPipeline(
	store storage.Store,
	embedder embedding.Embedder,
	index vector.Index,
	ch *chunker.Chunker,
	extractor *extract.Extractor,
	filesPath string,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:     store,
		embedder:  embedder,
		index:     index,
		chunker:   ch,
		extractor: extractor,
		filesPath: filesPath,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestFile ingests one file end to end. Files that yield no text at all
// (unsupported format, extraction error, empty document) are skipped before
// any record is written, so they leave nothing behind. Once text has been
// chunked a Document is created, and later failures are recorded on it
// (status "failed" plus the error detail) so a broken upload is visible
// rather than silently absent.
func (p *Pipeline) IngestFile(ctx context.Context, in *FileInput) *FileResult {
	res := &FileResult{FileName: in.FileName, Status: models.EmbeddingStatusFailed}

	if !p.extractor.IsSupported(in.ContentType, in.FileName) {
		return p.skip(res, fmt.Sprintf("unsupported format: %s", in.ContentType))
	}
	text, err := p.extractor.ExtractText(in.Path, in.ContentType)
	if err != nil {
		return p.skip(res, fmt.Sprintf("extract text: %v", err))
	}
	if strings.TrimSpace(text) == "" {
		return p.skip(res, fmt.Sprintf("%v: %s", models.ErrEmptyDocument, in.FileName))
	}
	chunks := p.chunker.Split(text)
	if len(chunks) == 0 {
		res.Error = fmt.Sprintf("%v: %s", models.ErrNoChunks, in.FileName)
		return res
	}

	doc := &models.Document{
		ID:              ident.New(),
		EquipmentID:     in.EquipmentID,
		TenantID:        in.TenantID,
		FileName:        in.FileName,
		ContentType:     in.ContentType,
		Size:            in.Size,
		StorageKey:      p.storageKey(in),
		UploadedBy:      in.UploadedBy,
		Description:     in.Description,
		DocumentType:    in.DocumentType,
		EmbeddingStatus: models.EmbeddingStatusProcessing,
	}
	if err := p.saveFile(in.Path, doc.StorageKey); err != nil {
		res.Error = err.Error()
		return res
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		res.Error = fmt.Sprintf("store document: %v", err)
		return res
	}
	res.DocumentID = doc.ID

	// Embed chunk by chunk so one bad segment does not sink the document.
	records := make([]*models.Chunk, 0, len(chunks))
	for i, content := range chunks {
		vec, err := p.embedder.Embed(ctx, content)
		if err != nil {
			if p.logger != nil {
				p.logger.Warn("chunk embedding failed, skipping",
					zap.String("document_id", doc.ID), zap.Int("chunk_index", i), zap.Error(err))
			}
			continue
		}
		records = append(records, &models.Chunk{
			ID:          fmt.Sprintf("%s_%d", doc.ID, i),
			DocumentID:  doc.ID,
			EquipmentID: in.EquipmentID,
			TenantID:    in.TenantID,
			FileName:    in.FileName,
			ChunkIndex:  i,
			Content:     content,
			Embedding:   vec,
		})
	}
	if len(records) == 0 {
		return p.fail(ctx, res, fmt.Errorf("%w: no chunk could be embedded", models.ErrEmbeddingFailed))
	}

	if err := p.store.BatchCreateChunks(ctx, records); err != nil {
		return p.fail(ctx, res, fmt.Errorf("store chunks: %w", err))
	}
	ids := make([]string, len(records))
	vecs := make([][]float32, len(records))
	for i, ch := range records {
		ids[i] = ch.ID
		vecs[i] = ch.Embedding
	}
	if err := p.index.Add(ctx, ids, vecs); err != nil {
		return p.fail(ctx, res, fmt.Errorf("index vectors: %w", err))
	}
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, models.EmbeddingStatusCompleted, ""); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Status = models.EmbeddingStatusCompleted
	res.ChunkCount = len(records)
	if p.logger != nil {
		p.logger.Info("document ingested",
			zap.String("document_id", doc.ID),
			zap.String("equipment_id", in.EquipmentID),
			zap.String("file_name", in.FileName),
			zap.Int("chunks", len(records)))
	}
	return res
}

// IngestBatch ingests each file independently and reports per-file outcomes.
// Skipped files are counted separately from failures.
func (p *Pipeline) IngestBatch(ctx context.Context, inputs []*FileInput) *BatchResult {
	batch := &BatchResult{Results: make([]*FileResult, 0, len(inputs))}
	for _, in := range inputs {
		res := p.IngestFile(ctx, in)
		switch res.Status {
		case models.EmbeddingStatusCompleted:
			batch.Processed++
		case StatusSkipped:
			batch.Skipped++
		default:
			batch.Failed++
		}
		batch.Results = append(batch.Results, res)
	}
	return batch
}

// DisableDocument soft-deletes a document, removes its vectors from the
// index, and returns the number of chunks disabled.
func (p *Pipeline) DisableDocument(ctx context.Context, documentID string) (int64, error) {
	chunkIDs, err := p.store.ListChunkIDsByDocument(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("list chunk ids: %w", err)
	}
	n, err := p.store.DisableDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if err := p.index.Remove(ctx, chunkIDs); err != nil {
		return n, fmt.Errorf("prune vector index: %w", err)
	}
	return n, nil
}

// DeleteEquipment cascade-deletes an equipment with its documents and chunks
// and prunes the removed chunks from the vector index.
func (p *Pipeline) DeleteEquipment(ctx context.Context, equipmentID string) (*storage.CascadeResult, error) {
	chunkIDs, err := p.store.ListChunkIDsByEquipment(ctx, equipmentID)
	if err != nil {
		return nil, fmt.Errorf("list chunk ids: %w", err)
	}
	res, err := p.store.DeleteEquipmentCascade(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	if err := p.index.Remove(ctx, chunkIDs); err != nil {
		return res, fmt.Errorf("prune vector index: %w", err)
	}
	return res, nil
}

// RebuildIndex reloads every stored chunk embedding into the vector index.
// Called at startup when no persisted index file exists.
func (p *Pipeline) RebuildIndex(ctx context.Context) (int, error) {
	ids, vecs, err := p.store.ListChunkEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list chunk embeddings: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := p.index.Add(ctx, ids, vecs); err != nil {
		return 0, fmt.Errorf("add to index: %w", err)
	}
	return len(ids), nil
}

// skip records a file that produced no ingestable text. No Document record
// exists yet at any skip point.
func (p *Pipeline) skip(res *FileResult, reason string) *FileResult {
	res.Status = StatusSkipped
	res.Error = reason
	if p.logger != nil {
		p.logger.Info("file skipped",
			zap.String("file_name", res.FileName), zap.String("reason", reason))
	}
	return res
}

// fail marks the document failed with the error detail and fills the result.
func (p *Pipeline) fail(ctx context.Context, res *FileResult, cause error) *FileResult {
	res.Error = cause.Error()
	if err := p.store.UpdateDocumentStatus(ctx, res.DocumentID, models.EmbeddingStatusFailed, cause.Error()); err != nil && p.logger != nil {
		p.logger.Warn("failed to record document failure",
			zap.String("document_id", res.DocumentID), zap.Error(err))
	}
	if p.logger != nil {
		p.logger.Warn("document ingestion failed",
			zap.String("document_id", res.DocumentID),
			zap.String("file_name", res.FileName),
			zap.Error(cause))
	}
	return res
}

// storageKey builds the stored-file key: {tenant}/equipment/{equipmentID}/{uuid}-{fileName}.
// The uuid prefix keeps repeated uploads of the same file name from colliding.
func (p *Pipeline) storageKey(in *FileInput) string {
	u := uuid.New()
	return fmt.Sprintf("%s/equipment/%s/%x-%s", in.TenantID, in.EquipmentID, u[:], in.FileName)
}

// saveFile copies the uploaded bytes under filesPath at the storage key.
func (p *Pipeline) saveFile(srcPath, storageKey string) error {
	dst := filepath.Join(p.filesPath, filepath.FromSlash(storageKey))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create file dir: %w", err)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create stored file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("copy upload: %w", err)
	}
	return out.Close()
}
