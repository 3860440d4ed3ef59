package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fieldline/voicekb/internal/config"
	"github.com/fieldline/voicekb/internal/ident"
	"github.com/fieldline/voicekb/internal/ingest"
	"github.com/fieldline/voicekb/internal/models"
	"github.com/fieldline/voicekb/internal/retrieval"
	"github.com/fieldline/voicekb/internal/storage"
)

const maxUploadBytes = 64 << 20

// tenantID resolves the request tenant: the X-Tenant-ID header, falling back
// to the configured default.
func (s *Server) tenantID(r *http.Request) string {
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return s.cfg.Tenant.DefaultTenantID
}

type createEquipmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateEquipment(w http.ResponseWriter, r *http.Request) {
	var req createEquipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	eq := &models.Equipment{
		ID:          ident.New(),
		Name:        req.Name,
		Description: req.Description,
		TenantID:    s.tenantID(r),
		IsActive:    true,
	}
	if err := s.store.CreateEquipment(r.Context(), eq); err != nil {
		s.respondStoreError(w, r, err, "create equipment")
		return
	}
	s.respondJSON(w, http.StatusCreated, eq)
}

func (s *Server) handleListEquipment(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListEquipment(r.Context(), s.tenantID(r))
	if err != nil {
		s.respondStoreError(w, r, err, "list equipment")
		return
	}
	if list == nil {
		list = []*models.Equipment{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"equipment": list})
}

func (s *Server) handleGetEquipment(w http.ResponseWriter, r *http.Request) {
	eq, err := s.store.GetEquipment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err, "get equipment")
		return
	}
	s.respondJSON(w, http.StatusOK, eq)
}

func (s *Server) handleDeleteEquipment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ident.IsValid(id) {
		s.respondError(w, http.StatusBadRequest, "invalid equipment id")
		return
	}
	res, err := s.pipeline.DeleteEquipment(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err, "delete equipment")
		return
	}
	s.logger.Info("equipment deleted",
		zap.String("equipment_id", id),
		zap.Int64("documents", res.DocumentsDeleted),
		zap.Int64("chunks", res.ChunksDeleted))
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ident.IsValid(id) {
		s.respondError(w, http.StatusBadRequest, "invalid equipment id")
		return
	}
	if _, err := s.store.GetEquipment(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err, "get equipment")
		return
	}
	docs, err := s.store.ListDocumentsByEquipment(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err, "list documents")
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	equipmentID := chi.URLParam(r, "id")
	if !ident.IsValid(equipmentID) {
		s.respondError(w, http.StatusBadRequest, "invalid equipment id")
		return
	}
	eq, err := s.store.GetEquipment(r.Context(), equipmentID)
	if err != nil {
		s.respondStoreError(w, r, err, "get equipment")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.respondError(w, http.StatusBadRequest, "no files in request")
		return
	}

	tenant := s.tenantID(r)
	inputs := make([]*ingest.FileInput, 0, len(files))
	var tempPaths []string
	defer func() {
		for _, p := range tempPaths {
			_ = os.Remove(p)
		}
	}()
	for _, fh := range files {
		path, err := saveTempUpload(fh)
		if err != nil {
			s.logger.Warn("failed to buffer upload", zap.String("file_name", fh.Filename), zap.Error(err))
			continue
		}
		tempPaths = append(tempPaths, path)
		inputs = append(inputs, &ingest.FileInput{
			EquipmentID:  eq.ID,
			TenantID:     tenant,
			FileName:     fh.Filename,
			ContentType:  fh.Header.Get("Content-Type"),
			Size:         fh.Size,
			UploadedBy:   r.FormValue("uploaded_by"),
			Description:  r.FormValue("description"),
			DocumentType: r.FormValue("document_type"),
			Path:         path,
		})
	}
	if len(inputs) == 0 {
		s.respondError(w, http.StatusBadRequest, "no readable files in request")
		return
	}

	batch := s.pipeline.IngestBatch(r.Context(), inputs)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"documents": batch.Results,
		"count":     len(batch.Results),
	})
}

func saveTempUpload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	tmp, err := os.CreateTemp("", "voicekb-upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err, "get document")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDisableDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.pipeline.DisableDocument(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err, "disable document")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"document_id":     id,
		"chunks_disabled": n,
		"status":          "disabled",
	})
}

type retrieveRequest struct {
	Query       string            `json:"query"`
	K           int               `json:"k"`
	EquipmentID string            `json:"equipment_id"`
	Filters     map[string]string `json:"filters"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.engine.Retrieve(r.Context(), &retrieval.Query{
		Query:       req.Query,
		K:           req.K,
		EquipmentID: req.EquipmentID,
		TenantID:    s.tenantID(r),
		Filters:     req.Filters,
	})
	if err != nil {
		s.respondStoreError(w, r, err, "retrieve")
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.store.CountDocuments(ctx)
	if err != nil {
		s.respondStoreError(w, r, err, "count documents")
		return
	}
	chunkCount, err := s.store.CountChunks(ctx)
	if err != nil {
		s.respondStoreError(w, r, err, "count chunks")
		return
	}
	resp := map[string]any{
		"documents":         docCount,
		"chunks":            chunkCount,
		"vector_index_size": s.engine.IndexSize(),
		"config": map[string]any{
			"embedding_backend":    s.cfg.Embedding.Backend,
			"embedding_dimensions": s.cfg.Embedding.Dimensions,
			"chunk_size":           s.cfg.Chunking.ChunkSize,
			"chunk_overlap":        s.cfg.Chunking.ChunkOverlap,
			"database_path":        s.cfg.Storage.DatabasePath,
			"vector_index_path":    s.cfg.Storage.VectorIndexPath,
		},
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.cfg.Storage.DatabasePath,
		s.cfg.Storage.FilesPath,
		s.cfg.Storage.VectorIndexPath,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path        string `json:"path"`
	EquipmentID string `json:"equipment_id"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" || req.EquipmentID == "" {
		s.respondError(w, http.StatusBadRequest, "path and equipment_id are required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	if _, err := s.store.GetEquipment(r.Context(), req.EquipmentID); err != nil {
		s.respondStoreError(w, r, err, "get equipment")
		return
	}
	if err := s.watch.AddDirectory(abs, req.EquipmentID); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "equipment_id": req.EquipmentID, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchConfig() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	s.cfg.Watch.Directories = s.watch.Directories()
	err := config.Save(s.configPath, s.cfg)
	s.configMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// respondStoreError maps domain errors onto HTTP status codes.
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConflict):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrValidation):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
