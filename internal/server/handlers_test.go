package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldline/voicekb/internal/chunker"
	"github.com/fieldline/voicekb/internal/config"
	"github.com/fieldline/voicekb/internal/embedding"
	"github.com/fieldline/voicekb/internal/extract"
	"github.com/fieldline/voicekb/internal/ingest"
	"github.com/fieldline/voicekb/internal/retrieval"
	"github.com/fieldline/voicekb/internal/storage"
	"github.com/fieldline/voicekb/internal/vector"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "test.db")
	cfg.Storage.FilesPath = filepath.Join(dir, "files")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "chunks.idx")
	cfg.Embedding.Dimensions = 32
	cfg.Chunking.ChunkSize = 200
	cfg.Chunking.ChunkOverlap = 40

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	idx, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		t.Fatal(err)
	}
	emb := embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	pipeline := ingest.NewPipeline(store, emb, idx,
		chunker.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap),
		extract.NewExtractor(), cfg.Storage.FilesPath)
	engine := retrieval.NewEngine(store, emb, idx, &cfg.Retrieval)

	srv := NewServer(engine, pipeline, store, nil, cfg, "", zap.NewNop())
	return srv, srv.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createEquipment(t *testing.T, h http.Handler, name string) string {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/v1/equipment", map[string]string{"name": name})
	if w.Code != http.StatusCreated {
		t.Fatalf("create equipment: %d %s", w.Code, w.Body.String())
	}
	var eq struct {
		ID string `json:"id"`
	}
	decode(t, w, &eq)
	return eq.ID
}

func uploadFile(t *testing.T, h http.Handler, equipmentID, fileName, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", fileName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	_ = mw.WriteField("uploaded_by", "tester")
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/equipment/"+equipmentID+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCreateEquipment(t *testing.T) {
	_, h := newTestServer(t)

	id := createEquipment(t, h, "Pump A")
	if id == "" {
		t.Fatal("no id returned")
	}

	// Duplicate name within the tenant conflicts.
	w := doJSON(t, h, http.MethodPost, "/api/v1/equipment", map[string]string{"name": "Pump A"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate: got %d", w.Code)
	}

	// Same name under another tenant is fine.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/equipment",
		strings.NewReader(`{"name":"Pump A"}`))
	req.Header.Set("X-Tenant-ID", "other-tenant")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Errorf("other tenant: got %d %s", rec.Code, rec.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/api/v1/equipment", map[string]string{"name": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name: got %d", w.Code)
	}
}

func TestGetEquipment_NotFound(t *testing.T) {
	_, h := newTestServer(t)
	w := doJSON(t, h, http.MethodGet, "/api/v1/equipment/ffffffffffffffffffffffff", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("got %d", w.Code)
	}
}

func TestUploadAndListDocuments(t *testing.T) {
	_, h := newTestServer(t)
	id := createEquipment(t, h, "Compressor")

	w := uploadFile(t, h, id, "manual.txt", "Check the belt tension monthly. Replace worn belts immediately.")
	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	var upload struct {
		Count     int `json:"count"`
		Documents []struct {
			DocumentID string `json:"document_id"`
			Status     string `json:"status"`
		} `json:"documents"`
	}
	decode(t, w, &upload)
	if upload.Count != 1 || len(upload.Documents) != 1 {
		t.Fatalf("upload response: %+v", upload)
	}
	if upload.Documents[0].Status != "completed" || upload.Documents[0].DocumentID == "" {
		t.Fatalf("upload entry: %+v", upload.Documents[0])
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/equipment/"+id+"/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var list struct {
		Documents []struct {
			ID              string `json:"id"`
			EmbeddingStatus string `json:"embedding_status"`
		} `json:"documents"`
	}
	decode(t, w, &list)
	if len(list.Documents) != 1 || list.Documents[0].EmbeddingStatus != "completed" {
		t.Errorf("documents: %+v", list.Documents)
	}
}

func TestUpload_EquipmentNotFound(t *testing.T) {
	_, h := newTestServer(t)
	w := uploadFile(t, h, "ffffffffffffffffffffffff", "manual.txt", "text")
	if w.Code != http.StatusNotFound {
		t.Errorf("got %d", w.Code)
	}
}

func TestDocuments_MalformedEquipmentID(t *testing.T) {
	_, h := newTestServer(t)

	// Not 24-hex ids are rejected before any store lookup.
	for _, bad := range []string{"pump-a!", "abc", "0123456789abcdef0123456z"} {
		w := doJSON(t, h, http.MethodGet, "/api/v1/equipment/"+bad+"/documents", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("list %q: got %d, want 400", bad, w.Code)
		}
		w = uploadFile(t, h, bad, "manual.txt", "text")
		if w.Code != http.StatusBadRequest {
			t.Errorf("upload %q: got %d, want 400", bad, w.Code)
		}
		w = doJSON(t, h, http.MethodDelete, "/api/v1/equipment/"+bad, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("delete %q: got %d, want 400", bad, w.Code)
		}
	}
}

func TestUpload_EmptyFileSkipped(t *testing.T) {
	_, h := newTestServer(t)
	id := createEquipment(t, h, "Grinder")

	w := uploadFile(t, h, id, "empty.txt", "   \n  ")
	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	var upload struct {
		Documents []struct {
			DocumentID string `json:"document_id"`
			Status     string `json:"status"`
		} `json:"documents"`
	}
	decode(t, w, &upload)
	if len(upload.Documents) != 1 || upload.Documents[0].Status != "skipped" {
		t.Fatalf("upload response: %+v", upload)
	}
	if upload.Documents[0].DocumentID != "" {
		t.Error("skipped file should not create a document")
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/equipment/"+id+"/documents", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 0 {
		t.Errorf("document count = %d, want 0", list.Count)
	}
}

func TestRetrieveEndpoint(t *testing.T) {
	_, h := newTestServer(t)
	id := createEquipment(t, h, "Boiler")
	w := uploadFile(t, h, id, "safety.txt", "Relief valve must be tested every six months by certified staff.")
	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/api/v1/retrieve", map[string]any{
		"query": "relief valve testing", "k": 3, "equipment_id": id,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("retrieve: %d %s", w.Code, w.Body.String())
	}
	var res struct {
		Data     []struct{ Text string } `json:"data"`
		Metadata struct {
			ChunksRetrieved int `json:"chunks_retrieved"`
		} `json:"metadata"`
	}
	decode(t, w, &res)
	if len(res.Data) == 0 || res.Metadata.ChunksRetrieved == 0 {
		t.Errorf("no results: %s", w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/api/v1/retrieve", map[string]any{"query": "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty query: got %d", w.Code)
	}
}

func TestDisableDocument(t *testing.T) {
	_, h := newTestServer(t)
	id := createEquipment(t, h, "Mixer")
	w := uploadFile(t, h, id, "ops.txt", "Run the mixer at low speed for the first minute.")
	var upload struct {
		Documents []struct {
			DocumentID string `json:"document_id"`
		} `json:"documents"`
	}
	decode(t, w, &upload)
	docID := upload.Documents[0].DocumentID

	w = doJSON(t, h, http.MethodDelete, "/api/v1/documents/"+docID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("disable: %d %s", w.Code, w.Body.String())
	}
	var res struct {
		ChunksDisabled int64  `json:"chunks_disabled"`
		Status         string `json:"status"`
	}
	decode(t, w, &res)
	if res.Status != "disabled" || res.ChunksDisabled == 0 {
		t.Errorf("disable response: %+v", res)
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/equipment/"+id+"/documents", nil)
	var list struct {
		Documents []json.RawMessage `json:"documents"`
	}
	decode(t, w, &list)
	if len(list.Documents) != 0 {
		t.Errorf("disabled document still listed")
	}
}

func TestDeleteEquipmentCascade(t *testing.T) {
	_, h := newTestServer(t)
	id := createEquipment(t, h, "Press")
	if w := uploadFile(t, h, id, "a.txt", "Press plates must be cleaned daily."); w.Code != http.StatusOK {
		t.Fatalf("upload: %d", w.Code)
	}

	w := doJSON(t, h, http.MethodDelete, "/api/v1/equipment/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	var res struct {
		EquipmentDeleted int64 `json:"equipment_deleted"`
		DocumentsDeleted int64 `json:"documents_deleted"`
		ChunksDeleted    int64 `json:"chunks_deleted"`
	}
	decode(t, w, &res)
	if res.EquipmentDeleted != 1 || res.DocumentsDeleted != 1 || res.ChunksDeleted == 0 {
		t.Errorf("cascade: %+v", res)
	}

	w = doJSON(t, h, http.MethodDelete, "/api/v1/equipment/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d", w.Code)
	}
}

func TestUploadRateLimit(t *testing.T) {
	srv, h := newTestServer(t)
	srv.uploadLimiter = newClientLimiter(2)
	id := createEquipment(t, h, "Lathe")

	for i := 0; i < 2; i++ {
		if w := uploadFile(t, h, id, fmt.Sprintf("f%d.txt", i), "Some maintenance text."); w.Code != http.StatusOK {
			t.Fatalf("upload %d: %d", i, w.Code)
		}
	}
	w := uploadFile(t, h, id, "f3.txt", "One too many.")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("got %d, want 429", w.Code)
	}
}

func TestHealthAndStatus(t *testing.T) {
	_, h := newTestServer(t)

	w := doJSON(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health: %d", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var status map[string]any
	decode(t, w, &status)
	for _, key := range []string{"documents", "chunks", "vector_index_size", "config"} {
		if _, ok := status[key]; !ok {
			t.Errorf("status missing %q", key)
		}
	}
}

func TestWatchEndpoints_NotEnabled(t *testing.T) {
	_, h := newTestServer(t)
	w := doJSON(t, h, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/equipment", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/equipment", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got header %q", got)
	}
}
