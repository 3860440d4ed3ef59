// Package main is the voicekb CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fieldline/voicekb/internal/chunker"
	"github.com/fieldline/voicekb/internal/config"
	"github.com/fieldline/voicekb/internal/embedding"
	"github.com/fieldline/voicekb/internal/extract"
	"github.com/fieldline/voicekb/internal/ingest"
	"github.com/fieldline/voicekb/internal/models"
	"github.com/fieldline/voicekb/internal/retrieval"
	"github.com/fieldline/voicekb/internal/server"
	"github.com/fieldline/voicekb/internal/storage"
	"github.com/fieldline/voicekb/internal/vector"
	"github.com/fieldline/voicekb/internal/watcher"
	"github.com/fieldline/voicekb/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/voicekb/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence so development runs pick up the
// project config. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "retrieve":
		runRetrieve()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("voicekb version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// Components bundles everything built from config.
type Components struct {
	Store    storage.Store
	Embedder embedding.Embedder
	Index    vector.Index
	Pipeline *ingest.Pipeline
	Engine   *retrieval.Engine
}

// Close releases component resources.
func (c *Components) Close() {
	_ = c.Embedder.Close()
	_ = c.Index.Close()
	_ = c.Store.Close()
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var embedder embedding.Embedder
	if cfg.Embedding.Backend == "onnx" {
		onnxEmbedder, onnxErr := embedding.NewONNXEmbedder(
			cfg.Embedding.ModelPath,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxTokens,
			cfg.Embedding.CacheSize,
		)
		if onnxErr != nil {
			logger.Warn("ONNX embedder unavailable, using deterministic hash embedder", zap.Error(onnxErr))
			embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
		} else {
			embedder = onnxEmbedder
		}
	} else {
		embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	}

	index, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if loadErr := index.Load(cfg.Storage.VectorIndexPath); loadErr != nil {
		logger.Warn("vector index load skipped, will rebuild from storage",
			zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(loadErr))
	}

	pipeline := ingest.NewPipeline(store, embedder, index,
		chunker.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap),
		extract.NewExtractor(), cfg.Storage.FilesPath,
		ingest.WithLogger(logger))
	engine := retrieval.NewEngine(store, embedder, index, &cfg.Retrieval,
		retrieval.WithLogger(logger))

	if index.Size() == 0 {
		n, rebuildErr := pipeline.RebuildIndex(context.Background())
		if rebuildErr != nil {
			logger.Warn("vector index rebuild failed", zap.Error(rebuildErr))
		} else if n > 0 {
			logger.Info("vector index rebuilt from storage", zap.Int("vectors", n))
		}
	}

	return &Components{
		Store:    store,
		Embedder: embedder,
		Index:    index,
		Pipeline: pipeline,
		Engine:   engine,
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchSvc := newDropFolderWatcher(cfg, components, logger, debugMode)
	if err := watchSvc.Start(cfg.Watch.Directories); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer watchSvc.Stop()
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Engine,
		components.Pipeline,
		components.Store,
		watchSvc,
		cfg,
		resolvedConfigPath,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if err := components.Index.Save(cfg.Storage.VectorIndexPath); err != nil {
		logger.Warn("vector index save failed",
			zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// newDropFolderWatcher wires the watcher callbacks: dropped files are
// ingested into the folder's equipment, removed files disable their document.
func newDropFolderWatcher(cfg *config.Config, components *Components, logger *zap.Logger, debug bool) *watcher.Watcher {
	opts := []watcher.Option{}
	if debug {
		opts = append(opts, watcher.WithLogger(logger))
	}
	onIngest := func(path, equipmentID string) {
		ctx := context.Background()
		fileName := filepath.Base(path)
		// Already ingested files are not re-ingested; drop a new copy to update.
		if _, err := components.Store.GetDocumentByFileName(ctx, equipmentID, fileName); err == nil {
			return
		}
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		res := components.Pipeline.IngestFile(ctx, &ingest.FileInput{
			EquipmentID: equipmentID,
			TenantID:    cfg.Tenant.DefaultTenantID,
			FileName:    fileName,
			Size:        info.Size(),
			UploadedBy:  "drop-folder",
			Path:        path,
		})
		switch res.Status {
		case models.EmbeddingStatusCompleted:
		case ingest.StatusSkipped:
			logger.Info("drop folder file skipped",
				zap.String("path", path), zap.String("reason", res.Error))
		default:
			logger.Warn("drop folder ingest failed",
				zap.String("path", path), zap.String("error", res.Error))
		}
	}
	onRemove := func(path, equipmentID string) {
		ctx := context.Background()
		doc, err := components.Store.GetDocumentByFileName(ctx, equipmentID, filepath.Base(path))
		if err != nil {
			return
		}
		if _, err := components.Pipeline.DisableDocument(ctx, doc.ID); err != nil {
			logger.Warn("drop folder disable failed",
				zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	return watcher.NewWatcher(cfg.Watch.Extensions, onIngest, onRemove, opts...)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	equipmentID := fs.String("equipment", "", "equipment id to ingest into (required)")
	tenantID := fs.String("tenant", "", "tenant id (default: config tenant)")
	_ = fs.Parse(os.Args[2:])

	if *equipmentID == "" || fs.NArg() < 1 {
		fmt.Println("Usage: voicekb ingest -equipment <id> <file-or-directory>...")
		os.Exit(1)
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	tenant := *tenantID
	if tenant == "" {
		tenant = cfg.Tenant.DefaultTenantID
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if _, err := components.Store.GetEquipment(context.Background(), *equipmentID); err != nil {
		fmt.Fprintf(os.Stderr, "Equipment lookup failed: %v\n", err)
		os.Exit(1)
	}

	paths, err := collectFiles(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to collect files: %v\n", err)
		os.Exit(1)
	}
	inputs := make([]*ingest.FileInput, 0, len(paths))
	for _, p := range paths {
		info, statErr := os.Stat(p)
		if statErr != nil {
			continue
		}
		inputs = append(inputs, &ingest.FileInput{
			EquipmentID: *equipmentID,
			TenantID:    tenant,
			FileName:    filepath.Base(p),
			Size:        info.Size(),
			UploadedBy:  "cli",
			Path:        p,
		})
	}
	batch := components.Pipeline.IngestBatch(context.Background(), inputs)
	for _, r := range batch.Results {
		switch r.Status {
		case models.EmbeddingStatusCompleted:
			fmt.Printf("ok      %s (%d chunks)\n", r.FileName, r.ChunkCount)
		case ingest.StatusSkipped:
			fmt.Printf("skipped %s: %s\n", r.FileName, r.Error)
		default:
			fmt.Printf("failed  %s: %s\n", r.FileName, r.Error)
		}
	}
	fmt.Printf("%d processed, %d skipped, %d failed\n", batch.Processed, batch.Skipped, batch.Failed)

	if err := components.Index.Save(cfg.Storage.VectorIndexPath); err != nil {
		logger.Warn("vector index save failed", zap.Error(err))
	}
	if batch.Failed > 0 {
		os.Exit(1)
	}
}

// collectFiles expands the given paths: files pass through, directories are
// walked recursively.
func collectFiles(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !d.IsDir() {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// buildQuery joins positional args with spaces so multi-word queries work
// with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runRetrieve() {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	equipmentID := fs.String("equipment", "", "equipment id scope")
	tenantID := fs.String("tenant", "", "tenant id (default: config tenant)")
	k := fs.Int("k", 0, "number of chunks to retrieve (default: config default_k)")
	outputJSON := fs.Bool("json", false, "print the full result as JSON")
	_ = fs.Parse(os.Args[2:])

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: voicekb retrieve [-equipment <id>] [-k N] <query>")
		os.Exit(1)
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	tenant := *tenantID
	if tenant == "" {
		tenant = cfg.Tenant.DefaultTenantID
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	res, err := components.Engine.Retrieve(context.Background(), &retrieval.Query{
		Query:       query,
		K:           *k,
		EquipmentID: *equipmentID,
		TenantID:    tenant,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
		os.Exit(1)
	}
	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return
	}
	if len(res.Data) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, c := range res.Data {
		fmt.Printf("%d. [%.4f] %s\n   %s\n", i+1, c.Score, c.FileName, c.Text)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Decode failed: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(status)
}

func printUsage() {
	fmt.Println(`voicekb - equipment knowledge base backend

Usage:
  voicekb server   [-config path] [-debug]         Start the HTTP server
  voicekb ingest   -equipment <id> <path>...       Ingest files or directories
  voicekb retrieve [-equipment <id>] [-k N] <query> Query the knowledge base
  voicekb status   [-server url]                   Show server status
  voicekb version                                  Print version`)
}
