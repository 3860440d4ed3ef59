// Package config provides configuration loading and structs for the voicekb server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Limits    LimitsConfig    `yaml:"limits"`
	Session   SessionConfig   `yaml:"session"`
	Tenant    TenantConfig    `yaml:"tenant"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig holds paths for the database, uploaded files, and vector index.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	FilesPath       string `yaml:"files_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// EmbeddingConfig holds embedder settings. Backend selects the implementation:
// "hash" for the deterministic embedder, "onnx" for the local ONNX model.
type EmbeddingConfig struct {
	Backend    string `yaml:"backend"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// ChunkingConfig holds document splitting settings.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RetrievalConfig holds vector search settings. The index is over-fetched by
// OverfetchFactor (floored at MinCandidates) so scope filters applied after
// the search still leave enough candidates.
type RetrievalConfig struct {
	DefaultK        int `yaml:"default_k"`
	MaxK            int `yaml:"max_k"`
	OverfetchFactor int `yaml:"overfetch_factor"`
	MinCandidates   int `yaml:"min_candidates"`
}

// LimitsConfig holds request throttling settings.
type LimitsConfig struct {
	UploadsPerMinute int `yaml:"uploads_per_minute"`
}

// SessionConfig holds voice session settings.
type SessionConfig struct {
	IdleTimeoutSecs int `yaml:"idle_timeout_secs"`
}

// TenantConfig holds the tenant applied when a request carries none.
type TenantConfig struct {
	DefaultTenantID string `yaml:"default_tenant_id"`
}

// WatchConfig holds drop-folder ingestion settings. Each directory is bound to
// one equipment: files that appear there are ingested into its knowledge base.
type WatchConfig struct {
	Directories []WatchDirectory `yaml:"directories"`
	Extensions  []string         `yaml:"extensions"`
}

// WatchDirectory binds a watched path to an equipment id.
type WatchDirectory struct {
	Path        string `yaml:"path"`
	EquipmentID string `yaml:"equipment_id"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.FilesPath = expandPath(cfg.Storage.FilesPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i].Path = expandPath(cfg.Watch.Directories[i].Path, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
