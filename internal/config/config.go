// Package config provides configuration loading and structs for the tiku RAG core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	LLM       LLMConfig       `yaml:"llm"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Search    SearchConfig    `yaml:"search"`
	Generate  GenerateConfig  `yaml:"generate"`
	OCR       OCRConfig       `yaml:"ocr"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds drop-folder watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the relational store and both indices.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	// DatabasePath is kg.db: chunks, chapters, concepts, relations.
	DatabasePath string `yaml:"database_path"`
	// KGOnlyPath is the separate store used by the LLM-direct mode.
	KGOnlyPath string `yaml:"kg_only_path"`
	VectorPath string `yaml:"vector_path"`
	// VectorType is "bolt" (on-disk, default) or "memory".
	VectorType string `yaml:"vector_type"`
	SparsePath string `yaml:"sparse_path"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	// Provider is "hugot" (local model), "openai" (remote API) or "mock".
	Provider         string `yaml:"provider"`
	Model            string `yaml:"model"`
	ModelDir         string `yaml:"model_dir"`
	OnnxFile         string `yaml:"onnx_file"`
	Mirror           string `yaml:"mirror"`
	QueryInstruction string `yaml:"query_instruction"`
	Dimensions       int    `yaml:"dimensions"`
	BatchSize        int    `yaml:"batch_size"`
	CacheSize        int    `yaml:"cache_size"`
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"-"`
}

// RerankConfig holds the optional cross-encoder service. An empty URL disables reranking.
type RerankConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig holds the chat-completion endpoint.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"-"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ChunkConfig holds chunk size bounds, counted in characters.
type ChunkConfig struct {
	MaxChars      int `yaml:"max_chars"`
	MinChars      int `yaml:"min_chars"`
	MinSlideChars int `yaml:"min_slide_chars"`
}

// SearchConfig holds hybrid retrieval settings.
type SearchConfig struct {
	TopK          int     `yaml:"top_k"`
	RRFK          float64 `yaml:"rrf_k"`
	DenseWeight   float64 `yaml:"dense_weight"`
	SparseWeight  float64 `yaml:"sparse_weight"`
	ExpandContext *bool   `yaml:"expand_context"`
	NeighborDecay float64 `yaml:"neighbor_decay"`
	DefaultTopN   int     `yaml:"default_top_n"`
	MaxTopN       int     `yaml:"max_top_n"`
}

// ExpandOrDefault returns whether context expansion is on; defaults to true when unset.
func (s *SearchConfig) ExpandOrDefault() bool {
	if s.ExpandContext != nil {
		return *s.ExpandContext
	}
	return true
}

// GenerateConfig holds prompt assembly budgets.
type GenerateConfig struct {
	ContextBudget int    `yaml:"context_budget"`
	PerQueryTopN  int    `yaml:"per_query_top_n"`
	MaxQueries    int    `yaml:"max_queries"`
	Mode          string `yaml:"mode"`
}

// OCRConfig holds the remote layout-parsing service settings.
type OCRConfig struct {
	APIURL     string        `yaml:"api_url"`
	Token      string        `yaml:"-"`
	PageLimit  int           `yaml:"page_limit"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	WorkDir    string        `yaml:"work_dir"`
	// KeepArtifacts retains checkpoints and temp dirs after success.
	KeepArtifacts bool     `yaml:"keep_artifacts"`
	Converters    []string `yaml:"converters"`
}

// TasksConfig holds background job settings.
type TasksConfig struct {
	Workers int           `yaml:"workers"`
	TTL     time.Duration `yaml:"ttl"`
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
	cfg.expandPaths(filepath.Dir(path))
	return &cfg, nil
}

// Default returns a config with every default applied and paths under the data dir.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

func (cfg *Config) expandPaths(configDir string) {
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KGOnlyPath = expandPath(cfg.Storage.KGOnlyPath, configDir)
	cfg.Storage.VectorPath = expandPath(cfg.Storage.VectorPath, configDir)
	cfg.Storage.SparsePath = expandPath(cfg.Storage.SparsePath, configDir)
	cfg.Embedding.ModelDir = expandPath(cfg.Embedding.ModelDir, configDir)
	cfg.OCR.WorkDir = expandPath(cfg.OCR.WorkDir, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
}

// Save writes the config to path. Secrets are never written.
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
	if path == "" || filepath.IsAbs(path) {
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
