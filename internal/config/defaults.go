package config

import (
	"path/filepath"
	"time"
)

const (
	// DefaultDataDir holds kg.db and both indices unless overridden.
	DefaultDataDir = "/usr/local/var/tiku/data"
	// DefaultEmbeddingModel is a bilingual sentence embedder.
	DefaultEmbeddingModel = "BAAI/bge-small-zh-v1.5"
	// DefaultQueryInstruction is the retrieval prefix recommended for the bge family.
	DefaultQueryInstruction = "为这个句子生成表示以用于检索相关文章："
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, "kg.db")
	}
	if cfg.Storage.KGOnlyPath == "" {
		cfg.Storage.KGOnlyPath = filepath.Join(cfg.Storage.DataDir, "kg_direct.db")
	}
	if cfg.Storage.VectorPath == "" {
		cfg.Storage.VectorPath = filepath.Join(cfg.Storage.DataDir, "vector")
	}
	if cfg.Storage.VectorType == "" {
		cfg.Storage.VectorType = "bolt"
	}
	if cfg.Storage.SparsePath == "" {
		cfg.Storage.SparsePath = filepath.Join(cfg.Storage.DataDir, "bm25")
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hugot"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = DefaultEmbeddingModel
	}
	if cfg.Embedding.ModelDir == "" {
		cfg.Embedding.ModelDir = filepath.Join(cfg.Storage.DataDir, "models")
	}
	if cfg.Embedding.OnnxFile == "" {
		cfg.Embedding.OnnxFile = "onnx/model.onnx"
	}
	if cfg.Embedding.QueryInstruction == "" {
		cfg.Embedding.QueryInstruction = DefaultQueryInstruction
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}

	if cfg.Rerank.Model == "" {
		cfg.Rerank.Model = "BAAI/bge-reranker-base"
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = 30 * time.Second
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}

	if cfg.Chunk.MaxChars == 0 {
		cfg.Chunk.MaxChars = 600
	}
	if cfg.Chunk.MinChars == 0 {
		cfg.Chunk.MinChars = 80
	}
	if cfg.Chunk.MinSlideChars == 0 {
		cfg.Chunk.MinSlideChars = 5
	}

	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 20
	}
	if cfg.Search.RRFK == 0 {
		cfg.Search.RRFK = 60
	}
	if cfg.Search.DenseWeight == 0 && cfg.Search.SparseWeight == 0 {
		cfg.Search.DenseWeight = 0.7
		cfg.Search.SparseWeight = 0.3
	}
	if cfg.Search.NeighborDecay == 0 {
		cfg.Search.NeighborDecay = 0.9
	}
	if cfg.Search.DefaultTopN == 0 {
		cfg.Search.DefaultTopN = 6
	}
	if cfg.Search.MaxTopN == 0 {
		cfg.Search.MaxTopN = 50
	}

	if cfg.Generate.ContextBudget == 0 {
		cfg.Generate.ContextBudget = 6000
	}
	if cfg.Generate.PerQueryTopN == 0 {
		cfg.Generate.PerQueryTopN = 6
	}
	if cfg.Generate.MaxQueries == 0 {
		cfg.Generate.MaxQueries = 12
	}
	if cfg.Generate.Mode == "" {
		cfg.Generate.Mode = "rag"
	}

	if cfg.OCR.PageLimit == 0 {
		cfg.OCR.PageLimit = 10
	}
	if cfg.OCR.Timeout == 0 {
		cfg.OCR.Timeout = 120 * time.Second
	}
	if cfg.OCR.MaxRetries == 0 {
		cfg.OCR.MaxRetries = 5
	}
	if cfg.OCR.WorkDir == "" {
		cfg.OCR.WorkDir = filepath.Join(cfg.Storage.DataDir, "ocr")
	}
	if cfg.OCR.Converters == nil {
		cfg.OCR.Converters = []string{"soffice", "libreoffice"}
	}

	if cfg.Tasks.Workers == 0 {
		cfg.Tasks.Workers = 2
	}
	if cfg.Tasks.TTL == 0 {
		cfg.Tasks.TTL = time.Hour
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".md", ".pdf", ".pptx"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
