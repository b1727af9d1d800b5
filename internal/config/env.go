package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv reads .env files (missing files are ignored) and overlays environment
// variables onto cfg. Secrets only ever come from the environment.
func LoadEnv(cfg *Config, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	cfg.OCR.APIURL = getEnv("OCR_API_URL", cfg.OCR.APIURL)
	cfg.OCR.Token = getEnv("OCR_API_TOKEN", cfg.OCR.Token)
	cfg.OCR.PageLimit = getEnvInt("OCR_PAGE_LIMIT", cfg.OCR.PageLimit)

	cfg.LLM.APIKey = getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", cfg.LLM.APIKey))
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)

	cfg.Embedding.Provider = getEnv("EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Mirror = getEnv("HF_ENDPOINT", cfg.Embedding.Mirror)
	cfg.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", cfg.LLM.APIKey)

	cfg.Rerank.URL = getEnv("RERANK_URL", cfg.Rerank.URL)
	cfg.Rerank.Model = getEnv("RERANK_MODEL", cfg.Rerank.Model)
	cfg.Rerank.APIKey = getEnv("RERANK_API_KEY", cfg.Rerank.APIKey)

	cfg.Chunk.MaxChars = getEnvInt("CHUNK_MAX_CHARS", cfg.Chunk.MaxChars)
	cfg.Chunk.MinChars = getEnvInt("CHUNK_MIN_CHARS", cfg.Chunk.MinChars)
	cfg.Search.TopK = getEnvInt("RETRIEVAL_TOP_K", cfg.Search.TopK)
	cfg.Search.RRFK = getEnvFloat("RRF_K", cfg.Search.RRFK)
	cfg.Generate.ContextBudget = getEnvInt("CONTEXT_CHAR_BUDGET", cfg.Generate.ContextBudget)

	if dir, ok := os.LookupEnv("TIKU_DATA_DIR"); ok && dir != "" {
		cfg.Storage = StorageConfig{DataDir: dir, VectorType: cfg.Storage.VectorType}
		cfg.Embedding.ModelDir = ""
		cfg.OCR.WorkDir = ""
		ApplyDefaults(cfg)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
