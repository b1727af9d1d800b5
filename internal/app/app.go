// Package app opens the stores, indices and clients once per process and
// hands the same handles to every caller.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/chunker"
	"github.com/hyperjump/tiku/internal/config"
	"github.com/hyperjump/tiku/internal/embedding"
	"github.com/hyperjump/tiku/internal/generate"
	"github.com/hyperjump/tiku/internal/indexer"
	"github.com/hyperjump/tiku/internal/keyword"
	"github.com/hyperjump/tiku/internal/kg"
	"github.com/hyperjump/tiku/internal/llm"
	"github.com/hyperjump/tiku/internal/ocr"
	"github.com/hyperjump/tiku/internal/search"
	"github.com/hyperjump/tiku/internal/storage"
	"github.com/hyperjump/tiku/internal/tasks"
	"github.com/hyperjump/tiku/internal/vector"
	"github.com/hyperjump/tiku/pkg/utils"
)

// Components holds every long-lived handle. The dense store allows one
// handle per process, so everything that reads or writes the index goes
// through the same Components.
type Components struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *storage.SQLiteStorage
	KGOnly    *storage.SQLiteStorage
	Dense     vector.DenseStore
	Sparse    *keyword.BM25Index
	Embedder  embedding.Embedder
	Indexer   *indexer.Indexer
	Retriever *search.Retriever
	Tasks     *tasks.Registry
	Pool      *tasks.Pool
	Generator *generate.Orchestrator
	// Direct generates from the KG-only store.
	Direct *generate.Orchestrator

	llm    llm.ChatClient
	llmErr error
	kg     *kg.Service
	kgOnly *kg.Service
	ocr    *ocr.Orchestrator
	ocrErr error
	cancel context.CancelFunc
}

// Open builds all components from cfg. Missing LLM or OCR credentials do not
// fail Open; the operations that need them report the error instead.
func Open(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	logger = utils.OrNop(logger)
	c := &Components{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	for _, dir := range []string{cfg.Storage.DataDir, filepath.Dir(cfg.Storage.DatabasePath), filepath.Dir(cfg.Storage.KGOnlyPath)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	var err error
	if c.Store, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if c.KGOnly, err = storage.NewSQLiteStorage(cfg.Storage.KGOnlyPath); err != nil {
		return nil, fmt.Errorf("failed to initialize KG-only storage: %w", err)
	}
	if c.Dense, err = vector.NewDenseStore(cfg.Storage.VectorType, cfg.Storage.VectorPath, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize dense store: %w", err)
	}
	tokenizer, err := keyword.NewTokenizer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}
	if c.Sparse, err = keyword.OpenBM25Index(cfg.Storage.SparsePath, tokenizer, keyword.WithLogger(logger)); err != nil {
		return nil, fmt.Errorf("failed to initialize sparse index: %w", err)
	}
	if c.Embedder, err = NewEmbedder(cfg.Embedding, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	c.Indexer = indexer.NewIndexer(c.Store, c.Dense, c.Sparse, tokenizer, c.Embedder,
		indexer.WithLogger(logger),
		indexer.WithChunkOptions(chunker.Options{
			MaxChars:      cfg.Chunk.MaxChars,
			MinChars:      cfg.Chunk.MinChars,
			MinSlideChars: cfg.Chunk.MinSlideChars,
		}))
	retrieverOpts := []search.RetrieverOption{search.WithLogger(logger)}
	if cfg.Rerank.URL != "" {
		retrieverOpts = append(retrieverOpts, search.WithReranker(
			search.NewHTTPReranker(cfg.Rerank.URL, cfg.Rerank.Model, cfg.Rerank.APIKey, cfg.Rerank.Timeout)))
	}
	c.Retriever = search.NewRetriever(c.Indexer, &cfg.Search, retrieverOpts...)

	client, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, llm.WithLogger(logger))
	if err != nil {
		if !errors.Is(err, llm.ErrMissingAPIKey) {
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
		logger.Debug("LLM disabled", zap.Error(err))
		c.llmErr = err
	} else {
		c.llm = client
		extractor := kg.NewExtractor(client, kg.WithLogger(logger))
		c.kg = kg.NewService(c.Store, extractor, kg.WithServiceLogger(logger))
		c.kgOnly = kg.NewService(c.KGOnly, extractor, kg.WithServiceLogger(logger))
	}
	genOpts := []generate.Option{
		generate.WithLogger(logger),
		generate.WithBudget(cfg.Generate.ContextBudget),
		generate.WithPerQueryTopN(cfg.Generate.PerQueryTopN),
		generate.WithMaxQueries(cfg.Generate.MaxQueries),
	}
	c.Generator = generate.NewOrchestrator(c.Retriever, c.Store, c.llm, genOpts...)
	c.Direct = generate.NewOrchestrator(nil, c.KGOnly, c.llm, genOpts...)

	if c.ocr, c.ocrErr = newOCR(cfg.OCR, logger); c.ocrErr != nil && !errors.Is(c.ocrErr, ocr.ErrMissingToken) {
		return nil, c.ocrErr
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.Tasks = tasks.NewRegistry(cfg.Tasks.TTL)
	c.Pool = tasks.NewPool(ctx, c.Tasks, cfg.Tasks.Workers, tasks.WithLogger(logger))

	ok = true
	return c, nil
}

func newOCR(cfg config.OCRConfig, logger *zap.Logger) (*ocr.Orchestrator, error) {
	client, err := ocr.NewClient(cfg.APIURL, cfg.Token, cfg.Timeout, cfg.MaxRetries, ocr.WithClientLogger(logger))
	if err != nil {
		return nil, err
	}
	converters, err := ocr.NewConverters(cfg.Converters)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize slide converters: %w", err)
	}
	return ocr.NewOrchestrator(client,
		ocr.WithLogger(logger),
		ocr.WithPageLimit(cfg.PageLimit),
		ocr.WithConverters(converters...),
		ocr.WithKeepArtifacts(cfg.KeepArtifacts),
	), nil
}

// NewEmbedder builds the configured embedding provider wrapped in a query cache.
func NewEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	opts := []embedding.Option{
		embedding.WithQueryInstruction(cfg.QueryInstruction),
		embedding.WithBatchSize(cfg.BatchSize),
		embedding.WithLogger(logger),
	}
	var enc embedding.Encoder
	var err error
	switch strings.ToLower(cfg.Provider) {
	case "hugot", "":
		enc, err = embedding.NewHugotEncoder(embedding.HugotConfig{
			Model:    cfg.Model,
			ModelDir: cfg.ModelDir,
			OnnxFile: cfg.OnnxFile,
			Mirror:   cfg.Mirror,
			Logger:   logger,
		})
	case "openai":
		enc, err = embedding.NewOpenAIEncoder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case "mock":
		enc = embedding.NewMockEncoder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: hugot, openai, mock)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	model := embedding.NewModel(enc, opts...)
	if cfg.CacheSize <= 0 {
		return model, nil
	}
	return embedding.NewCachedEmbedder(model, cfg.CacheSize)
}

// LLM returns the chat client or llm.ErrMissingAPIKey.
func (c *Components) LLM() (llm.ChatClient, error) {
	if c.llm == nil {
		return nil, c.llmErr
	}
	return c.llm, nil
}

// KG returns the extraction service writing to kg.db, or to the KG-only
// store when direct is set.
func (c *Components) KG(direct bool) (*kg.Service, error) {
	if c.kg == nil {
		return nil, c.llmErr
	}
	if direct {
		return c.kgOnly, nil
	}
	return c.kg, nil
}

// OCR returns the OCR orchestrator or ocr.ErrMissingToken.
func (c *Components) OCR() (*ocr.Orchestrator, error) {
	if c.ocr == nil {
		return nil, c.ocrErr
	}
	return c.ocr, nil
}

// Close stops background jobs and closes every store. It is safe on a
// partially opened Components.
func (c *Components) Close() {
	if c.cancel != nil {
		c.cancel()
		c.Pool.Wait()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Sparse != nil {
		_ = c.Sparse.Close()
	}
	if c.Dense != nil {
		_ = c.Dense.Close()
	}
	if c.KGOnly != nil {
		_ = c.KGOnly.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// Registry opens Components lazily and at most once.
type Registry struct {
	mu     sync.Mutex
	cfg    *config.Config
	logger *zap.Logger
	comps  *Components
}

// NewRegistry creates a registry that opens Components from cfg on first use.
func NewRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	return &Registry{cfg: cfg, logger: logger}
}

// Get returns the shared Components, opening them on the first call. A failed
// open is retried on the next call.
func (r *Registry) Get() (*Components, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.comps != nil {
		return r.comps, nil
	}
	c, err := Open(r.cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.comps = c
	return c, nil
}

// Close closes the shared Components if they were opened.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.comps != nil {
		r.comps.Close()
		r.comps = nil
	}
}
