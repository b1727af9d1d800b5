package app

import (
	"context"

	"github.com/hyperjump/tiku/internal/indexer"
	"github.com/hyperjump/tiku/internal/storage"
)

// Status summarizes the stores and which credentialed services are usable.
type Status struct {
	Documents      []storage.DocumentInfo `json:"documents"`
	Counts         indexer.Counts         `json:"counts"`
	Consistent     bool                   `json:"consistent"`
	LLM            bool                   `json:"llm"`
	OCR            bool                   `json:"ocr"`
	Rerank         bool                   `json:"rerank"`
	VectorType     string                 `json:"vector_type"`
	EmbeddingModel string                 `json:"embedding_model"`
	Dimensions     int                    `json:"embedding_dimensions"`
	Stores         []storage.StoreUsage   `json:"stores,omitempty"`
	DiskUsageBytes int64                  `json:"disk_usage_bytes"`
}

// Status collects a Status. Disk usage is best effort.
func (c *Components) Status(ctx context.Context) (*Status, error) {
	docs, err := c.Indexer.Documents(ctx)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []storage.DocumentInfo{}
	}
	counts, err := c.Indexer.Counts(ctx, "")
	if err != nil {
		return nil, err
	}
	cfg := c.Config
	st := &Status{
		Documents:      docs,
		Counts:         counts,
		Consistent:     counts.Consistent(),
		LLM:            c.llm != nil,
		OCR:            c.ocr != nil,
		Rerank:         cfg.Rerank.URL != "",
		VectorType:     cfg.Storage.VectorType,
		EmbeddingModel: cfg.Embedding.Model,
		Dimensions:     c.Embedder.Dimensions(),
	}
	stores, total, err := storage.DiskUsage(map[string]string{
		"kg":      cfg.Storage.DatabasePath,
		"kg_only": cfg.Storage.KGOnlyPath,
		"vector":  cfg.Storage.VectorPath,
		"sparse":  cfg.Storage.SparsePath,
	})
	if err == nil {
		st.Stores, st.DiskUsageBytes = stores, total
	}
	return st, nil
}
