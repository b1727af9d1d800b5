// Package embedding turns chunk and query text into L2-normalized vectors.
package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/tiku/pkg/utils"
)

// Embedder produces document and query embeddings from one model.
type Embedder interface {
	// EmbedChunks embeds document texts in order.
	EmbedChunks(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a query, prefixed with the model's retrieval instruction.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimensions() int
	Close() error
}

// Encoder is a raw model backend: no prefixing, no normalization.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Model adapts an Encoder into an Embedder: batching, query instruction, normalization.
type Model struct {
	enc         Encoder
	instruction string
	batchSize   int
	logger      *zap.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithQueryInstruction sets the prefix prepended to queries.
func WithQueryInstruction(s string) Option {
	return func(m *Model) {
		m.instruction = s
	}
}

// WithBatchSize sets how many texts go to the encoder per call.
func WithBatchSize(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Model) {
		m.logger = l
	}
}

// NewModel wraps enc.
func NewModel(enc Encoder, opts ...Option) *Model {
	m := &Model{enc: enc, batchSize: 32}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = utils.OrNop(m.logger)
	return m
}

// EmbedChunks embeds texts in batches and normalizes every vector.
func (m *Model) EmbedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += m.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + m.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := m.enc.Encode(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch at %d: %w", start, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(vecs), end-start)
		}
		for _, v := range vecs {
			utils.NormalizeL2(v)
		}
		out = append(out, vecs...)
	}
	m.logger.Debug("embedded chunks", zap.Int("count", len(out)))
	return out, nil
}

// EmbedQuery embeds the instruction-prefixed query.
func (m *Model) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := m.enc.Encode(ctx, []string{m.instruction + query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("encoder returned %d vectors for one query", len(vecs))
	}
	utils.NormalizeL2(vecs[0])
	return vecs[0], nil
}

// Dimensions returns the encoder dimension.
func (m *Model) Dimensions() int {
	return m.enc.Dimensions()
}

// Close releases the encoder.
func (m *Model) Close() error {
	return m.enc.Close()
}
