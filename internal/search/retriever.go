package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tiku/internal/config"
	"github.com/hyperjump/tiku/internal/keyword"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/storage"
	"github.com/hyperjump/tiku/internal/vector"
	"github.com/hyperjump/tiku/pkg/utils"
)

// Backend is the read side of the dual index. *indexer.Indexer implements it.
type Backend interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	DenseSearch(ctx context.Context, q []float32, k int, f *models.Filters) ([]*vector.Hit, error)
	Tokenize(text string) []string
	SparseSearch(ctx context.Context, tokens []string, k int, f *models.Filters) ([]*keyword.Hit, error)
	GetByChunkID(ctx context.Context, chunkID string) (*models.Chunk, error)
}

// Retriever runs hybrid search over a Backend.
type Retriever struct {
	backend  Backend
	reranker Reranker
	config   *config.SearchConfig
	logger   *zap.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithReranker enables cross-encoder re-ranking of the expanded candidates.
func WithReranker(r Reranker) RetrieverOption {
	return func(rt *Retriever) { rt.reranker = r }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) RetrieverOption {
	return func(rt *Retriever) { rt.logger = l }
}

// NewRetriever creates a retriever. Zero-valued fusion settings in cfg take
// the package defaults.
func NewRetriever(backend Backend, cfg *config.SearchConfig, opts ...RetrieverOption) *Retriever {
	c := *cfg
	if c.TopK <= 0 {
		c.TopK = 20
	}
	if c.RRFK <= 0 {
		c.RRFK = DefaultRRFK
	}
	if c.DenseWeight == 0 && c.SparseWeight == 0 {
		c.DenseWeight, c.SparseWeight = DefaultDenseWeight, DefaultSparseWeight
	}
	if c.NeighborDecay <= 0 {
		c.NeighborDecay = DefaultNeighborDecay
	}
	rt := &Retriever{backend: backend, config: &c}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = utils.OrNop(rt.logger)
	return rt
}

// Search returns the top query.TopN chunks for query.Query. A blank query or a
// non-positive TopN yields an empty response. Backend errors propagate; a
// reranker failure falls back to the fused order.
func (r *Retriever) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	p, ok := ProcessQuery(query, r.config, r.reranker != nil)
	response := &models.SearchResponse{Query: query.Query, Results: []*models.SearchResult{}}
	if !ok {
		return response, nil
	}

	var denseHits []*vector.Hit
	var sparseHits []*keyword.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := r.backend.EmbedQuery(gctx, query.Query)
		if err != nil {
			return fmt.Errorf("embedding failed: %w", err)
		}
		hits, err := r.backend.DenseSearch(gctx, q, p.topK, query.Filters)
		if err != nil {
			return fmt.Errorf("dense search failed: %w", err)
		}
		denseHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := r.backend.SparseSearch(gctx, r.backend.Tokenize(query.Query), p.topK, query.Filters)
		if err != nil {
			return fmt.Errorf("sparse search failed: %w", err)
		}
		sparseHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := RRF(denseChunks(denseHits), sparseChunks(sparseHits), Weights{
		K: r.config.RRFK, Dense: r.config.DenseWeight, Sparse: r.config.SparseWeight,
	})
	if p.expand {
		expanded, err := Expand(ctx, results, 3*p.topN, r.config.NeighborDecay, query.Filters, r.backend.GetByChunkID)
		if err != nil {
			return nil, err
		}
		results = expanded
	}
	response.Total = len(results)
	if p.rerank && len(results) > 0 {
		reranked, err := r.rerank(ctx, query.Query, results, p.topN)
		if err == nil {
			results = reranked
		} else {
			r.logger.Warn("rerank failed, keeping fused order", zap.Error(err))
		}
	}
	if len(results) > p.topN {
		results = results[:p.topN]
	}
	for i, res := range results {
		res.Rank = i + 1
	}
	response.Results = results
	response.QueryTime = time.Since(start).Milliseconds()
	r.logger.Debug("search done",
		zap.String("query", query.Query),
		zap.Int("dense", len(denseHits)),
		zap.Int("sparse", len(sparseHits)),
		zap.Int("results", len(results)))
	return response, nil
}

func (r *Retriever) rerank(ctx context.Context, query string, results []*models.SearchResult, topN int) ([]*models.SearchResult, error) {
	docs := make([]string, len(results))
	for i, res := range results {
		docs[i] = res.Chunk.Text
	}
	scores, err := r.reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		return nil, err
	}
	scores = CleanScores(scores, len(results), topN)
	out := make([]*models.SearchResult, 0, len(scores))
	for _, s := range scores {
		res := results[s.Index]
		res.RerankScore = s.Score
		res.Score = s.Score
		out = append(out, res)
	}
	sortByScore(out)
	return out, nil
}

// DefaultNeighborDecay scales a neighbor's score relative to the hit that pulled it in.
const DefaultNeighborDecay = 0.9

// Lookup fetches a chunk by id. storage.ErrNotFound marks a dangling link.
type Lookup func(ctx context.Context, chunkID string) (*models.Chunk, error)

// Expand adds the prev and next neighbors of the first limit results at decay
// times the source score. A neighbor already present keeps its own entry.
// Neighbors failing f are skipped. The result is re-sorted by score with ties
// in insertion order.
func Expand(ctx context.Context, results []*models.SearchResult, limit int, decay float64, f *models.Filters, lookup Lookup) ([]*models.SearchResult, error) {
	seen := make(map[string]bool, len(results))
	for _, res := range results {
		seen[res.Chunk.ChunkID] = true
	}
	if limit > len(results) {
		limit = len(results)
	}
	out := append([]*models.SearchResult(nil), results...)
	for _, res := range results[:limit] {
		for _, id := range []string{res.Chunk.PrevID, res.Chunk.NextID} {
			if id == "" || seen[id] {
				continue
			}
			c, err := lookup(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to expand %s: %w", id, err)
			}
			if !f.Match(c) {
				continue
			}
			seen[id] = true
			out = append(out, &models.SearchResult{Chunk: c, Score: decay * res.Score, Neighbor: true})
		}
	}
	sortByScore(out)
	return out, nil
}
