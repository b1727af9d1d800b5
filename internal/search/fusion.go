// Package search provides hybrid dense+sparse retrieval with reciprocal-rank
// fusion, context expansion and optional re-ranking.
package search

import (
	"sort"

	"github.com/hyperjump/tiku/internal/keyword"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/vector"
)

// Default fusion parameters.
const (
	DefaultRRFK         = 60.0
	DefaultDenseWeight  = 0.7
	DefaultSparseWeight = 0.3
)

// Weights parameterizes reciprocal-rank fusion.
type Weights struct {
	K      float64
	Dense  float64
	Sparse float64
}

// RRFScore is one reciprocal-rank term. rank is 1-based; rank 0 means the
// item is absent from the list and contributes nothing.
func RRFScore(weight, k float64, rank int) float64 {
	if rank <= 0 {
		return 0
	}
	return weight / (k + float64(rank))
}

// RRF fuses two ranked chunk lists. Each chunk scores
// w.Dense/(w.K+rank_d) + w.Sparse/(w.K+rank_s). The result is sorted by
// descending score; ties keep first-insertion order (dense list first).
func RRF(dense, sparse []*models.Chunk, w Weights) []*models.SearchResult {
	byID := make(map[string]*models.SearchResult, len(dense)+len(sparse))
	order := make([]*models.SearchResult, 0, len(dense)+len(sparse))
	get := func(c *models.Chunk) *models.SearchResult {
		r, ok := byID[c.ChunkID]
		if !ok {
			r = &models.SearchResult{Chunk: c}
			byID[c.ChunkID] = r
			order = append(order, r)
		}
		return r
	}
	for i, c := range dense {
		if r := get(c); r.DenseRank == 0 {
			r.DenseRank = i + 1
		}
	}
	for i, c := range sparse {
		if r := get(c); r.SparseRank == 0 {
			r.SparseRank = i + 1
		}
	}
	for _, r := range order {
		r.Score = RRFScore(w.Dense, w.K, r.DenseRank) + RRFScore(w.Sparse, w.K, r.SparseRank)
	}
	sortByScore(order)
	return order
}

func sortByScore(results []*models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

func denseChunks(hits []*vector.Hit) []*models.Chunk {
	out := make([]*models.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk
	}
	return out
}

func sparseChunks(hits []*keyword.Hit) []*models.Chunk {
	out := make([]*models.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk
	}
	return out
}
