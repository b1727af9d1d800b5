// Package keyword provides the sparse half of the dual index: a BM25 ranking over
// Chinese-aware token streams, persisted as a single file.
package keyword

import (
	"context"

	"github.com/hyperjump/tiku/internal/models"
)

// SparseIndex is a lexical rank index over the full chunk set.
// It is not incrementally updatable: every write is a full Rebuild.
type SparseIndex interface {
	// Rebuild replaces the index with one built from chunks and persists it.
	Rebuild(ctx context.Context, chunks []*models.Chunk) error
	// Search ranks chunks passing f against query tokens; only positive scores are returned.
	Search(ctx context.Context, tokens []string, k int, f *models.Filters) ([]*Hit, error)
	Get(chunkID string) (*models.Chunk, bool)
	Count(f *models.Filters) int
	Close() error
}

// Hit is a sparse search result.
type Hit struct {
	Chunk *models.Chunk
	Score float64
}
