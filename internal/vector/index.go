// Package vector provides the dense half of the dual index: a cosine-similarity
// store of chunk embeddings with the full chunk as payload.
package vector

import (
	"context"
	"errors"

	"github.com/hyperjump/tiku/internal/models"
)

// CollectionName is the fixed name of the chunk collection.
const CollectionName = "textbook_chunks"

// WriteBatchSize is the number of points written per store call.
const WriteBatchSize = 256

// ErrDimensionMismatch is returned when a vector's length differs from the collection's.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Point is one stored embedding. Chunk travels as payload so hits need no join.
type Point struct {
	ID     uint64
	Vector []float32
	Chunk  *models.Chunk
}

// Hit is a dense search result.
type Hit struct {
	Chunk *models.Chunk
	Score float64
}

// DenseStore is a cosine-similarity vector store filtered on chunk payload.
type DenseStore interface {
	// Upsert writes points, replacing any with the same id.
	Upsert(ctx context.Context, points []Point) error
	// DeleteDoc removes every point of docID and reports how many were removed.
	DeleteDoc(ctx context.Context, docID string) (int, error)
	// Search returns up to k hits by descending cosine similarity.
	Search(ctx context.Context, query []float32, k int, f *models.Filters) ([]*Hit, error)
	Get(ctx context.Context, chunkID string) (*models.Chunk, bool)
	Count(ctx context.Context, f *models.Filters) int
	// Dimensions is 0 until the first write fixes it.
	Dimensions() int
	Close() error
}
