package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/tiku/internal/models"
)

func point(docID, chunkID string, chapter int, vec ...float32) Point {
	return Point{
		ID:     PointID(chunkID),
		Vector: vec,
		Chunk:  &models.Chunk{ChunkID: chunkID, DocID: docID, SourceType: models.SourceTextbook, ChapterNum: chapter},
	}
}

func TestMemoryStore_UpsertSearch(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	err := s.Upsert(ctx, []Point{
		point("econ", "a", 1, 1, 0, 0),
		point("econ", "b", 1, 0.9, 0.1, 0),
		point("econ", "c", 2, 0, 1, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Dimensions() != 3 {
		t.Errorf("Dimensions=%d", s.Dimensions())
	}
	if s.Count(ctx, nil) != 3 {
		t.Errorf("Count=%d", s.Count(ctx, nil))
	}

	hits, err := s.Search(ctx, []float32{2, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.ChunkID != "a" || hits[1].Chunk.ChunkID != "b" {
		t.Errorf("order = %s, %s", hits[0].Chunk.ChunkID, hits[1].Chunk.ChunkID)
	}
	if hits[0].Score < 0.999 {
		t.Errorf("unnormalized query should still score 1 against itself, got %f", hits[0].Score)
	}

	hits, _ = s.Search(ctx, []float32{1, 0, 0}, 10, &models.Filters{ChapterNum: models.IntPtr(2)})
	if len(hits) != 1 || hits[0].Chunk.ChunkID != "c" {
		t.Errorf("chapter filter hits = %v", hits)
	}
}

func TestMemoryStore_EdgeCases(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	hits, err := s.Search(ctx, []float32{1, 0}, 5, nil)
	if err != nil || len(hits) != 0 {
		t.Errorf("empty store: hits=%v err=%v", hits, err)
	}
	_ = s.Upsert(ctx, []Point{point("d", "x", 0, 1, 0)})
	if hits, _ := s.Search(ctx, []float32{1, 0}, 0, nil); len(hits) != 0 {
		t.Error("k=0 must return nothing")
	}
	if err := s.Upsert(ctx, []Point{point("d", "y", 0, 1, 0, 0)}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := s.Search(ctx, []float32{1, 0, 0}, 1, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch for query, got %v", err)
	}
}

func TestMemoryStore_UpsertReplacesAndDeleteDoc(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	_ = s.Upsert(ctx, []Point{point("x", "x1", 0, 1, 0), point("y", "y1", 0, 0, 1)})
	_ = s.Upsert(ctx, []Point{point("x", "x1", 0, 0, 1)})
	if s.Count(ctx, nil) != 2 {
		t.Errorf("upsert must replace, count=%d", s.Count(ctx, nil))
	}

	n, err := s.DeleteDoc(ctx, "x")
	if err != nil || n != 1 {
		t.Fatalf("DeleteDoc = %d, %v", n, err)
	}
	n, err = s.DeleteDoc(ctx, "x")
	if err != nil || n != 0 {
		t.Errorf("second DeleteDoc = %d, %v", n, err)
	}
	if _, ok := s.Get(ctx, "x1"); ok {
		t.Error("deleted chunk still retrievable")
	}
	if c, ok := s.Get(ctx, "y1"); !ok || c.DocID != "y" {
		t.Error("other document lost")
	}
}

func TestPointID(t *testing.T) {
	if PointID("econ:c1:s1:p0") != PointID("econ:c1:s1:p0") {
		t.Error("PointID must be deterministic")
	}
	if PointID("a") == PointID("b") {
		t.Error("distinct ids collided")
	}
	if PointID("anything")>>63 != 0 {
		t.Error("PointID must fit in 63 bits")
	}
}
