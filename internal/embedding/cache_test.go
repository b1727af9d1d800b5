package embedding

import (
	"context"
	"testing"
)

type countingEmbedder struct {
	Embedder
	queries int
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, q string) ([]float32, error) {
	c.queries++
	return c.Embedder.EmbedQuery(ctx, q)
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{Embedder: NewMockEmbedder(16)}
	c, err := NewCachedEmbedder(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a1, _ := c.EmbedQuery(ctx, "供求")
	a2, _ := c.EmbedQuery(ctx, "供求")
	if inner.queries != 1 {
		t.Errorf("expected one model call, got %d", inner.queries)
	}
	if len(a1) != 16 || a1[3] != a2[3] {
		t.Error("cached vector differs")
	}
	_, _ = c.EmbedQuery(ctx, "价格")
	_, _ = c.EmbedQuery(ctx, "货币") // evicts 供求
	_, _ = c.EmbedQuery(ctx, "供求")
	if inner.queries != 4 {
		t.Errorf("expected eviction to force a recompute, calls=%d", inner.queries)
	}
	if c.Len() != 2 {
		t.Errorf("Len=%d, want 2", c.Len())
	}
}

func TestNewCachedEmbedder_InvalidSize(t *testing.T) {
	if _, err := NewCachedEmbedder(NewMockEmbedder(4), 0); err == nil {
		t.Error("expected error for zero capacity")
	}
}
