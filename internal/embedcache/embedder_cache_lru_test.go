package embedcache

import (
	"context"
	"testing"
	"time"
)

type countingEmbedder struct {
	calls int
	texts int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (c *countingEmbedder) ModelName() string {
	return "counting"
}

func TestLruEmbedder_SecondCallServedFromCache(t *testing.T) {
	next := &countingEmbedder{}
	cached := WrapLruCacheToEmbedder(next, 16, time.Minute)

	ctx := context.Background()
	if _, err := cached.EmbedBatch(ctx, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if _, err := cached.EmbedBatch(ctx, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if next.texts != 2 {
		t.Fatalf("expected 2 texts embedded upstream, got %d", next.texts)
	}
}

func TestLruEmbedder_PartialMissOnlyEmbedsMisses(t *testing.T) {
	next := &countingEmbedder{}
	cached := WrapLruCacheToEmbedder(next, 16, time.Minute)

	ctx := context.Background()
	if _, err := cached.EmbedBatch(ctx, []string{"alpha"}); err != nil {
		t.Fatalf("warm: %v", err)
	}
	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "gamma"})
	if err != nil {
		t.Fatalf("mixed batch: %v", err)
	}
	if len(vecs) != 2 || vecs[0] == nil || vecs[1] == nil {
		t.Fatalf("unexpected result shape: %v", vecs)
	}
	if next.texts != 2 {
		t.Fatalf("expected only misses to reach upstream, got %d texts", next.texts)
	}
}

func TestWrapLruCacheToEmbedder_DisabledPassThrough(t *testing.T) {
	next := &countingEmbedder{}
	if got := WrapLruCacheToEmbedder(next, 0, time.Minute); got != next {
		t.Fatal("zero size should return the wrapped embedder unchanged")
	}
	if got := WrapLruCacheToEmbedder(nil, 16, time.Minute); got != nil {
		t.Fatal("nil embedder should stay nil")
	}
}
