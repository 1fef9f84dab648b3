// Package embedding wraps embedding providers with caching and rate limiting.
package embedding

import (
	"context"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru"

	"github.com/creastat/llmkit/pkg/interfaces"
)

// Cached memoises embeddings by exact text in a bounded LRU cache. Vectors
// are copied in and out so callers cannot corrupt cached entries.
type Cached struct {
	inner interfaces.EmbeddingService
	cache *lru.Cache
}

// NewCached wraps inner with an LRU cache holding up to size entries
func NewCached(inner interfaces.EmbeddingService, size int) (*Cached, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// GenerateEmbedding implements interfaces.EmbeddingService
func (c *Cached) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return slices.Clone(v.([]float32)), nil
	}
	vec, err := c.inner.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, slices.Clone(vec))
	return vec, nil
}

// GenerateEmbeddings implements interfaces.BatchEmbeddingService. Only the
// cache misses are sent to the inner provider.
func (c *Cached) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = slices.Clone(v.([]float32))
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := Batch(ctx, c.inner, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Add(texts[i], slices.Clone(vecs[j]))
	}
	return out, nil
}

// Dimensions implements interfaces.EmbeddingService
func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}

// Len returns the number of cached entries
func (c *Cached) Len() int {
	return c.cache.Len()
}

// Batch embeds texts with a single batched call when svc supports it, and
// one call per text otherwise.
func Batch(ctx context.Context, svc interfaces.EmbeddingService, texts []string) ([][]float32, error) {
	if b, ok := svc.(interfaces.BatchEmbeddingService); ok {
		vecs, err := b.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedding provider returned %d vectors for %d texts", len(vecs), len(texts))
		}
		return vecs, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := svc.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

var _ interfaces.BatchEmbeddingService = (*Cached)(nil)
