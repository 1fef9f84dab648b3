package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/creastat/llmkit/pkg/interfaces"
)

// RateLimited spaces calls to an embedding provider. A batched call costs
// one token regardless of its size.
type RateLimited struct {
	inner   interfaces.EmbeddingService
	limiter *rate.Limiter
}

// NewRateLimited allows rps calls per second with the given burst
func NewRateLimited(inner interfaces.EmbeddingService, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// GenerateEmbedding implements interfaces.EmbeddingService
func (r *RateLimited) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}
	return r.inner.GenerateEmbedding(ctx, text)
}

// GenerateEmbeddings implements interfaces.BatchEmbeddingService
func (r *RateLimited) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if b, ok := r.inner.(interfaces.BatchEmbeddingService); ok {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit: %w", err)
		}
		return b.GenerateEmbeddings(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := r.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements interfaces.EmbeddingService
func (r *RateLimited) Dimensions() int {
	return r.inner.Dimensions()
}

var _ interfaces.BatchEmbeddingService = (*RateLimited)(nil)
