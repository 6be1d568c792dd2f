package bge

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra/metrics"
)

// CachedEncoder memoizes query vectors of an inner encoder in an expiring LRU.
// Only successful encodings are stored.
type CachedEncoder struct {
	inner domain.VectorEncoder
	cache *expirable.LRU[string, []float32]
}

// NewCachedEncoder wraps inner with a cache of size entries living for ttl.
func NewCachedEncoder(inner domain.VectorEncoder, size int, ttl time.Duration) *CachedEncoder {
	return &CachedEncoder{
		inner: inner,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (c *CachedEncoder) key(text string) string {
	return c.inner.Version() + "\x00" + text
}

// Encode serves cached vectors and forwards only the misses, in one inner call.
func (c *CachedEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.key(text)); ok {
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			vectors[i] = vec
			continue
		}
		metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	encoded, err := c.inner.Encode(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(encoded) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", domain.ErrEmbeddingUnavailable, len(missTexts), len(encoded))
	}

	for j, vec := range encoded {
		vectors[missIdx[j]] = vec
		c.cache.Add(c.key(missTexts[j]), vec)
	}
	return vectors, nil
}

// Version returns the inner encoder's version.
func (c *CachedEncoder) Version() string {
	return c.inner.Version()
}

var _ domain.VectorEncoder = (*CachedEncoder)(nil)
