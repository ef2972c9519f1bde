package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scheme-qna/backend/internal/metrics"
	"github.com/scheme-qna/backend/pkg/logger"
	"github.com/scheme-qna/backend/pkg/utils"
)

// EmbeddingCache is satisfied by the redis cache client.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves vectors from a cache before asking the wrapped
// embedder. Cache errors are logged and otherwise ignored.
type CachedEmbedder struct {
	inner Embedder
	cache EmbeddingCache
	ttl   time.Duration
}

func NewCachedEmbedder(inner Embedder, cache EmbeddingCache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, ttl: ttl}
}

func (c *CachedEmbedder) key(text string) string {
	return utils.HashText(c.inner.ModelInfo(), text)
}

func (c *CachedEmbedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	vec, ok, err := c.cache.GetEmbedding(ctx, c.key(text))
	if err != nil {
		logger.Warn("Embedding cache lookup failed", zap.Error(err))
		return nil, false
	}
	if ok && c.inner.Dimension() != 0 && len(vec) != c.inner.Dimension() {
		return nil, false
	}
	if ok {
		metrics.EmbeddingCacheHits.Inc()
	} else {
		metrics.EmbeddingCacheMisses.Inc()
	}
	return vec, ok
}

func (c *CachedEmbedder) store(ctx context.Context, text string, vec []float32) {
	if err := c.cache.SetEmbedding(ctx, c.key(text), vec, c.ttl); err != nil {
		logger.Warn("Embedding cache store failed", zap.Error(err))
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(ctx, text); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, text, vec)
	return vec, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vec, ok := c.lookup(ctx, text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, &ModelLoadError{
			Model: c.inner.ModelInfo(),
			Err:   fmt.Errorf("embedded %d of %d texts", len(vecs), len(missing)),
		}
	}
	for j, vec := range vecs {
		out[missingIdx[j]] = vec
		c.store(ctx, missing[j], vec)
	}

	logger.Debug("Embedding batch served",
		zap.Int("total", len(texts)),
		zap.Int("cached", len(texts)-len(missing)),
	)

	return out, nil
}

func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedEmbedder) ModelInfo() string {
	return c.inner.ModelInfo()
}
