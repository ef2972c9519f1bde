package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/scheme-qna/backend/pkg/logger"
)

const openAIBatchSize = 100

// OpenAIEmbedder calls the OpenAI embeddings API. Its dimension is taken
// from the first response and any later response of another width is an
// error.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string

	mu  sync.RWMutex
	dim int
}

func NewOpenAIEmbedder(apiKey, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, &ModelLoadError{Model: "openai-" + model, Err: errors.New("API key not set")}
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	logger.Info("OpenAI embedder initialized", zap.String("model", model))

	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += openAIBatchSize {
		end := min(start+openAIBatchSize, len(texts))
		batch := texts[start:end]

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: batch,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(batch))
		}

		vecs := make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return nil, fmt.Errorf("embedding index %d out of range", d.Index)
			}
			if err := e.checkDimension(len(d.Embedding)); err != nil {
				return nil, err
			}
			vec := make([]float32, len(d.Embedding))
			copy(vec, d.Embedding)
			l2normalize(vec)
			vecs[d.Index] = vec
		}
		out = append(out, vecs...)

		logger.Debug("Embedding batch generated",
			zap.Int("batch_start", start),
			zap.Int("batch_size", len(batch)),
		)
	}

	return out, nil
}

func (e *OpenAIEmbedder) checkDimension(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dim == 0 {
		e.dim = n
		return nil
	}
	if e.dim != n {
		return fmt.Errorf("embedding dimension changed from %d to %d", e.dim, n)
	}
	return nil
}

func (e *OpenAIEmbedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dim
}

func (e *OpenAIEmbedder) ModelInfo() string {
	return "openai-" + e.model
}
