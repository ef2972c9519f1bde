// Package rag ties the corpus, chunker, embedder and vector index into one
// read-only question answering system.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scheme-qna/backend/internal/chunker"
	"github.com/scheme-qna/backend/internal/corpus"
	"github.com/scheme-qna/backend/internal/embedding"
	"github.com/scheme-qna/backend/internal/metrics"
	"github.com/scheme-qna/backend/internal/vector/flat"
	"github.com/scheme-qna/backend/pkg/logger"
)

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Build stages, reported in InitError.
const (
	StageLoad  = "load"
	StageChunk = "chunk"
	StageEmbed = "embed"
	StageIndex = "index"
)

const defaultEmbedBatchSize = 64

var (
	ErrEmptyCorpus  = errors.New("corpus produced no usable chunks")
	ErrAlreadyBuilt = errors.New("system has already been built")
)

// InitError is a failed build. Err is one of *corpus.CorpusError,
// ErrEmptyCorpus, *embedding.ModelLoadError, flat.ErrEmptyIndex or a
// context error.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("build failed at %s stage: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// AnswerGenerator produces a formatted answer. It never fails; problems are
// reported inside the returned text.
type AnswerGenerator interface {
	Generate(ctx context.Context, question, passages, backend string) string
}

type Options struct {
	Source    corpus.Source
	Embedder  embedding.Embedder
	Generator AnswerGenerator
	// BatchSize is how many chunks are embedded per call during Build.
	BatchSize int
}

// QueryResult is one retrieved chunk with its origin.
type QueryResult struct {
	Chunk    string           `json:"chunk"`
	Metadata chunker.Metadata `json:"metadata"`
	Distance float32          `json:"distance"`
}

// System is built once. After it reaches StateReady its chunks, metadata
// and index are never written again, so queries may run concurrently.
type System struct {
	source    corpus.Source
	embedder  embedding.Embedder
	generator AnswerGenerator
	batchSize int

	mu       sync.RWMutex
	state    State
	buildErr error
	builtAt  time.Time

	records  int
	chunks   []string
	metadata []chunker.Metadata
	index    *flat.Index
}

func NewSystem(opts Options) *System {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultEmbedBatchSize
	}
	return &System{
		source:    opts.Source,
		embedder:  opts.Embedder,
		generator: opts.Generator,
		batchSize: opts.BatchSize,
		state:     StateUninitialized,
	}
}

// New constructs and builds a system in one step.
func New(ctx context.Context, opts Options) (*System, error) {
	s := NewSystem(opts)
	if err := s.Build(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Build runs load, chunk, embed and index in order. Any failure leaves the
// system in StateFailed for good; a new System is needed to retry.
func (s *System) Build(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return ErrAlreadyBuilt
	}
	s.state = StateLoading
	s.mu.Unlock()

	start := time.Now()
	records, chunks, metadata, index, err := s.build(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = StateFailed
		s.buildErr = err

		stage := "unknown"
		var ierr *InitError
		if errors.As(err, &ierr) {
			stage = ierr.Stage
		}
		metrics.CorpusBuilds.WithLabelValues("failed_" + stage).Inc()
		logger.Error("RAG system build failed",
			zap.String("source", s.sourceName()),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return err
	}

	s.records = records
	s.chunks = chunks
	s.metadata = metadata
	s.index = index
	s.builtAt = time.Now()
	s.state = StateReady

	metrics.CorpusBuilds.WithLabelValues("ready").Inc()
	metrics.IndexedChunks.Set(float64(len(chunks)))
	logger.Info("RAG system ready",
		zap.String("source", s.sourceName()),
		zap.Int("records", records),
		zap.Int("chunks", len(chunks)),
		zap.Int("dimension", index.Dimension()),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (s *System) build(ctx context.Context) (int, []string, []chunker.Metadata, *flat.Index, error) {
	if s.source == nil {
		return 0, nil, nil, nil, &InitError{Stage: StageLoad, Err: &corpus.CorpusError{Reason: "no corpus source configured"}}
	}
	if s.embedder == nil {
		return 0, nil, nil, nil, &InitError{Stage: StageEmbed, Err: &embedding.ModelLoadError{Model: "none", Err: errors.New("no embedder configured")}}
	}

	records, err := corpus.Load(s.source)
	if err != nil {
		return 0, nil, nil, nil, &InitError{Stage: StageLoad, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, nil, nil, &InitError{Stage: StageLoad, Err: err}
	}

	chunks, metadata := chunker.Chunk(records)
	if len(chunks) == 0 {
		return 0, nil, nil, nil, &InitError{Stage: StageChunk, Err: ErrEmptyCorpus}
	}
	logger.Info("Corpus chunked",
		zap.Int("records", len(records)),
		zap.Int("chunks", len(chunks)),
	)

	vectors, err := s.embedAll(ctx, chunks)
	if err != nil {
		return 0, nil, nil, nil, &InitError{Stage: StageEmbed, Err: err}
	}

	index, err := flat.Build(vectors)
	if err != nil {
		return 0, nil, nil, nil, &InitError{Stage: StageIndex, Err: err}
	}

	return len(records), chunks, metadata, index, nil
}

func (s *System) embedAll(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))

	for startIdx := 0; startIdx < len(chunks); startIdx += s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(startIdx+s.batchSize, len(chunks))
		batch, err := s.embedder.EmbedBatch(ctx, chunks[startIdx:end])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var merr *embedding.ModelLoadError
			if errors.As(err, &merr) {
				return nil, err
			}
			return nil, &embedding.ModelLoadError{Model: s.embedder.ModelInfo(), Err: err}
		}
		if len(batch) != end-startIdx {
			return nil, &embedding.ModelLoadError{
				Model: s.embedder.ModelInfo(),
				Err:   fmt.Errorf("embedded %d of %d chunks", len(batch), end-startIdx),
			}
		}
		vectors = append(vectors, batch...)

		logger.Debug("Embedded chunk batch",
			zap.Int("from", startIdx),
			zap.Int("to", end),
			zap.Int("total", len(chunks)),
		)
	}

	return vectors, nil
}

// Retrieve returns up to topK chunks nearest to question, unfiltered. It
// never fails: a system that is not ready or a failed embedding yields an
// empty slice.
func (s *System) Retrieve(ctx context.Context, question string, topK int) []QueryResult {
	if topK < 1 {
		topK = 1
	}

	s.mu.RLock()
	state := s.state
	chunks, metadata, index := s.chunks, s.metadata, s.index
	s.mu.RUnlock()

	if state != StateReady {
		logger.Warn("Retrieve called on system that is not ready", zap.String("state", state.String()))
		return []QueryResult{}
	}

	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		logger.Error("Failed to embed question", zap.Error(err))
		return []QueryResult{}
	}

	ids, distances := index.Search(vec, topK)

	results := make([]QueryResult, 0, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(chunks) {
			logger.Warn("Index returned out-of-range chunk", zap.Int("index", id), zap.Int("chunks", len(chunks)))
			continue
		}
		results = append(results, QueryResult{
			Chunk:    chunks[id],
			Metadata: metadata[id],
			Distance: distances[i],
		})
	}

	metrics.RetrievalResults.Observe(float64(len(results)))
	logger.Info("Retrieved chunks",
		zap.Int("question_length", len(question)),
		zap.Int("top_k", topK),
		zap.Int("results", len(results)),
	)

	return results
}

// Generate delegates to the configured generator. backend may be empty to
// use the generator's default.
func (s *System) Generate(ctx context.Context, question, passages, backend string) string {
	if s.State() != StateReady {
		return "Error: could not generate answer: system is not ready"
	}
	if s.generator == nil {
		return "Error: could not generate answer: no generator configured"
	}
	return s.generator.Generate(ctx, question, passages, backend)
}

func (s *System) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err is the build error of a failed system.
func (s *System) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildErr
}

func (s *System) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// SchemeCount is the number of records loaded from the corpus.
func (s *System) SchemeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records
}

// Ministries lists the distinct known ministries in the corpus, sorted.
func (s *System) Ministries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(s.metadata))
	out := make([]string, 0)
	for _, m := range s.metadata {
		if m.Ministry == corpus.DefaultMinistry {
			continue
		}
		if _, ok := seen[m.Ministry]; ok {
			continue
		}
		seen[m.Ministry] = struct{}{}
		out = append(out, m.Ministry)
	}
	sort.Strings(out)
	return out
}

func (s *System) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Dimension()
}

func (s *System) Source() string {
	return s.sourceName()
}

func (s *System) BuiltAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builtAt
}

func (s *System) sourceName() string {
	if s.source == nil {
		return ""
	}
	return s.source.String()
}

const contextSeparator = "\n\n---\n\n"

// JoinContext concatenates retrieved chunks into the passage text handed to
// the generator.
func JoinContext(results []QueryResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Chunk
	}
	return strings.Join(parts, contextSeparator)
}
