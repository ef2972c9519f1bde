package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scheme-qna/backend/internal/corpus"
	"github.com/scheme-qna/backend/internal/embedding"
	"github.com/scheme-qna/backend/internal/vector/flat"
)

const janDhanCorpus = `[{"data": {"scheme_name": "Jan Dhan Yojana", "ministry": "Finance", "eligibility_content": ["Indian citizen", "age 18+"]}}]`

const mixedCorpus = `[
  {"data": {"scheme_name": "Jan Dhan Yojana", "ministry": "Finance", "department": "Financial Services",
            "details_content": ["Zero balance bank accounts for every household"],
            "eligibility_content": ["Indian citizen", "age 18+"]}},
  {"data": {"scheme_name": "PM Kisan", "ministry": "Agriculture",
            "details_content": ["Income support of 6000 rupees per year to farmer families"],
            "eligibility_content": ["Small and marginal farmers owning cultivable land"]}},
  {"data": {"scheme_name": "Ayushman Bharat", "ministry": "Health",
            "details_content": ["Health insurance cover for hospital admission"],
            "application_process": ["Visit an empanelled hospital", "Show your e-card"]}}
]`

type fakeGenerator struct {
	mu       sync.Mutex
	question string
	passages string
	backend  string
}

func (f *fakeGenerator) Generate(ctx context.Context, question, passages, backend string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.question, f.passages, f.backend = question, passages, backend
	return "answer"
}

type failingEmbedder struct {
	embedding.Embedder
}

func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("model weights missing")
}

func (failingEmbedder) ModelInfo() string { return "broken" }

func newHashing(t *testing.T) embedding.Embedder {
	t.Helper()
	e, err := embedding.NewHashingEmbedder(256)
	require.NoError(t, err)
	return e
}

func TestJanDhanEndToEnd(t *testing.T) {
	sys, err := New(context.Background(), Options{
		Source:   corpus.BytesSource("jandhan.json", []byte(janDhanCorpus)),
		Embedder: newHashing(t),
	})
	require.NoError(t, err)
	require.Equal(t, StateReady, sys.State())

	require.Equal(t, 1, sys.ChunkCount())
	assert.Equal(t, 1, sys.SchemeCount())

	results := sys.Retrieve(context.Background(), "who is eligible for Jan Dhan Yojana", 1)
	require.Len(t, results, 1)

	assert.Contains(t, results[0].Chunk, "Scheme: Jan Dhan Yojana")
	assert.Contains(t, results[0].Chunk, "Indian citizen")
	assert.Contains(t, results[0].Chunk, "age 18+")
	assert.Equal(t, "Finance", results[0].Metadata.Ministry)
}

func TestEmptyCorpus(t *testing.T) {
	sys, err := New(context.Background(), Options{
		Source:   corpus.BytesSource("empty.json", []byte(`[]`)),
		Embedder: newHashing(t),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyCorpus)

	var ierr *InitError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, StageChunk, ierr.Stage)

	assert.Equal(t, StateFailed, sys.State())
	assert.Zero(t, sys.ChunkCount())
	assert.Zero(t, sys.Dimension())
	assert.Empty(t, sys.Retrieve(context.Background(), "anything", 3))
}

func TestBuild_CorpusError(t *testing.T) {
	_, err := New(context.Background(), Options{
		Source:   corpus.BytesSource("bad.json", []byte(`{"not": "an array"}`)),
		Embedder: newHashing(t),
	})

	var cerr *corpus.CorpusError
	require.ErrorAs(t, err, &cerr)

	var ierr *InitError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, StageLoad, ierr.Stage)
}

func TestBuild_MissingFile(t *testing.T) {
	_, err := New(context.Background(), Options{
		Source:   corpus.FileSource("/nonexistent/scheme_data.json"),
		Embedder: newHashing(t),
	})

	var cerr *corpus.CorpusError
	assert.ErrorAs(t, err, &cerr)
}

func TestBuild_EmbedderFailureIsModelLoadError(t *testing.T) {
	sys, err := New(context.Background(), Options{
		Source:   corpus.BytesSource("jandhan.json", []byte(janDhanCorpus)),
		Embedder: failingEmbedder{},
	})

	var merr *embedding.ModelLoadError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "broken", merr.Model)
	assert.Equal(t, StateFailed, sys.State())
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ctx, Options{
		Source:   corpus.BytesSource("mixed.json", []byte(mixedCorpus)),
		Embedder: newHashing(t),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_OnlyOnce(t *testing.T) {
	sys, err := New(context.Background(), Options{
		Source:   corpus.BytesSource("jandhan.json", []byte(janDhanCorpus)),
		Embedder: newHashing(t),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, sys.Build(context.Background()), ErrAlreadyBuilt)
	assert.Equal(t, StateReady, sys.State())
}

func TestStateTransitions(t *testing.T) {
	sys := NewSystem(Options{
		Source:   corpus.BytesSource("jandhan.json", []byte(janDhanCorpus)),
		Embedder: newHashing(t),
	})
	assert.Equal(t, StateUninitialized, sys.State())
	assert.Empty(t, sys.Retrieve(context.Background(), "Jan Dhan", 1))

	require.NoError(t, sys.Build(context.Background()))
	assert.Equal(t, StateReady, sys.State())
	assert.False(t, sys.BuiltAt().IsZero())
}

func TestRetrieve_SelfRetrievalAndBounds(t *testing.T) {
	sys, err := New(context.Background(), Options{
		Source:    corpus.BytesSource("mixed.json", []byte(mixedCorpus)),
		Embedder:  newHashing(t),
		BatchSize: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 3, sys.ChunkCount())
	assert.Equal(t, 256, sys.Dimension())

	for _, q := range []string{"Jan Dhan Yojana", "PM Kisan", "Ayushman Bharat"} {
		results := sys.Retrieve(context.Background(), q, 1)
		require.Len(t, results, 1)
		assert.Equal(t, q, results[0].Metadata.SchemeName)
	}

	assert.Len(t, sys.Retrieve(context.Background(), "farmer income support", 10), 3)
	assert.Len(t, sys.Retrieve(context.Background(), "farmer income support", 0), 1)

	results := sys.Retrieve(context.Background(), "farmers owning cultivable land", 3)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
	assert.Equal(t, "Agriculture", results[0].Metadata.Ministry)
}

func TestRetrieve_SkipsOutOfRangeIndices(t *testing.T) {
	sys, err := New(context.Background(), Options{
		Source:   corpus.BytesSource("jandhan.json", []byte(janDhanCorpus)),
		Embedder: newHashing(t),
	})
	require.NoError(t, err)

	// An index holding more rows than there are chunks.
	extra, err := flat.Build([][]float32{make([]float32, 256), make([]float32, 256)})
	require.NoError(t, err)
	sys.mu.Lock()
	sys.index = extra
	sys.mu.Unlock()

	results := sys.Retrieve(context.Background(), "Jan Dhan", 2)
	assert.Len(t, results, 1)
}

func TestMinistriesAndContext(t *testing.T) {
	sys, err := New(context.Background(), Options{
		Source:   corpus.BytesSource("mixed.json", []byte(mixedCorpus)),
		Embedder: newHashing(t),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Agriculture", "Finance", "Health"}, sys.Ministries())
	assert.Equal(t, "mixed.json", sys.Source())

	results := sys.Retrieve(context.Background(), "health insurance", 2)
	joined := JoinContext(results)
	assert.Equal(t, len(results)-1, strings.Count(joined, contextSeparator))
}

func TestGenerate_Delegates(t *testing.T) {
	gen := &fakeGenerator{}
	sys, err := New(context.Background(), Options{
		Source:    corpus.BytesSource("jandhan.json", []byte(janDhanCorpus)),
		Embedder:  newHashing(t),
		Generator: gen,
	})
	require.NoError(t, err)

	answer := sys.Generate(context.Background(), "Who is eligible?", "ctx", "openai")
	assert.Equal(t, "answer", answer)
	assert.Equal(t, "Who is eligible?", gen.question)
	assert.Equal(t, "openai", gen.backend)

	failed := NewSystem(Options{Generator: gen})
	assert.Contains(t, failed.Generate(context.Background(), "q", "c", ""), "Error")
}

func TestHolder(t *testing.T) {
	h := NewHolder(nil)
	assert.Nil(t, h.Current())

	first := NewSystem(Options{})
	assert.Nil(t, h.Replace(first))
	assert.Same(t, first, h.Current())

	second := NewSystem(Options{})
	assert.Same(t, first, h.Replace(second))
	assert.Same(t, second, h.Current())
}

func TestInitError_Message(t *testing.T) {
	err := &InitError{Stage: StageEmbed, Err: fmt.Errorf("boom")}
	assert.Equal(t, "build failed at embed stage: boom", err.Error())
}
