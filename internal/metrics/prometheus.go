package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheme_qna_query_duration_seconds",
			Help:    "End-to-end ask duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheme_qna_query_total",
			Help: "Total number of questions answered",
		},
		[]string{"status"},
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheme_qna_retrieval_results",
			Help:    "Number of chunks returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	MinistryFilterFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheme_qna_ministry_filter_fallbacks_total",
			Help: "Ministry filters that matched nothing and fell back to unfiltered results",
		},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheme_qna_generation_duration_seconds",
			Help:    "Generation backend call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)

	GenerationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheme_qna_generation_failures_total",
			Help: "Generation calls that degraded to a placeholder answer",
		},
		[]string{"backend"},
	)

	// GenerationCircuitState is 0 closed, 1 half-open, 2 open.
	GenerationCircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheme_qna_generation_circuit_state",
			Help: "Circuit breaker state per generation backend",
		},
		[]string{"backend"},
	)

	CorpusBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheme_qna_corpus_builds_total",
			Help: "RAG system builds by outcome and failing stage",
		},
		[]string{"outcome"},
	)

	IndexedChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheme_qna_indexed_chunks",
			Help: "Chunks in the active vector index",
		},
	)

	EmbeddingCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheme_qna_embedding_cache_hits_total",
			Help: "Embedding cache hits",
		},
	)

	EmbeddingCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheme_qna_embedding_cache_misses_total",
			Help: "Embedding cache misses",
		},
	)

	Feedback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheme_qna_feedback_total",
			Help: "User feedback on answers",
		},
		[]string{"helpful"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			RetrievalResults,
			MinistryFilterFallbacks,
			GenerationDuration,
			GenerationFailures,
			GenerationCircuitState,
			CorpusBuilds,
			IndexedChunks,
			EmbeddingCacheHits,
			EmbeddingCacheMisses,
			Feedback,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
