package generation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scheme-qna/backend/internal/metrics"
	"github.com/scheme-qna/backend/pkg/circuitbreaker"
	"github.com/scheme-qna/backend/pkg/logger"
	"github.com/scheme-qna/backend/pkg/retry"
)

type Options struct {
	DefaultBackend string
	Params         Params
	Timeout        time.Duration
	Retry          retry.Config
	Breaker        circuitbreaker.Config
}

// Generator owns the registered backends. Generate always returns text:
// any backend failure becomes a placeholder answer.
type Generator struct {
	mu             sync.RWMutex
	backends       map[string]Backend
	breakers       map[string]*circuitbreaker.CircuitBreaker
	defaultBackend string
	params         Params
	timeout        time.Duration
	retryConfig    retry.Config
	breakerConfig  circuitbreaker.Config
}

func NewGenerator(opts Options, backends ...Backend) *Generator {
	if opts.DefaultBackend == "" {
		opts.DefaultBackend = BackendHuggingFace
	}
	if opts.Params.MaxOutputLength <= 0 {
		opts.Params.MaxOutputLength = 450
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = logger.GetLogger()
	}
	if opts.Breaker.Logger == nil {
		opts.Breaker.Logger = logger.GetLogger()
	}
	if opts.Breaker.OnStateChange == nil {
		opts.Breaker.OnStateChange = recordCircuitState
	}

	g := &Generator{
		backends:       make(map[string]Backend),
		breakers:       make(map[string]*circuitbreaker.CircuitBreaker),
		defaultBackend: opts.DefaultBackend,
		params:         opts.Params,
		timeout:        opts.Timeout,
		retryConfig:    opts.Retry,
		breakerConfig:  opts.Breaker,
	}
	for _, b := range backends {
		g.Register(b)
	}
	return g
}

// Register adds or replaces a backend under its Name.
func (g *Generator) Register(b Backend) {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := b.Name()
	g.backends[name] = b
	g.breakers[name] = circuitbreaker.New(name, g.breakerConfig)
	metrics.GenerationCircuitState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))

	logger.Info("Generation backend registered", zap.String("backend", name))
}

// Backends lists registered backend names, sorted.
func (g *Generator) Backends() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.backends))
	for name := range g.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Generator) DefaultBackend() string {
	return g.defaultBackend
}

func (g *Generator) lookup(name string) (Backend, *circuitbreaker.CircuitBreaker, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	b, ok := g.backends[name]
	return b, g.breakers[name], ok
}

// Generate answers question from the retrieved passages using the named
// backend, or the default backend when name is empty.
func (g *Generator) Generate(ctx context.Context, question, passages, name string) (answer string) {
	if name == "" {
		name = g.defaultBackend
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Generation backend panicked",
				zap.String("backend", name),
				zap.Any("panic", r),
			)
			metrics.GenerationFailures.WithLabelValues(name).Inc()
			answer = failurePlaceholder(name, fmt.Sprintf("%v", r))
		}
	}()

	backend, breaker, ok := g.lookup(name)
	if !ok {
		logger.Warn("Generation backend unavailable", zap.String("backend", name))
		metrics.GenerationFailures.WithLabelValues(name).Inc()
		return unavailablePlaceholder(name)
	}

	prompt := BuildPrompt(question, passages)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	var text string
	err := breaker.Execute(callCtx, func() error {
		var err error
		text, err = retry.DoWithResult(callCtx, g.retryConfig, func() (string, error) {
			return backend.Generate(callCtx, prompt, g.params)
		})
		return err
	})
	elapsed := time.Since(start)
	metrics.GenerationDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		logger.Error("Answer generation failed",
			zap.String("backend", name),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		metrics.GenerationFailures.WithLabelValues(name).Inc()
		return failurePlaceholder(name, err.Error())
	}

	logger.Info("Answer generated",
		zap.String("backend", name),
		zap.Int("question_length", len(question)),
		zap.Int("answer_length", len(text)),
		zap.Duration("duration", elapsed),
	)

	if strings.TrimSpace(text) == "" {
		return emptyPlaceholder(name)
	}
	return FormatAnswer(strings.TrimSpace(text))
}

func recordCircuitState(backend string, _, to circuitbreaker.State) {
	metrics.GenerationCircuitState.WithLabelValues(backend).Set(float64(to))
}

func failurePlaceholder(backend, detail string) string {
	return fmt.Sprintf("Error: could not generate answer using %s: %s", backend, detail)
}

func unavailablePlaceholder(backend string) string {
	return fmt.Sprintf("Error: %s backend unavailable (check credentials)", backend)
}

func emptyPlaceholder(backend string) string {
	return fmt.Sprintf("No answer returned by %s.", backend)
}
