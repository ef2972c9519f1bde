package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/scheme-qna/backend/internal/api/handlers"
	"github.com/scheme-qna/backend/internal/cache/redis"
	"github.com/scheme-qna/backend/internal/corpus"
	"github.com/scheme-qna/backend/internal/embedding"
	"github.com/scheme-qna/backend/internal/generation"
	"github.com/scheme-qna/backend/internal/metrics"
	"github.com/scheme-qna/backend/internal/middleware/ratelimit"
	"github.com/scheme-qna/backend/internal/middleware/security"
	"github.com/scheme-qna/backend/internal/middleware/validation"
	"github.com/scheme-qna/backend/internal/rag"
	"github.com/scheme-qna/backend/internal/session"
	"github.com/scheme-qna/backend/internal/storage/sqlite"
	"github.com/scheme-qna/backend/pkg/circuitbreaker"
	"github.com/scheme-qna/backend/pkg/config"
	appLogger "github.com/scheme-qna/backend/pkg/logger"
	"github.com/scheme-qna/backend/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Government Scheme QnA API Server")

	metrics.Init()

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			appLogger.Fatal("Failed to create data directory", zap.Error(err))
		}
	}

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	embedder, closeCache, err := newEmbedder(cfg)
	if err != nil {
		appLogger.Fatal("Failed to create embedder", zap.Error(err))
	}
	defer closeCache()

	generator := newGenerator(context.Background(), cfg)

	factory := func(ctx context.Context, src corpus.Source) (*rag.System, error) {
		return rag.New(ctx, rag.Options{
			Source:    src,
			Embedder:  embedder,
			Generator: generator,
		})
	}

	holder := rag.NewHolder(nil)
	initial, err := factory(context.Background(), corpus.FileSource(cfg.Corpus.Path))
	handlers.RecordBuild(context.Background(), sqliteClient, cfg.Corpus.Path, initial, err)
	if err != nil {
		appLogger.Error("Initial corpus build failed; upload a corpus to continue",
			zap.String("path", cfg.Corpus.Path),
			zap.Error(err),
		)
	}
	holder.Replace(initial)

	sessions := session.NewRegistry(session.NewSQLiteStore(sqliteClient), generator.DefaultBackend())
	defer sessions.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ", ")
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, " + handlers.SessionHeader,
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.IsDevelopment,
	}))

	queryHandler := handlers.NewQueryHandler(holder, sessions, cfg.Retrieval.TopK)
	corpusHandler := handlers.NewCorpusHandler(holder, factory, sqliteClient, generator, embedder.ModelInfo())
	statsHandler := handlers.NewStatsHandler(sqliteClient)
	wsHandler := handlers.NewWebSocketHandler(holder, sessions, cfg.Retrieval.TopK, cfg.Server.MaxQuestionLen)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		MaxQuestionLength: cfg.Server.MaxQuestionLen,
		MaxCorpusSize:     cfg.Server.BodyLimit,
		Logger:            appLogger.Named("validation"),
	}))

	api.Post("/ask", queryHandler.HandleAsk)
	api.Post("/retrieve", queryHandler.HandleRetrieve)
	api.Post("/generate", queryHandler.HandleGenerate)
	api.Get("/sessions/:id/history", queryHandler.GetHistory)
	api.Post("/feedback", queryHandler.HandleFeedback)

	api.Get("/status", corpusHandler.GetStatus)
	api.Post("/corpus", corpusHandler.UploadCorpus)
	api.Get("/stats", statsHandler.GetStats)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		sys := holder.Current()
		if sys == nil || sys.State() != rag.StateReady {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// newEmbedder returns the configured embedder, wrapped in the Redis cache
// when enabled. The returned func releases the cache connection.
func newEmbedder(cfg *config.Config) (embedding.Embedder, func(), error) {
	var (
		inner embedding.Embedder
		err   error
	)

	switch cfg.Embedding.Provider {
	case "openai":
		inner, err = embedding.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.Model)
	case "", "hashing":
		inner, err = embedding.NewHashingEmbedder(cfg.Embedding.Dimension)
	default:
		err = fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	if err != nil {
		return nil, func() {}, err
	}

	if !cfg.Redis.Enabled {
		return inner, func() {}, nil
	}

	cache, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, embedding without cache", zap.Error(err))
		return inner, func() {}, nil
	}

	ttl := time.Duration(cfg.Embedding.CacheTTLSec) * time.Second
	return embedding.NewCachedEmbedder(inner, cache, ttl), func() { cache.Close() }, nil
}

// newGenerator registers every backend whose credentials are configured.
// Missing credentials leave the backend unregistered so asking for it
// yields an "unavailable" answer instead of a startup failure.
func newGenerator(ctx context.Context, cfg *config.Config) *generation.Generator {
	gc := cfg.Generation
	timeout := time.Duration(gc.TimeoutSec) * time.Second

	gen := generation.NewGenerator(generation.Options{
		DefaultBackend: gc.Backend,
		Params: generation.Params{
			MaxOutputLength: gc.MaxOutputLength,
			Temperature:     gc.Temperature,
		},
		Timeout: timeout,
		Retry: retry.Config{
			MaxAttempts:    gc.RetryAttempts,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         appLogger.Named("generation.retry"),
		},
		Breaker: circuitbreaker.Config{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Logger:           appLogger.Named("generation.breaker"),
		},
	})

	register := func(b generation.Backend, err error) {
		if err != nil {
			appLogger.Warn("Generation backend not configured", zap.Error(err))
			return
		}
		gen.Register(b)
	}

	register(generation.NewHuggingFace(gc.HuggingFace.Token, gc.HuggingFace.Model, gc.HuggingFace.Endpoint, timeout))
	register(generation.NewOpenAI(gc.OpenAI.APIKey, gc.OpenAI.Model, gc.OpenAI.BaseURL))
	register(generation.NewGemini(ctx, gc.Gemini.APIKey, gc.Gemini.Model))
	register(generation.NewAnthropic(gc.Anthropic.APIKey, gc.Anthropic.Model))

	return gen
}
