package handlers

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scheme-qna/backend/internal/corpus"
	"github.com/scheme-qna/backend/internal/rag"
	"github.com/scheme-qna/backend/internal/storage/models"
	"github.com/scheme-qna/backend/pkg/logger"
)

// SystemFactory builds a new system from src with the process's embedder
// and generator.
type SystemFactory func(ctx context.Context, src corpus.Source) (*rag.System, error)

// BuildRecorder keeps an audit trail of corpus builds.
type BuildRecorder interface {
	RecordCorpusBuild(ctx context.Context, build *models.CorpusBuild) error
}

// BackendLister reports which generation backends can be chosen.
type BackendLister interface {
	Backends() []string
	DefaultBackend() string
}

type CorpusHandler struct {
	holder    *rag.Holder
	build     SystemFactory
	recorder  BuildRecorder
	backends  BackendLister
	embedding string
}

func NewCorpusHandler(holder *rag.Holder, build SystemFactory, recorder BuildRecorder, backends BackendLister, embeddingModel string) *CorpusHandler {
	return &CorpusHandler{
		holder:    holder,
		build:     build,
		recorder:  recorder,
		backends:  backends,
		embedding: embeddingModel,
	}
}

// UploadCorpus accepts a multipart "file" or a raw JSON body, builds a new
// system from it and swaps it in. On failure the current system stays.
func (h *CorpusHandler) UploadCorpus(c *fiber.Ctx) error {
	name, data, err := readUpload(c)
	if err != nil {
		logger.Error("Failed to read corpus upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded corpus",
		})
	}
	if len(data) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Corpus is empty",
		})
	}

	ctx := c.UserContext()
	sys, err := h.build(ctx, corpus.BytesSource(name, data))
	RecordBuild(ctx, h.recorder, name, sys, err)

	if err != nil {
		stage := "unknown"
		var ierr *rag.InitError
		if errors.As(err, &ierr) {
			stage = ierr.Stage
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   buildFailureMessage(stage),
			"stage":   stage,
			"details": err.Error(),
		})
	}

	h.holder.Replace(sys)
	logger.Info("Corpus replaced",
		zap.String("source", name),
		zap.Int("chunks", sys.ChunkCount()),
	)

	return c.JSON(h.statusOf(sys))
}

func (h *CorpusHandler) GetStatus(c *fiber.Ctx) error {
	sys := h.holder.Current()
	if sys == nil {
		return c.JSON(fiber.Map{
			"state":           rag.StateUninitialized.String(),
			"backends":        h.backends.Backends(),
			"default_backend": h.backends.DefaultBackend(),
		})
	}
	return c.JSON(h.statusOf(sys))
}

func (h *CorpusHandler) statusOf(sys *rag.System) fiber.Map {
	status := fiber.Map{
		"state":           sys.State().String(),
		"source":          sys.Source(),
		"chunk_count":     sys.ChunkCount(),
		"scheme_count":    sys.SchemeCount(),
		"ministries":      sys.Ministries(),
		"dimension":       sys.Dimension(),
		"embedding_model": h.embedding,
		"backends":        h.backends.Backends(),
		"default_backend": h.backends.DefaultBackend(),
	}
	if !sys.BuiltAt().IsZero() {
		status["built_at"] = sys.BuiltAt().Format(time.RFC3339)
	}
	if err := sys.Err(); err != nil {
		status["error"] = err.Error()
	}
	return status
}

func readUpload(c *fiber.Ctx) (string, []byte, error) {
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return "", nil, err
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return "", nil, err
		}
		return fh.Filename, data, nil
	}

	body := c.Body()
	data := make([]byte, len(body))
	copy(data, body)
	return "upload.json", data, nil
}

func buildFailureMessage(stage string) string {
	switch stage {
	case rag.StageLoad:
		return "The corpus could not be read. Upload a JSON array of {\"data\": {...}} objects."
	case rag.StageChunk:
		return "The corpus contains no usable schemes."
	case rag.StageEmbed:
		return "The embedding model is unavailable."
	case rag.StageIndex:
		return "The vector index could not be built."
	default:
		return "The knowledge base could not be built."
	}
}

// RecordBuild logs a build attempt to recorder. Recording failures are
// logged and otherwise ignored.
func RecordBuild(ctx context.Context, recorder BuildRecorder, source string, sys *rag.System, buildErr error) {
	if recorder == nil {
		return
	}

	build := &models.CorpusBuild{Source: source, Outcome: "ready"}
	if buildErr != nil {
		build.Outcome = "failed"
		build.Error = buildErr.Error()
		var ierr *rag.InitError
		if errors.As(buildErr, &ierr) {
			build.Stage = ierr.Stage
		}
	}
	if sys != nil {
		build.Records = sys.SchemeCount()
		build.Chunks = sys.ChunkCount()
	}

	if err := recorder.RecordCorpusBuild(ctx, build); err != nil {
		logger.Warn("Failed to record corpus build", zap.String("source", source), zap.Error(err))
	}
}
