package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scheme-qna/backend/internal/storage/models"
	"github.com/scheme-qna/backend/pkg/logger"
)

const defaultBuildsLimit = 10

// StatsSource exposes aggregate feedback and the corpus build audit trail.
type StatsSource interface {
	FeedbackSummary(ctx context.Context) (models.FeedbackSummary, error)
	RecentCorpusBuilds(ctx context.Context, limit int) ([]models.CorpusBuild, error)
}

type StatsHandler struct {
	source StatsSource
}

func NewStatsHandler(source StatsSource) *StatsHandler {
	return &StatsHandler{source: source}
}

func (h *StatsHandler) GetStats(c *fiber.Ctx) error {
	limit := c.QueryInt("builds", defaultBuildsLimit)
	if limit <= 0 {
		limit = defaultBuildsLimit
	}

	summary, err := h.source.FeedbackSummary(c.UserContext())
	if err != nil {
		logger.Error("Failed to load feedback summary", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load stats",
		})
	}

	builds, err := h.source.RecentCorpusBuilds(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to load corpus builds", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load stats",
		})
	}
	if builds == nil {
		builds = []models.CorpusBuild{}
	}

	return c.JSON(fiber.Map{
		"feedback": fiber.Map{
			"helpful":     summary.Helpful,
			"not_helpful": summary.NotHelpful,
		},
		"corpus_builds": builds,
	})
}
