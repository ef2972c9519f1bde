package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scheme-qna/backend/internal/middleware/validation"
	"github.com/scheme-qna/backend/internal/rag"
	"github.com/scheme-qna/backend/internal/session"
	"github.com/scheme-qna/backend/pkg/logger"
)

// SessionHeader carries the session ID when the body does not.
const SessionHeader = "X-Session-ID"

type QueryHandler struct {
	holder      *rag.Holder
	sessions    *session.Registry
	defaultTopK int
}

func NewQueryHandler(holder *rag.Holder, sessions *session.Registry, defaultTopK int) *QueryHandler {
	if defaultTopK < 1 {
		defaultTopK = 3
	}
	return &QueryHandler{
		holder:      holder,
		sessions:    sessions,
		defaultTopK: defaultTopK,
	}
}

type askRequest struct {
	Question  string `json:"question"`
	TopK      int    `json:"top_k"`
	Ministry  string `json:"ministry"`
	Backend   string `json:"backend"`
	SessionID string `json:"session_id"`
}

type retrieveRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type generateRequest struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	Backend  string `json:"backend"`
}

type feedbackRequest struct {
	SessionID string `json:"session_id"`
	EntryID   string `json:"entry_id"`
	Helpful   *bool  `json:"helpful"`
}

func (h *QueryHandler) HandleAsk(c *fiber.Ctx) error {
	var req askRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	sys, ok := readySystem(h.holder)
	if !ok {
		return notReady(c, sys)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = c.Get(SessionHeader)
	}
	sess := h.sessions.GetOrCreate(sessionID)
	if req.Ministry != "" {
		sess.SetMinistry(req.Ministry)
	}
	if req.Backend != "" {
		sess.SetBackend(req.Backend)
	}

	entry, err := sess.Ask(c.UserContext(), sys, question(c, req.Question), h.topK(req.TopK))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	return c.JSON(entry)
}

func (h *QueryHandler) HandleRetrieve(c *fiber.Ctx) error {
	var req retrieveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	q := question(c, req.Question)
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	sys, ok := readySystem(h.holder)
	if !ok {
		return notReady(c, sys)
	}

	results := sys.Retrieve(c.UserContext(), q, h.topK(req.TopK))
	return c.JSON(fiber.Map{
		"question": q,
		"results":  results,
	})
}

func (h *QueryHandler) HandleGenerate(c *fiber.Ctx) error {
	var req generateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	q := question(c, req.Question)
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	sys, ok := readySystem(h.holder)
	if !ok {
		return notReady(c, sys)
	}

	return c.JSON(fiber.Map{
		"answer": sys.Generate(c.UserContext(), q, req.Context, req.Backend),
	})
}

func (h *QueryHandler) GetHistory(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session id is required",
		})
	}

	history, err := h.sessions.History(c.UserContext(), sessionID, c.QueryInt("limit", session.DefaultHistoryLimit))
	if err != nil {
		logger.Error("Failed to load history", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"history":    history,
	})
}

func (h *QueryHandler) HandleFeedback(c *fiber.Ctx) error {
	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.SessionID == "" || req.EntryID == "" || req.Helpful == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id, entry_id and helpful are required",
		})
	}

	err := h.sessions.Feedback(c.UserContext(), req.SessionID, req.EntryID, *req.Helpful)
	if errors.Is(err, session.ErrEntryNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "History entry not found",
		})
	}
	if err != nil {
		logger.Error("Failed to record feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record feedback",
		})
	}

	message := "Thanks for your feedback!"
	if !*req.Helpful {
		message = "We'll use this to improve."
	}
	return c.JSON(fiber.Map{
		"message": message,
	})
}

func readySystem(holder *rag.Holder) (*rag.System, bool) {
	sys := holder.Current()
	return sys, sys != nil && sys.State() == rag.StateReady
}

func notReady(c *fiber.Ctx, sys *rag.System) error {
	state := rag.StateUninitialized
	if sys != nil {
		state = sys.State()
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "Knowledge base is not ready",
		"state": state.String(),
	})
}

func (h *QueryHandler) topK(requested int) int {
	if requested < 1 {
		return h.defaultTopK
	}
	return requested
}

// question prefers the value sanitized by the validation middleware.
func question(c *fiber.Ctx, fromBody string) string {
	if q, ok := c.Locals(validation.LocalsQuestion).(string); ok && q != "" {
		return q
	}
	return strings.TrimSpace(fromBody)
}
