package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/scheme-qna/backend/internal/middleware/validation"
	"github.com/scheme-qna/backend/internal/rag"
	"github.com/scheme-qna/backend/internal/session"
	"github.com/scheme-qna/backend/pkg/logger"
)

type WebSocketHandler struct {
	holder         *rag.Holder
	sessions       *session.Registry
	defaultTopK    int
	maxQuestionLen int
}

type wsMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	Ministry  string `json:"ministry"`
	Backend   string `json:"backend"`
	TopK      int    `json:"top_k"`
}

func NewWebSocketHandler(holder *rag.Holder, sessions *session.Registry, defaultTopK, maxQuestionLen int) *WebSocketHandler {
	if defaultTopK < 1 {
		defaultTopK = 3
	}
	return &WebSocketHandler{
		holder:         holder,
		sessions:       sessions,
		defaultTopK:    defaultTopK,
		maxQuestionLen: maxQuestionLen,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		if err := h.streamAnswer(c, msg); err != nil {
			logger.Error("Failed to stream answer", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, msg wsMessage) error {
	question, problem := h.checkQuestion(msg.Content)
	if problem != "" {
		return h.sendError(c, problem)
	}

	sys, ok := readySystem(h.holder)
	if !ok {
		return h.sendError(c, "Knowledge base is not ready")
	}

	sess := h.sessions.GetOrCreate(msg.SessionID)
	if msg.Ministry != "" {
		sess.SetMinistry(msg.Ministry)
	}
	if msg.Backend != "" {
		sess.SetBackend(msg.Backend)
	}

	topK := msg.TopK
	if topK < 1 {
		topK = h.defaultTopK
	}

	if err := h.sendChunk(c, "status", "Thinking using "+sess.Backend()+"..."); err != nil {
		return err
	}

	entry, err := sess.Ask(context.Background(), sys, question, topK)
	if err != nil {
		return h.sendError(c, "Question is required")
	}

	words := splitIntoWords(entry.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" && words[i+1] != "\n" {
			chunk += " "
		}
		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, entry)
}

// checkQuestion applies the same rules as the REST validation middleware.
// A non-empty problem is the message to send back instead of an answer.
func (h *WebSocketHandler) checkQuestion(content string) (question, problem string) {
	question, err := validation.CheckQuestion(content, h.maxQuestionLen)
	switch {
	case err == nil:
		return question, ""
	case errors.Is(err, validation.ErrQuestionTooLong):
		return "", "Question exceeds maximum length"
	case errors.Is(err, validation.ErrQuestionContent):
		logger.Warn("Potential XSS attempt over websocket", zap.Int("question_length", len(content)))
		return "", "Invalid question content"
	default:
		return "", "Question is required"
	}
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, entry *session.HistoryEntry) error {
	return c.WriteJSON(map[string]interface{}{
		"type":            "complete",
		"entry_id":        entry.ID,
		"session_id":      entry.SessionID,
		"backend":         entry.Backend,
		"sources":         entry.Sources,
		"filter_fallback": entry.FilterFallback,
		"latency_ms":      entry.LatencyMS,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

// splitIntoWords splits on spaces and keeps each newline as its own token so
// the client can rebuild markdown line breaks.
func splitIntoWords(text string) []string {
	words := []string{}
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch r {
		case ' ':
			flush()
		case '\n':
			flush()
			words = append(words, "\n")
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return words
}
