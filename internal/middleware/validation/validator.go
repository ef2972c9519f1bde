package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LocalsQuestion is the c.Locals key holding the sanitized question.
const LocalsQuestion = "question"

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

var (
	ErrQuestionRequired = errors.New("question is required")
	ErrQuestionTooLong  = errors.New("question exceeds maximum length")
	ErrQuestionContent  = errors.New("invalid question content")
)

type Config struct {
	MaxQuestionLength int
	MaxCorpusSize     int
	// QuestionPaths are the route suffixes whose JSON body carries a
	// "question" field.
	QuestionPaths       []string
	CorpusPath          string
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 2000
	}
	if cfg.MaxCorpusSize == 0 {
		cfg.MaxCorpusSize = 50 * 1024 * 1024
	}
	if len(cfg.QuestionPaths) == 0 {
		cfg.QuestionPaths = []string{"/ask", "/retrieve", "/generate"}
	}
	if cfg.CorpusPath == "" {
		cfg.CorpusPath = "/corpus"
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedContentType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()

		if strings.HasSuffix(path, cfg.CorpusPath) {
			if len(c.Body()) > cfg.MaxCorpusSize {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Corpus exceeds maximum size",
				})
			}
			return c.Next()
		}

		if !hasAnySuffix(path, cfg.QuestionPaths) {
			return c.Next()
		}

		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		raw, ok := req["question"].(string)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question is required and must be a string",
			})
		}

		question, err := CheckQuestion(raw, cfg.MaxQuestionLength)
		switch {
		case errors.Is(err, ErrQuestionRequired):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question is required and must be a string",
			})
		case errors.Is(err, ErrQuestionTooLong):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question exceeds maximum length",
			})
		case errors.Is(err, ErrQuestionContent):
			cfg.Logger.Warn("Potential XSS attempt",
				zap.String("ip", c.IP()),
				zap.Int("question_length", len(raw)),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid question content",
			})
		}

		c.Locals(LocalsQuestion, question)
		return c.Next()
	}
}

func allowedContentType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func hasAnySuffix(path string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

// CheckQuestion sanitizes a question and applies the rules every entry
// point shares. maxLen <= 0 disables the length check.
func CheckQuestion(raw string, maxLen int) (string, error) {
	question := sanitizeString(raw)
	if question == "" {
		return "", ErrQuestionRequired
	}
	if maxLen > 0 && utf8.RuneCountInString(question) > maxLen {
		return "", ErrQuestionTooLong
	}
	if ContainsXSS(question) {
		return "", ErrQuestionContent
	}
	return question, nil
}

func ContainsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
