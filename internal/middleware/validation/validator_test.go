package validation

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxQuestionLength: 20, MaxCorpusSize: 16}))
	app.Post("/api/v1/ask", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(LocalsQuestion).(string))
	})
	app.Post("/api/v1/corpus", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func post(t *testing.T, app *fiber.App, path, contentType, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestQuestionValidation(t *testing.T) {
	app := newApp()

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"question":"  who is eligible?  "}`, fiber.StatusOK},
		{"missing", `{"top_k":3}`, fiber.StatusBadRequest},
		{"blank", `{"question":"   "}`, fiber.StatusBadRequest},
		{"not a string", `{"question":42}`, fiber.StatusBadRequest},
		{"too long", `{"question":"` + strings.Repeat("a", 21) + `"}`, fiber.StatusBadRequest},
		{"xss", `{"question":"<script>x"}`, fiber.StatusBadRequest},
		{"sql words are fine", `{"question":"update my Aadhaar"}`, fiber.StatusOK},
		{"bad json", `{`, fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := post(t, app, "/api/v1/ask", "application/json", tt.body)
			assert.Equal(t, tt.status, status)
		})
	}

	_, body := post(t, app, "/api/v1/ask", "application/json", `{"question":"  who is eligible?  "}`)
	assert.Equal(t, "who is eligible?", body)
}

func TestContentTypeAndCorpusSize(t *testing.T) {
	app := newApp()

	status, _ := post(t, app, "/api/v1/ask", "text/plain", `question`)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, status)

	status, _ = post(t, app, "/api/v1/corpus", "application/json", `[]`)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = post(t, app, "/api/v1/corpus", "application/json", `[`+strings.Repeat(" ", 32)+`]`)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, status)
}

func TestCheckQuestion(t *testing.T) {
	q, err := CheckQuestion(" \x00 pension for farmers ", 0)
	require.NoError(t, err)
	assert.Equal(t, "pension for farmers", q)

	_, err = CheckQuestion("  ", 10)
	assert.ErrorIs(t, err, ErrQuestionRequired)

	_, err = CheckQuestion("योजना के लाभ क्या हैं?", 5)
	assert.ErrorIs(t, err, ErrQuestionTooLong)

	_, err = CheckQuestion(`<img src=x onerror=alert(1)>`, 0)
	assert.ErrorIs(t, err, ErrQuestionContent)
}
