package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scheme-qna/backend/internal/corpus"
	"github.com/scheme-qna/backend/internal/embedding"
	"github.com/scheme-qna/backend/internal/generation"
	"github.com/scheme-qna/backend/internal/middleware/validation"
	"github.com/scheme-qna/backend/internal/rag"
	"github.com/scheme-qna/backend/internal/session"
)

const testCorpus = `[
  {"data": {"scheme_name": "Jan Dhan Yojana", "ministry": "Finance",
            "eligibility_content": ["Indian citizen", "age 18+"]}},
  {"data": {"scheme_name": "PM Kisan", "ministry": "Agriculture",
            "details_content": ["Income support to farmer families"]}}
]`

type echoBackend struct{}

func (echoBackend) Name() string { return "echo" }

func (echoBackend) Generate(ctx context.Context, prompt string, params generation.Params) (string, error) {
	return "Scheme Name: Jan Dhan Yojana\nWebsite Link: https://pmjdy.gov.in", nil
}

type testEnv struct {
	app    *fiber.App
	holder *rag.Holder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	embedder, err := embedding.NewHashingEmbedder(128)
	require.NoError(t, err)
	gen := generation.NewGenerator(generation.Options{DefaultBackend: "echo"}, echoBackend{})

	factory := func(ctx context.Context, src corpus.Source) (*rag.System, error) {
		return rag.New(ctx, rag.Options{Source: src, Embedder: embedder, Generator: gen})
	}

	holder := rag.NewHolder(nil)
	sessions := session.NewRegistry(nil, gen.DefaultBackend())
	t.Cleanup(sessions.Stop)

	queryHandler := NewQueryHandler(holder, sessions, 3)
	corpusHandler := NewCorpusHandler(holder, factory, nil, gen, embedder.ModelInfo())

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Use(validation.Middleware(validation.Config{}))
	api.Post("/ask", queryHandler.HandleAsk)
	api.Post("/retrieve", queryHandler.HandleRetrieve)
	api.Post("/generate", queryHandler.HandleGenerate)
	api.Get("/sessions/:id/history", queryHandler.GetHistory)
	api.Post("/feedback", queryHandler.HandleFeedback)
	api.Get("/status", corpusHandler.GetStatus)
	api.Post("/corpus", corpusHandler.UploadCorpus)

	return &testEnv{app: app, holder: holder}
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body []byte) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (e *testEnv) postJSON(t *testing.T, path string, v interface{}) (int, map[string]interface{}) {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return e.do(t, "POST", path, "application/json", body)
}

func TestNotReady(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "GET", "/api/v1/status", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "uninitialized", body["state"])
	assert.Equal(t, []interface{}{"echo"}, body["backends"])

	status, body = env.postJSON(t, "/api/v1/ask", map[string]string{"question": "who is eligible?"})
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "uninitialized", body["state"])
}

func TestCorpusUploadAndAsk(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "POST", "/api/v1/corpus", "application/json", []byte(testCorpus))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "ready", body["state"])
	assert.EqualValues(t, 2, body["chunk_count"])
	assert.EqualValues(t, 2, body["scheme_count"])
	assert.Equal(t, []interface{}{"Agriculture", "Finance"}, body["ministries"])

	status, body = env.postJSON(t, "/api/v1/ask", map[string]interface{}{
		"question":   "who is eligible for Jan Dhan Yojana",
		"top_k":      1,
		"session_id": "s1",
	})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "**Scheme Name:** Jan Dhan Yojana\n**Website Link:** [https://pmjdy.gov.in](https://pmjdy.gov.in)", body["answer"])
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, false, body["filter_fallback"])

	sources := body["sources"].([]interface{})
	require.Len(t, sources, 1)
	meta := sources[0].(map[string]interface{})["metadata"].(map[string]interface{})
	assert.Equal(t, "Finance", meta["ministry"])

	entryID := body["id"].(string)

	status, body = env.do(t, "GET", "/api/v1/sessions/s1/history", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["history"], 1)

	status, _ = env.postJSON(t, "/api/v1/feedback", map[string]interface{}{
		"session_id": "s1", "entry_id": entryID, "helpful": true,
	})
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = env.postJSON(t, "/api/v1/feedback", map[string]interface{}{
		"session_id": "s1", "entry_id": "missing", "helpful": true,
	})
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = env.postJSON(t, "/api/v1/feedback", map[string]interface{}{
		"session_id": "s1", "entry_id": entryID,
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAsk_MinistryFallback(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, "POST", "/api/v1/corpus", "application/json", []byte(testCorpus))
	require.Equal(t, fiber.StatusOK, status)

	status, body := env.postJSON(t, "/api/v1/ask", map[string]interface{}{
		"question": "farmer income support",
		"top_k":    1,
		"ministry": "Health",
	})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["filter_fallback"])
	assert.NotEmpty(t, body["session_id"])
}

func TestRetrieveAndGenerate(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, "POST", "/api/v1/corpus", "application/json", []byte(testCorpus))
	require.Equal(t, fiber.StatusOK, status)

	status, body := env.postJSON(t, "/api/v1/retrieve", map[string]interface{}{"question": "PM Kisan", "top_k": 5})
	require.Equal(t, fiber.StatusOK, status)
	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})["metadata"].(map[string]interface{})
	assert.Equal(t, "PM Kisan", first["scheme_name"])

	status, body = env.postJSON(t, "/api/v1/generate", map[string]interface{}{
		"question": "What is Jan Dhan?", "context": "Scheme: Jan Dhan Yojana",
	})
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body["answer"], "**Scheme Name:**")

	status, body = env.postJSON(t, "/api/v1/generate", map[string]interface{}{
		"question": "What is Jan Dhan?", "context": "x", "backend": "gemini",
	})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Error: gemini backend unavailable (check credentials)", body["answer"])
}

func TestCorpusUpload_FailureKeepsPreviousSystem(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, "POST", "/api/v1/corpus", "application/json", []byte(testCorpus))
	require.Equal(t, fiber.StatusOK, status)
	previous := env.holder.Current()

	status, body := env.do(t, "POST", "/api/v1/corpus", "application/json", []byte(`[]`))
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, rag.StageChunk, body["stage"])
	assert.Same(t, previous, env.holder.Current())

	status, body = env.do(t, "POST", "/api/v1/corpus", "application/json", []byte(`{"data": {}}`))
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, rag.StageLoad, body["stage"])
}

func TestCorpusUpload_Multipart(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "schemes.json")
	require.NoError(t, err)
	_, err = part.Write([]byte(testCorpus))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	status, body := env.do(t, "POST", "/api/v1/corpus", w.FormDataContentType(), buf.Bytes())
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "schemes.json", body["source"])
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t,
		[]string{"**Scheme", "Name:**", "PMJDY", "\n", "1.", "Visit"},
		splitIntoWords("**Scheme Name:** PMJDY\n1. Visit"),
	)
	assert.Empty(t, splitIntoWords(""))
}

func TestWebSocketQuestionMatchesRESTValidation(t *testing.T) {
	env := newTestEnv(t)
	ws := NewWebSocketHandler(env.holder, nil, 3, 20)

	question, problem := ws.checkQuestion("  who is eligible?  ")
	assert.Equal(t, "who is eligible?", question)
	assert.Empty(t, problem)

	_, problem = ws.checkQuestion("<script>alert(1)</script>")
	assert.Equal(t, "Invalid question content", problem)

	status, body := env.postJSON(t, "/api/v1/ask", map[string]string{"question": "<script>alert(1)</script>"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "Invalid question content", body["error"])

	_, problem = ws.checkQuestion("this question is far too long for the limit")
	assert.Equal(t, "Question exceeds maximum length", problem)

	_, problem = ws.checkQuestion("   ")
	assert.Equal(t, "Question is required", problem)
}
