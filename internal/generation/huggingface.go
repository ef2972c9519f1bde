package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/scheme-qna/backend/pkg/logger"
	"github.com/scheme-qna/backend/pkg/retry"
)

const DefaultHuggingFaceEndpoint = "https://api-inference.huggingface.co/models"

// HuggingFace calls the hosted inference API for a text2text model.
type HuggingFace struct {
	token      string
	model      string
	endpoint   string
	httpClient *http.Client
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
	Options    hfOptions    `json:"options"`
}

type hfParameters struct {
	MaxLength   int     `json:"max_length"`
	Temperature float32 `json:"temperature"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

func NewHuggingFace(token, model, endpoint string, timeout time.Duration) (*HuggingFace, error) {
	if token == "" {
		return nil, errors.New("huggingface token is not set")
	}
	if model == "" {
		return nil, errors.New("huggingface model is not set")
	}
	if endpoint == "" {
		endpoint = DefaultHuggingFaceEndpoint
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &HuggingFace{
		token:    token,
		model:    model,
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (h *HuggingFace) Name() string { return BackendHuggingFace }

func (h *HuggingFace) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	payload, err := json.Marshal(hfRequest{
		Inputs: prompt,
		Parameters: hfParameters{
			MaxLength:   params.MaxOutputLength,
			Temperature: params.Temperature,
		},
		Options: hfOptions{WaitForModel: true},
	})
	if err != nil {
		return "", retry.Permanent(&BackendError{Backend: BackendHuggingFace, Err: err})
	}

	url := fmt.Sprintf("%s/%s", h.endpoint, h.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", retry.Permanent(&BackendError{Backend: BackendHuggingFace, Err: err})
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", &BackendError{Backend: BackendHuggingFace, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &BackendError{Backend: BackendHuggingFace, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := gjson.GetBytes(body, "error").String()
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		berr := &BackendError{
			Backend:    BackendHuggingFace,
			StatusCode: resp.StatusCode,
			Err:        errors.New(detail),
		}
		logger.Warn("HuggingFace inference failed",
			zap.Int("status", resp.StatusCode),
			zap.String("model", h.model),
		)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(berr)
		}
		return "", berr
	}

	return parseGeneratedText(body)
}

// parseGeneratedText reads generated_text from either the list form the
// inference API usually returns or a bare object.
func parseGeneratedText(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", retry.Permanent(&BackendError{
			Backend: BackendHuggingFace,
			Err:     errors.New("response is not valid JSON"),
		})
	}

	if text := gjson.GetBytes(body, "0.generated_text"); text.Exists() {
		return text.String(), nil
	}
	if text := gjson.GetBytes(body, "generated_text"); text.Exists() {
		return text.String(), nil
	}
	return "", retry.Permanent(&BackendError{
		Backend: BackendHuggingFace,
		Err:     errors.New("response has no generated_text"),
	})
}
