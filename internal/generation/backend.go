// Package generation builds the answer prompt, calls a text-generation
// backend and formats what comes back.
package generation

import (
	"context"
	"fmt"
)

const (
	BackendHuggingFace = "huggingface"
	BackendOpenAI      = "openai"
	BackendGemini      = "gemini"
	BackendAnthropic   = "anthropic"
)

// Params are the sampling settings sent with every prompt.
type Params struct {
	MaxOutputLength int
	Temperature     float32
}

// Backend turns a prompt into generated text.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string, params Params) (string, error)
}

// BackendError is a failed backend call. Generator turns it into a
// placeholder answer; it never reaches callers of Generate.
type BackendError struct {
	Backend    string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend returned status %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
