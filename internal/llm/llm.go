// Package llm abstracts the completion service the pipeline reasons with.
package llm

import (
	"context"
	"errors"
)

// ErrService wraps any completion-service failure. The pipeline treats
// it as a hard failure of the request; there is no automatic retry.
var ErrService = errors.New("completion service failure")

// CompletionService turns a prompt into completion text. All structure
// is conveyed as plain text; no streaming, no function-calling protocol.
type CompletionService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Ensure GeminiService implements CompletionService.
var _ CompletionService = (*GeminiService)(nil)
