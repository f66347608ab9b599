// Package ai generates persona replies. A Chain tries text providers in a
// fixed order, keeps one conversation copy per provider and falls back to a
// canned pool when every provider fails. Callers never see provider errors.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyCompletion is returned by providers when the completion contains
// no usable text.
var ErrEmptyCompletion = errors.New("ai: empty completion")

// TextProvider is a black-box text completion service.
type TextProvider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Complete returns the generated continuation of prompt.
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// StatusError is a non-2xx response from a provider's HTTP API.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai: %s request status %d: %s", e.Provider, e.Code, e.Body)
}
