// Package completion provides memory.Completer implementations for remote
// chat models: an OpenAI-compatible HTTP client (OpenAI, OpenRouter, Ollama,
// vLLM...) and an Anthropic Messages API client.
//
// Every error returned by a completer in this package wraps
// memory.ErrEndpoint, so the memory manager can tell endpoint failures apart
// from persistence ones.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/bdobrica/kioku/common/redact"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// ErrRateLimit is matched by errors caused by the upstream API throttling
// the caller (HTTP 429).
var ErrRateLimit = errors.New("completion: upstream rate limit exceeded")

// ErrEmptyResponse is returned when the API answers without any text.
var ErrEmptyResponse = errors.New("completion: empty response")

// APIError is a non-success answer from the model API.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API error (HTTP %d, %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrRateLimit) match a 429 answer.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimit && e.StatusCode == 429
}

// Retryable reports whether err is worth another attempt: rate limits,
// server-side failures and transport errors. Cancellation and client errors
// are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimit) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// endpointError wraps err as a memory.ErrEndpoint with provider context.
// Any occurrence of secret is scrubbed from the message.
func endpointError(provider, action string, err error, secret string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		apiErr.Message = redact.String(apiErr.Message, secret)
	}
	return fmt.Errorf("%s: %s: %w: %w", provider, action, memory.ErrEndpoint, err)
}
