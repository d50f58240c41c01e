// Package completion provides a stateless client for LLM chat-completion
// APIs. Every pipeline stage goes through the Client interface, so tests can
// substitute a scripted mock.
package completion

import (
	"context"
	"errors"
	"time"
)

// Default configuration values.
const (
	defaultBaseURL     = "https://api.openai.com"
	defaultModel       = "gpt-4o"
	defaultMaxTokens   = 1024
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0 // ~0.83 requests per second
	defaultBurst     = 5           // Allow bursts of up to 5 requests
)

// Message is one entry in a completion request's message list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single completion call.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Client generates a single text completion for a request.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config holds completion client configuration.
type Config struct {
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `koanf:"timeout"`
}

// retryableError marks errors worth retrying with backoff.
type retryableError struct {
	err error
}

func (r *retryableError) Error() string {
	return r.err.Error()
}

func (r *retryableError) Unwrap() error {
	return r.err
}

// isRetryableError reports whether err should be retried.
func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
