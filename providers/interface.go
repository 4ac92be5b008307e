package providers

import (
	"context"
	"fmt"
)

// Provider interface for streaming chat completion backends
type Provider interface {
	// Stream sends the request upstream and pushes chunks into stream.
	// Implementations must close stream before returning.
	Stream(ctx context.Context, req *UnifiedRequest, stream chan<- StreamChunk) error

	// GetInfo describes the backend for startup logs and /health
	GetInfo() ProviderInfo
}

// Message roles understood by OpenAI-compatible APIs
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UnifiedRequest is the standard request format
type UnifiedRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk represents a streaming response chunk
type StreamChunk struct {
	Data  string
	Error error
	Done  bool
}

// ProviderInfo contains provider metadata
type ProviderInfo struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	SupportsStream bool   `json:"supports_stream"`
	RequiresAuth   bool   `json:"requires_auth"`
}

// APIError is returned for every failure attributable to the upstream service:
// non-2xx responses, transport errors and malformed stream payloads.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("Error code: %d - %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}
