package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultChatCompletionsURL is the public OpenAI endpoint.
const DefaultChatCompletionsURL = "https://api.openai.com/v1/chat/completions"

// maxErrorBody caps how much of a failed response is read into an error
const maxErrorBody = 64 * 1024

// OpenAIProvider handles direct OpenAI-compatible API calls.
// The URL is the complete chat completions endpoint; no path is appended.
type OpenAIProvider struct {
	client *http.Client
	url    string
	apiKey string
	logger zerolog.Logger
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint.
// A nil client uses a fresh http.Client; callers bound requests through ctx.
func NewOpenAIProvider(url, apiKey string, client *http.Client, logger zerolog.Logger) *OpenAIProvider {
	if url == "" {
		url = DefaultChatCompletionsURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIProvider{
		client: client,
		url:    url,
		apiKey: apiKey,
		logger: logger,
	}
}

type streamPayload struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// translateRequest converts the unified request to the OpenAI wire body
func (o *OpenAIProvider) translateRequest(req *UnifiedRequest) map[string]interface{} {
	body := map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   true,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	return body
}

// Stream handles streaming responses
func (o *OpenAIProvider) Stream(ctx context.Context, req *UnifiedRequest, stream chan<- StreamChunk) error {
	defer close(stream)

	fail := func(err error) error {
		stream <- StreamChunk{Error: err}
		return err
	}

	jsonBody, err := json.Marshal(o.translateRequest(req))
	if err != nil {
		return fail(fmt.Errorf("failed to marshal request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(jsonBody))
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	o.logger.Debug().
		Str("url", o.url).
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Msg("opening completion stream")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return fail(&APIError{Message: "Connection error: " + err.Error(), Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(newAPIError(resp))
	}

	// Parse SSE stream (Server-Sent Events format)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		if data == "[DONE]" {
			stream <- StreamChunk{Done: true}
			return nil
		}

		var payload streamPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return fail(&APIError{Message: "malformed stream chunk: " + err.Error(), Err: err})
		}
		if payload.Error != nil {
			return fail(&APIError{Type: payload.Error.Type, Message: payload.Error.Message})
		}
		if len(payload.Choices) == 0 {
			continue
		}
		if content := payload.Choices[0].Delta.Content; content != nil && *content != "" {
			stream <- StreamChunk{Data: *content}
		}
	}

	if err := scanner.Err(); err != nil {
		return fail(&APIError{Message: "stream read failed: " + err.Error(), Err: err})
	}

	stream <- StreamChunk{Done: true}
	return nil
}

// newAPIError builds an APIError from a non-2xx response
func newAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{StatusCode: resp.StatusCode}

	var parsed struct {
		Error *errorBody `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		apiErr.Type = parsed.Error.Type
		return apiErr
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	apiErr.Message = msg
	return apiErr
}

// GetInfo returns provider information
func (o *OpenAIProvider) GetInfo() ProviderInfo {
	return ProviderInfo{
		Name:           "OpenAI Compatible",
		Version:        "1.0",
		SupportsStream: true,
		RequiresAuth:   o.apiKey != "",
	}
}
