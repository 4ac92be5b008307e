package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultModel is the completion model used when none is configured.
const DefaultModel = "gpt-4o-mini"

// Error labels prefixed to the fragment that replaces a failed stream
const (
	LabelServiceError    = "OpenAI service error"
	LabelUnexpectedError = "Unexpected error occurred"
)

// Fragment is one element of a relayed completion. A fragment with a non-nil
// Err is always the last one in its sequence and its Text describes the error.
type Fragment struct {
	Text string
	Err  error
}

// RelayConfig holds the request parameters fixed for every stream
type RelayConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Relay turns a Provider into a lazy sequence of text fragments that never fails
type Relay struct {
	provider Provider
	cfg      RelayConfig
	logger   zerolog.Logger
}

// NewRelay creates a relay over provider
func NewRelay(provider Provider, cfg RelayConfig, logger zerolog.Logger) *Relay {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Relay{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

// Model returns the model identifier sent upstream
func (r *Relay) Model() string {
	return r.cfg.Model
}

// Provider describes the backend the relay streams from
func (r *Relay) Provider() ProviderInfo {
	return r.provider.GetInfo()
}

// Stream opens one upstream completion and returns its fragments. The channel
// is closed when upstream ends. Any failure is reported as a single final
// fragment; Stream itself never fails.
func (r *Relay) Stream(ctx context.Context, messages []Message) <-chan Fragment {
	out := make(chan Fragment)

	go func() {
		defer close(out)

		if err := r.pump(ctx, messages, out); err != nil {
			r.logger.Error().Err(err).Str("model", r.cfg.Model).Msg("completion stream failed")
			out <- Fragment{Text: Describe(err), Err: err}
		}
	}()

	return out
}

func (r *Relay) pump(ctx context.Context, messages []Message, out chan<- Fragment) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("relay panic: %v", rec)
		}
	}()

	req := &UnifiedRequest{
		Model:       r.cfg.Model,
		Messages:    messages,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Stream:      true,
	}

	chunks := make(chan StreamChunk)
	done := make(chan struct{})
	var streamErr error

	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				streamErr = fmt.Errorf("provider panic: %v", rec)
			}
		}()
		streamErr = r.provider.Stream(ctx, req, chunks)
	}()

	// chunks is unbuffered, so once done is closed every sent chunk has been received.
	// Waiting on done covers providers that panic without closing the channel.
	var upstreamErr error
	recv := chunks
	for {
		select {
		case chunk, ok := <-recv:
			if !ok {
				recv = nil
				continue
			}
			switch {
			case chunk.Error != nil:
				if upstreamErr == nil {
					upstreamErr = chunk.Error
				}
			case chunk.Done:
			case upstreamErr == nil:
				out <- Fragment{Text: chunk.Data}
			}
		case <-done:
			if upstreamErr != nil {
				return upstreamErr
			}
			return streamErr
		}
	}
}

// Describe renders err as the user-visible fragment text
func Describe(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s: %s", LabelServiceError, err.Error())
	}
	return fmt.Sprintf("%s: %s", LabelUnexpectedError, err.Error())
}
