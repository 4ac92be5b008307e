package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bizchat/conversation"
	"bizchat/prompt"
	"bizchat/providers"
	"bizchat/tokens"
)

// recordTimeout bounds the Recorder call after the session closes
const recordTimeout = 5 * time.Second

// State of a session
type State int

const (
	StateIdle State = iota
	StateStarted
	StateStreaming
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Relay produces the fragments of one completion
type Relay interface {
	Stream(ctx context.Context, messages []providers.Message) <-chan providers.Fragment
	Model() string
}

// Exchange summarizes a finished session for auditing
type Exchange struct {
	SessionID string
	Model     string
	Messages  []providers.Message
	Output    string
	// UpstreamErr is the failure reported by the relay, if any
	UpstreamErr error
	// Err is an internal session failure, if any
	Err      error
	Duration time.Duration
}

// Recorder persists finished exchanges
type Recorder interface {
	Record(ctx context.Context, ex Exchange)
}

// Options tune a session
type Options struct {
	Builder prompt.Builder
	// TokenBudget > 0 truncates the oldest history to fit, counted with Counter
	TokenBudget int
	Counter     *tokens.Counter
	Recorder    Recorder
	Logger      zerolog.Logger
}

// Result is what a session produced
type Result struct {
	Text   string
	Chunks int
	Err    error
}

// Session relays one assistant reply from the completion relay to an Emitter
// and stores it in the conversation log.
type Session struct {
	id     string
	log    conversation.Log
	relay  Relay
	opts   Options
	logger zerolog.Logger

	state      State
	clientGone bool
}

// NewSession creates an idle session
func NewSession(id string, log conversation.Log, relay Relay, opts Options) *Session {
	return &Session{
		id:     id,
		log:    log,
		relay:  relay,
		opts:   opts,
		logger: opts.Logger.With().Str("session_id", id).Logger(),
		state:  StateIdle,
	}
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// Run streams the reply to userText into out. It always emits exactly one start,
// zero or more chunks, one complete or error, then Done; it never returns early.
func (s *Session) Run(ctx context.Context, userText string, out Emitter) Result {
	started := time.Now()

	s.state = StateStarted
	s.emit(out, Event{Type: EventStart})

	var (
		res         Result
		full        strings.Builder
		messages    []providers.Message
		upstreamErr error
	)

	err := s.guard(func(frags *<-chan providers.Fragment) error {
		messages = s.buildMessages(userText)

		*frags = s.relay.Stream(ctx, messages)
		for frag := range *frags {
			s.state = StateStreaming
			full.WriteString(frag.Text)
			res.Chunks++
			if frag.Err != nil {
				upstreamErr = frag.Err
			}
			s.emit(out, Event{Type: EventChunk, Content: frag.Text})
		}

		s.state = StateFinalizing
		if err := s.log.Append(conversation.AssistantTurn(full.String())); err != nil {
			return fmt.Errorf("failed to store reply: %w", err)
		}
		return nil
	})

	res.Text = full.String()
	if err != nil {
		s.state = StateFinalizing
		res.Err = err
		res.Text = s.fail(out, err)
	} else {
		s.emit(out, Event{Type: EventComplete, Content: res.Text})
	}

	s.state = StateClosed
	if err := out.Done(); err != nil {
		s.emitFailed(err)
	}

	s.logger.Info().
		Int("chunks", res.Chunks).
		Int("chars", len(res.Text)).
		Bool("upstream_error", upstreamErr != nil).
		AnErr("session_error", res.Err).
		Dur("duration", time.Since(started)).
		Msg("session closed")

	if s.opts.Recorder != nil {
		// ctx may already be past its deadline when upstream timed out
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		s.opts.Recorder.Record(recordCtx, Exchange{
			SessionID:   s.id,
			Model:       s.relay.Model(),
			Messages:    messages,
			Output:      res.Text,
			UpstreamErr: upstreamErr,
			Err:         res.Err,
			Duration:    time.Since(started),
		})
	}

	return res
}

// guard runs fn converting panics to errors. If fn panics while a fragment
// channel is open, the channel is drained so the relay can finish.
func (s *Session) guard(fn func(frags *<-chan providers.Fragment) error) (err error) {
	var frags <-chan providers.Fragment
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("session panic: %v", rec)
			if frags != nil {
				go func() {
					for range frags {
					}
				}()
			}
		}
	}()
	return fn(&frags)
}

// buildMessages maps the stored history onto API messages. The user turn
// stored by the submit request stays in the history, so the new text
// appears both as the last history turn and as the final message.
func (s *Session) buildMessages(userText string) []providers.Message {
	history := s.log.Snapshot()
	messages := s.opts.Builder.Build(userText, history)
	if s.opts.TokenBudget > 0 && s.opts.Counter != nil {
		before := len(messages)
		messages = prompt.FitBudget(messages, s.opts.TokenBudget, s.opts.Counter.MessageCost)
		if dropped := before - len(messages); dropped > 0 {
			s.logger.Debug().Int("dropped", dropped).Int("budget", s.opts.TokenBudget).Msg("history truncated to token budget")
		}
	}
	return messages
}

// fail stores an error turn and emits the error event; it returns the message
func (s *Session) fail(out Emitter, err error) string {
	msg := "Error: " + err.Error()
	s.logger.Error().Err(err).Msg("session failed")

	if appendErr := s.log.Append(conversation.AssistantTurn(msg)); appendErr != nil {
		s.logger.Error().Err(appendErr).Msg("failed to store error turn")
	}
	s.emit(out, Event{Type: EventError, Content: msg})
	return msg
}

// emit writes ev, ignoring transport failures: a disconnected client does not stop the session
func (s *Session) emit(out Emitter, ev Event) {
	if err := out.Emit(ev); err != nil {
		s.emitFailed(err)
	}
}

func (s *Session) emitFailed(err error) {
	if s.clientGone {
		return
	}
	s.clientGone = true
	s.logger.Debug().Err(err).Msg("client stopped receiving events")
}
