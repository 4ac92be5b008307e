package conversation

import (
	"sync"
)

// DefaultMaxTurns is the retention cap used when none is configured.
const DefaultMaxTurns = 50

// DefaultGreeting seeds every new conversation.
const DefaultGreeting = "Hello! I'm here to assist with your business needs. How can I help you today?"

// Speaker identifies who produced a turn
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "ai"
)

// Turn is one message in the conversation. Turns are never edited after creation.
type Turn struct {
	Speaker Speaker `json:"sender"`
	Text    string  `json:"message"`
}

// UserTurn creates a turn spoken by the user
func UserTurn(text string) Turn {
	return Turn{Speaker: SpeakerUser, Text: text}
}

// AssistantTurn creates a turn spoken by the assistant
func AssistantTurn(text string) Turn {
	return Turn{Speaker: SpeakerAssistant, Text: text}
}

// Log is the view of the conversation that stream sessions and handlers depend on.
type Log interface {
	Append(turn Turn) error
	Snapshot() []Turn
}

// Store holds the process-wide conversation in memory.
//
// The first turn is pinned: trimming always keeps index 0 (the greeting) plus
// the newest MaxTurns-1 turns, regardless of how many trims have happened.
type Store struct {
	mu       sync.Mutex
	turns    []Turn
	maxTurns int
}

// NewStore creates a store seeded with a single assistant greeting
func NewStore(greeting string, maxTurns int) *Store {
	if maxTurns < 1 {
		maxTurns = DefaultMaxTurns
	}
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return &Store{
		turns:    []Turn{AssistantTurn(greeting)},
		maxTurns: maxTurns,
	}
}

// Append adds a turn to the end of the log and trims it back under the cap.
func (s *Store) Append(turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, turn)
	s.trim()
	return nil
}

// trim must be called with s.mu held
func (s *Store) trim() {
	if len(s.turns) <= s.maxTurns {
		return
	}

	kept := make([]Turn, 0, s.maxTurns)
	kept = append(kept, s.turns[0])
	kept = append(kept, s.turns[len(s.turns)-(s.maxTurns-1):]...)
	s.turns = kept
}

// Snapshot returns a copy of the current turns in chronological order
func (s *Store) Snapshot() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of stored turns
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// MaxTurns returns the retention cap
func (s *Store) MaxTurns() int {
	return s.maxTurns
}
