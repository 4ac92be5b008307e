package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"bizchat/providers"
)

// DefaultEncoding matches the gpt-4o-mini / gpt-4 family closely enough for budgeting.
const DefaultEncoding = "cl100k_base"

// Per-message framing overhead used by OpenAI chat formats
const (
	perMessageOverhead = 4
	perReplyOverhead   = 3
)

// Counter counts tokens with tiktoken. The encoding is loaded on first use;
// if it cannot be loaded, Estimate is used instead.
type Counter struct {
	encoding string
	logger   zerolog.Logger

	once       sync.Once
	encode     func(string) int
	estimating bool
}

// NewCounter creates a lazily loaded tiktoken counter
func NewCounter(encoding string, logger zerolog.Logger) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Counter{encoding: encoding, logger: logger}
}

// Fixed returns a counter backed by fn, skipping tiktoken entirely
func Fixed(fn func(string) int) *Counter {
	c := &Counter{encoding: "fixed", logger: zerolog.Nop()}
	c.once.Do(func() { c.encode = fn })
	return c
}

func (c *Counter) load() {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.logger.Warn().Err(err).Str("encoding", c.encoding).Msg("tiktoken unavailable, estimating token counts")
			c.encode = Estimate
			c.estimating = true
			return
		}
		c.encode = func(s string) int {
			return len(enc.Encode(s, nil, nil))
		}
	})
}

// Warm loads the encoding now instead of on the first Count. tiktoken fetches
// the BPE ranks over the network unless TIKTOKEN_CACHE_DIR holds them, so the
// server warms the counter at startup rather than inside the first session.
// It reports whether tiktoken is in use.
func (c *Counter) Warm() bool {
	c.load()
	return !c.estimating
}

// Count returns the token count of text
func (c *Counter) Count(text string) int {
	c.load()
	return c.encode(text)
}

// CountMessages returns the prompt size of a message list including role framing
func (c *Counter) CountMessages(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += c.Count(m.Content)
		total += c.Count(m.Role)
	}
	return total + perReplyOverhead
}

// MessageCost is the budget cost of a single message
func (c *Counter) MessageCost(m providers.Message) int {
	return perMessageOverhead + c.Count(m.Content)
}

// Estimate approximates tokens as one per four bytes, rounded up
func Estimate(text string) int {
	return (len(text) + 3) / 4
}
