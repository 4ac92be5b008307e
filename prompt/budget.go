package prompt

import (
	"bizchat/providers"
)

// FitBudget truncates the oldest history so the request fits in budget tokens.
//
// The leading system message and the final (new user) message are always kept.
// History is admitted newest-first and admission stops at the first message that
// does not fit, so the kept history is always a contiguous suffix.
// A budget <= 0 disables truncation.
func FitBudget(messages []providers.Message, budget int, cost func(providers.Message) int) []providers.Message {
	if budget <= 0 || len(messages) <= 2 {
		return messages
	}

	var head []providers.Message
	rest := messages
	if rest[0].Role == providers.RoleSystem {
		head = rest[:1]
		rest = rest[1:]
	}
	last := rest[len(rest)-1]
	history := rest[:len(rest)-1]

	used := cost(last)
	for _, m := range head {
		used += cost(m)
	}

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		c := cost(history[i])
		if used+c > budget {
			break
		}
		used += c
		start = i
	}

	out := make([]providers.Message, 0, len(head)+len(history)-start+1)
	out = append(out, head...)
	out = append(out, history[start:]...)
	return append(out, last)
}
