package prompt

import (
	"bizchat/conversation"
	"bizchat/providers"
)

// DefaultSystemPrompt is the business assistant instruction sent first in every request.
const DefaultSystemPrompt = "You are a helpful business assistant. Be professional, friendly, and concise in your responses."

// Builder maps stored turns onto the completion API's message schema
type Builder struct {
	SystemPrompt string
}

// Build returns the system instruction, every turn of log in order, then the new user text.
// The output always has len(log)+2 messages.
func (b Builder) Build(newUserText string, log []conversation.Turn) []providers.Message {
	system := b.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}

	messages := make([]providers.Message, 0, len(log)+2)
	messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: system})
	for _, turn := range log {
		messages = append(messages, providers.Message{Role: RoleFor(turn.Speaker), Content: turn.Text})
	}
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: newUserText})
	return messages
}

// Build uses the default system prompt
func Build(newUserText string, log []conversation.Turn) []providers.Message {
	return Builder{}.Build(newUserText, log)
}

// RoleFor maps a speaker to its API role
func RoleFor(speaker conversation.Speaker) string {
	if speaker == conversation.SpeakerAssistant {
		return providers.RoleAssistant
	}
	return providers.RoleUser
}
