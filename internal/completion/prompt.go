// ABOUTME: Builds completion prompts from a conversation prefix and the persona
// ABOUTME: Handles truncation at a message id, the recent-window fallback, and label stripping

package completion

import (
	"strings"

	"github.com/2389/coven-relay/internal/conversation"
)

// FallbackWindow is how many trailing messages the rate-limit retry keeps.
const FallbackWindow = 50

// Role values understood by the chat API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one element of a chat prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Truncate returns msgs[0..k] where msgs[k] has uptoID. found is false when
// the id is absent, in which case all messages are returned.
func Truncate(msgs []conversation.Message, uptoID string) (out []conversation.Message, found bool) {
	k := conversation.IndexOf(msgs, uptoID)
	if k < 0 {
		return msgs, false
	}
	return msgs[:k+1], true
}

// Tail keeps the last n messages.
func Tail(msgs []conversation.Message, n int) []conversation.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// BuildPrompt places the persona instruction at element 0 followed by msgs.
func BuildPrompt(p Persona, msgs []conversation.Message) []ChatMessage {
	prompt := make([]ChatMessage, 0, len(msgs)+1)
	prompt = append(prompt, ChatMessage{Role: RoleUser, Content: p.Instruction})
	for _, m := range msgs {
		if m.FromMe {
			prompt = append(prompt, ChatMessage{Role: RoleAssistant, Content: p.OperatorLabel + ": " + m.Content})
		} else {
			prompt = append(prompt, ChatMessage{Role: RoleUser, Content: p.PartnerLabel + ": " + m.Content})
		}
	}
	return prompt
}

// StripLabels removes speaker labels the model tends to echo back.
func StripLabels(p Persona, text string) string {
	text = strings.ReplaceAll(text, p.OperatorLabel+": ", "")
	text = strings.ReplaceAll(text, p.PartnerLabel+": ", "")
	return strings.TrimSpace(text)
}
