// ABOUTME: Message and identity types for conversation logs
// ABOUTME: Defines sentinel errors and the PersistenceError returned on failed writes

package conversation

import (
	"errors"
	"fmt"
)

// MaxIdentityLength is the longest identity accepted at ingestion.
// Longer values are group or broadcast ids on the channel, not people.
const MaxIdentityLength = 14

// ErrNotFound is returned when no conversation exists for an identity.
var ErrNotFound = errors.New("conversation not found")

// ErrDuplicateMessage is returned when a message id already exists in the conversation.
var ErrDuplicateMessage = errors.New("duplicate message id")

// ErrInvalidIdentity is returned for empty or over-long identities.
var ErrInvalidIdentity = errors.New("invalid identity")

// ErrCorruptRecord is returned by Backend.Load when a record could not be decoded
// and was moved aside. The identity starts a fresh conversation on its next append.
var ErrCorruptRecord = errors.New("corrupt conversation record quarantined")

// ErrUnreadable is returned by Append for an identity whose record exists but
// could not be loaded. Writing would replace the record on disk.
var ErrUnreadable = errors.New("conversation record could not be loaded")

// Message is one entry in a conversation. Field names match the persisted format.
type Message struct {
	From      string `json:"from"`
	FromMe    bool   `json:"fromMe"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// PersistenceError reports a failed durable write for one identity.
// The in-memory view is left unchanged when it is returned.
type PersistenceError struct {
	Identity string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting conversation %s: %v", e.Identity, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ValidIdentity reports whether id can key a conversation.
func ValidIdentity(id string) bool {
	return id != "" && len(id) <= MaxIdentityLength
}

// IndexOf returns the position of messageID in msgs, or -1.
func IndexOf(msgs []Message, messageID string) int {
	for i, m := range msgs {
		if m.MessageID == messageID {
			return i
		}
	}
	return -1
}
