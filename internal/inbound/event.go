// ABOUTME: Wire shape of inbound channel events and their normalization into messages
// ABOUTME: Validates identity, sender id, display name, and the composite message id

package inbound

import (
	"strconv"
	"strings"

	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/fsstore"
)

// Event is a message event as posted by the channel bridge.
type Event struct {
	ChatID struct {
		User string `json:"user"`
	} `json:"chatId"`
	From   string `json:"from"`
	Sender struct {
		ShortName *string `json:"shortName"`
	} `json:"sender"`
	ID          string  `json:"id"`
	Timestamp   int64   `json:"t"`
	FromMe      bool    `json:"fromMe"`
	Content     string  `json:"content"`
	Base64Audio *string `json:"base_64_audio,omitempty"`
}

// Drop reasons reported for rejected events.
const (
	DropIdentity  = "invalid_identity"
	DropSenderID  = "invalid_sender_id"
	DropName      = "missing_sender_name"
	DropMessageID = "invalid_message_id"
	DropDuplicate = "duplicate"
)

var nullNames = map[string]bool{"": true, "None": true, "none": true, "NONE": true, "null": true}

// Identity returns the conversation key the event belongs to.
func (e Event) Identity() string {
	return e.ChatID.User
}

// HasAudio reports whether the event carries a voice note.
func (e Event) HasAudio() bool {
	return e.Base64Audio != nil && *e.Base64Audio != ""
}

// Validate returns "" when the event may be ingested, else the drop reason.
func (e Event) Validate() string {
	id := e.Identity()
	if !conversation.ValidIdentity(id) || fsstore.ValidateName(id) != nil {
		return DropIdentity
	}
	if _, err := strconv.ParseInt(e.senderID(), 10, 64); err != nil {
		return DropSenderID
	}
	if e.Sender.ShortName == nil || nullNames[strings.TrimSpace(*e.Sender.ShortName)] {
		return DropName
	}
	if e.MessageID() == "" {
		return DropMessageID
	}
	return ""
}

// senderID is the numeric part of "<number>@c.us".
func (e Event) senderID() string {
	id, _, _ := strings.Cut(e.From, "@")
	return id
}

// MessageID is the third underscore-delimited segment of the channel id.
func (e Event) MessageID() string {
	parts := strings.Split(e.ID, "_")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Message converts a validated event. content replaces the event text.
func (e Event) Message(content string) conversation.Message {
	name := ""
	if e.Sender.ShortName != nil {
		name = *e.Sender.ShortName
	}
	return conversation.Message{
		From:      e.senderID(),
		FromMe:    e.FromMe,
		Name:      name,
		Content:   content,
		MessageID: e.MessageID(),
		Timestamp: e.Timestamp,
	}
}
