// ABOUTME: Delivery item types and the Queue interface shared by all backends
// ABOUTME: Defines record naming, validation, and the WriteError returned on failed enqueue

package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind is the type of outbound delivery.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

// ErrAlreadyQueued is returned when a record with the same name is pending.
var ErrAlreadyQueued = errors.New("queue: item already queued")

// ErrInvalidItem is returned by Enqueue for malformed items.
var ErrInvalidItem = errors.New("queue: invalid item")

// Item is one durable unit of outbound work.
type Item struct {
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	Identity   string    `json:"identity"`
	ResponseID string    `json:"response_id"`
	Text       string    `json:"text,omitempty"`
	AudioPath  string    `json:"audio_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// SampleFilename names the identity's voice sample that may be purged once
	// this audio item is delivered. Empty when no sample corresponds.
	SampleFilename string `json:"sample_filename,omitempty"`
}

// RecordName derives the record name from identity and a locally unique response id.
func RecordName(identity, responseID string) string {
	return identity + "_" + responseID
}

// NewTextItem builds a text delivery.
func NewTextItem(identity, responseID, text string) Item {
	return Item{
		Name:       RecordName(identity, responseID),
		Kind:       KindText,
		Identity:   identity,
		ResponseID: responseID,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewAudioItem builds an audio delivery referencing a local resource file.
func NewAudioItem(identity, responseID, audioPath string) Item {
	return Item{
		Name:       RecordName(identity, responseID),
		Kind:       KindAudio,
		Identity:   identity,
		ResponseID: responseID,
		AudioPath:  audioPath,
		CreatedAt:  time.Now().UTC(),
	}
}

// Validate checks the fields required for the item's kind.
func (i Item) Validate() error {
	if i.Identity == "" || i.ResponseID == "" {
		return fmt.Errorf("%w: identity and response id are required", ErrInvalidItem)
	}
	if i.Name != RecordName(i.Identity, i.ResponseID) {
		return fmt.Errorf("%w: name %q does not match identity and response id", ErrInvalidItem, i.Name)
	}
	if strings.ContainsAny(i.Name, `/\`) || strings.HasPrefix(i.Name, ".") {
		return fmt.Errorf("%w: unsafe name %q", ErrInvalidItem, i.Name)
	}
	switch i.Kind {
	case KindText:
		if i.Text == "" {
			return fmt.Errorf("%w: text item has no text", ErrInvalidItem)
		}
	case KindAudio:
		if i.AudioPath == "" {
			return fmt.Errorf("%w: audio item has no audio path", ErrInvalidItem)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, i.Kind)
	}
	return nil
}

// WriteError reports an I/O failure while creating a record.
// The item must not be considered queued when it is returned.
type WriteError struct {
	Name string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("queue write %s: %v", e.Name, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Queue is the durable set of pending deliveries.
type Queue interface {
	// Enqueue atomically creates the record for item.
	Enqueue(ctx context.Context, item Item) error

	// ListPending returns a fresh snapshot of every pending record.
	ListPending(ctx context.Context) ([]Item, error)

	// Remove deletes the record for item. Removing a missing record is not an error.
	Remove(ctx context.Context, item Item) error

	// Close releases any resources held by the queue.
	Close() error
}

// sortPending orders by creation time, then name, so delivery is roughly FIFO.
func sortPending(items []Item) {
	sort.SliceStable(items, func(a, b int) bool {
		if !items[a].CreatedAt.Equal(items[b].CreatedAt) {
			return items[a].CreatedAt.Before(items[b].CreatedAt)
		}
		return items[a].Name < items[b].Name
	})
}
