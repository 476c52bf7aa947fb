// ABOUTME: Converts an approved draft into a durable delivery item
// ABOUTME: Text drafts are queued directly; audio drafts are rendered to a voice note first

package drafts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-relay/internal/fsstore"
	"github.com/2389/coven-relay/internal/queue"
)

// ErrNoRenderer is returned for audio deliveries when speech is not configured.
var ErrNoRenderer = errors.New("drafts: speech rendering is not configured")

// Renderer speaks text with a voice and returns the local file of the voice note.
type Renderer interface {
	Render(ctx context.Context, voiceID, text string) (string, error)
}

// SampleLookup finds the voice sample collected from one inbound message.
type SampleLookup interface {
	SampleFor(identity, messageID string) (string, bool)
}

// Handoff moves drafts into the outbound queue.
type Handoff struct {
	drafts   *Store
	queue    queue.Queue
	renderer Renderer
	samples  SampleLookup
	logger   *slog.Logger
}

// HandoffOption configures a Handoff.
type HandoffOption func(*Handoff)

// WithSampleLookup tags audio items with the sample of the message they answer.
func WithSampleLookup(l SampleLookup) HandoffOption {
	return func(h *Handoff) { h.samples = l }
}

// NewHandoff wires the handoff. renderer may be nil to allow text only.
func NewHandoff(drafts *Store, q queue.Queue, renderer Renderer, logger *slog.Logger, opts ...HandoffOption) *Handoff {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handoff{
		drafts:   drafts,
		queue:    q,
		renderer: renderer,
		logger:   logger.With("component", "handoff"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Deliver queues draftID of conversationID as kind. The draft is consumed only
// once the item is durably queued.
func (h *Handoff) Deliver(ctx context.Context, conversationID, draftID string, kind queue.Kind, voiceID string) (queue.Item, error) {
	d, err := h.drafts.Get(conversationID, draftID)
	if err != nil {
		return queue.Item{}, err
	}

	var item queue.Item
	switch kind {
	case queue.KindText:
		item = queue.NewTextItem(conversationID, draftID, d.Text)
	case queue.KindAudio:
		if h.renderer == nil {
			return queue.Item{}, ErrNoRenderer
		}
		path, err := h.renderer.Render(ctx, voiceID, d.Text)
		if err != nil {
			return queue.Item{}, fmt.Errorf("rendering audio: %w", err)
		}
		item = queue.NewAudioItem(conversationID, draftID, path)
		if h.samples != nil && d.ReplyTo != "" {
			if name, ok := h.samples.SampleFor(conversationID, d.ReplyTo); ok {
				item.SampleFilename = name
			}
		}
	default:
		return queue.Item{}, fmt.Errorf("%w: unknown kind %q", queue.ErrInvalidItem, kind)
	}

	if err := h.queue.Enqueue(ctx, item); err != nil {
		if item.Kind == queue.KindAudio {
			_ = fsstore.RemoveIfExists(item.AudioPath)
		}
		return queue.Item{}, err
	}

	if err := h.drafts.Discard(conversationID, draftID); err != nil {
		h.logger.Warn("draft queued but could not be consumed",
			"identity", conversationID, "draft_id", draftID, "error", err)
	}
	h.logger.Info("draft queued", "identity", conversationID, "draft_id", draftID, "kind", kind, "item", item.Name)
	return item, nil
}
