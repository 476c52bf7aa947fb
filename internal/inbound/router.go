// ABOUTME: InboundRouter validates channel events, transcribes voice notes, and records messages
// ABOUTME: Notifies the operator about partner messages once they are durably appended

package inbound

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/2389/coven-relay/internal/audio"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/samples"
)

// Appender records messages durably.
type Appender interface {
	Append(ctx context.Context, identity string, msg conversation.Message) error
}

// Notification tells the operator about a new partner message.
// Identity and MessageID are what a later completion request needs.
type Notification struct {
	Identity  string
	MessageID string
	Name      string
	Content   string
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AudioProcessor transcribes and transcodes voice-note payloads.
type AudioProcessor interface {
	Transcribe(ctx context.Context, raw string) (string, error)
	Transcode(ctx context.Context, raw string, format audio.Format, dir, baseName string) (string, error)
}

// SampleSink collects transcoded voice samples.
type SampleSink interface {
	Dir(identity string) (string, error)
	Add(ctx context.Context, identity string, s samples.Sample) error
}

// Result describes what happened to an event that did not fail.
type Result struct {
	Accepted   bool
	DropReason string
}

// Router is the inbound pipeline.
type Router struct {
	store    Appender
	notifier Notifier
	audio    AudioProcessor
	samples  SampleSink
	seen     *dedupe.Filter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithAudio enables voice-note transcription.
func WithAudio(p AudioProcessor) Option {
	return func(r *Router) { r.audio = p }
}

// WithSamples enables best-effort sample collection from voice notes.
func WithSamples(s SampleSink) Option {
	return func(r *Router) { r.samples = s }
}

// WithDedupe drops redelivered events.
func WithDedupe(f *dedupe.Filter) Option {
	return func(r *Router) { r.seen = f }
}

// WithMetrics counts event outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a router.
func NewRouter(store Appender, notifier Notifier, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "inbound"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle ingests ev. Malformed events are dropped silently with a nil error.
// A voice note that cannot be transcribed returns audio.ErrTranscriptionFailed,
// and a failed write returns *conversation.PersistenceError; neither appends.
func (r *Router) Handle(ctx context.Context, ev Event) (Result, error) {
	if reason := ev.Validate(); reason != "" {
		return r.drop(ev, reason), nil
	}

	identity := ev.Identity()
	messageID := ev.MessageID()
	if r.seen != nil && r.seen.Seen(identity, messageID) {
		return r.drop(ev, DropDuplicate), nil
	}

	content := ev.Content
	if ev.HasAudio() {
		text, err := r.handleAudio(ctx, identity, messageID, *ev.Base64Audio)
		if err != nil {
			r.forget(identity, messageID)
			r.metrics.InboundEvent("transcription_failed")
			r.logger.Error("voice note not recorded",
				"identity", identity, "message_id", messageID, "error", err)
			return Result{}, err
		}
		content = text
	}

	msg := ev.Message(content)
	if err := r.store.Append(ctx, identity, msg); err != nil {
		if errors.Is(err, conversation.ErrDuplicateMessage) {
			return r.drop(ev, DropDuplicate), nil
		}
		r.forget(identity, messageID)
		r.metrics.InboundEvent("persistence_failed")
		return Result{}, err
	}
	r.metrics.InboundEvent("accepted")

	if !msg.FromMe && r.notifier != nil {
		n := Notification{Identity: identity, MessageID: messageID, Name: msg.Name, Content: msg.Content}
		if err := r.notifier.Notify(ctx, n); err != nil {
			r.logger.Warn("operator notification failed",
				"identity", identity, "message_id", messageID, "error", err)
		}
	}
	return Result{Accepted: true}, nil
}

// handleAudio collects a sample (best-effort) and transcribes the voice note.
func (r *Router) handleAudio(ctx context.Context, identity, messageID, raw string) (string, error) {
	if r.audio == nil {
		return "", errors.Join(audio.ErrTranscriptionFailed, errors.New("no transcriber configured"))
	}
	if r.samples != nil {
		r.collectSample(ctx, identity, messageID, raw)
	}
	return r.audio.Transcribe(ctx, raw)
}

func (r *Router) collectSample(ctx context.Context, identity, messageID, raw string) {
	dir, err := r.samples.Dir(identity)
	if err != nil {
		r.logger.Warn("sample directory unavailable", "identity", identity, "error", err)
		return
	}
	path, err := r.audio.Transcode(ctx, raw, audio.FormatMP3, dir, messageID)
	if err != nil {
		r.logger.Warn("sample transcode failed", "identity", identity, "message_id", messageID, "error", err)
		return
	}
	sample := samples.Sample{Filename: filepath.Base(path), MessageID: messageID}
	if err := r.samples.Add(ctx, identity, sample); err != nil {
		r.logger.Warn("failed to record sample", "identity", identity, "message_id", messageID, "error", err)
	}
}

func (r *Router) drop(ev Event, reason string) Result {
	r.metrics.InboundEvent("dropped")
	r.logger.Debug("inbound event dropped", "identity", ev.Identity(), "id", ev.ID, "reason", reason)
	return Result{DropReason: reason}
}

func (r *Router) forget(identity, messageID string) {
	if r.seen != nil {
		r.seen.Forget(identity, messageID)
	}
}
