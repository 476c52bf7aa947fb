// ABOUTME: Operator and API actions shared by Matrix commands and HTTP routes
// ABOUTME: Completion creates a draft; delivery hands a draft to the outbound queue

package relay

import (
	"context"

	"github.com/2389/coven-relay/internal/audio"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/drafts"
	"github.com/2389/coven-relay/internal/inbound"
	"github.com/2389/coven-relay/internal/queue"
)

// HandleEvent ingests one inbound channel event.
func (r *Relay) HandleEvent(ctx context.Context, ev inbound.Event) (inbound.Result, error) {
	return r.router.Handle(ctx, ev)
}

// Complete drafts a reply to identity's conversation up to messageID and stores it.
func (r *Relay) Complete(ctx context.Context, identity, messageID string) (drafts.Draft, error) {
	text, err := r.completion.Complete(ctx, identity, messageID)
	if err != nil {
		return drafts.Draft{}, err
	}
	d, err := r.drafts.Create(identity, r.replyTarget(identity, messageID), text)
	if err != nil {
		return drafts.Draft{}, err
	}
	r.logger.Info("draft created", "identity", identity, "message_id", messageID, "draft_id", d.ID)
	return d, nil
}

// replyTarget is the message a draft answers: messageID when given, otherwise
// the contact's latest message.
func (r *Relay) replyTarget(identity, messageID string) string {
	if messageID != "" {
		return messageID
	}
	msgs, err := r.conversations.Read(identity)
	if err != nil {
		return ""
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].FromMe {
			return msgs[i].MessageID
		}
	}
	return ""
}

// Deliver queues a draft. An empty voiceID uses the selected voice.
func (r *Relay) Deliver(ctx context.Context, identity, draftID string, kind queue.Kind, voiceID string) (queue.Item, error) {
	if voiceID == "" {
		voiceID = r.Voice()
	}
	item, err := r.handoff.Deliver(ctx, identity, draftID, kind, voiceID)
	if err != nil {
		return queue.Item{}, err
	}
	r.logger.Info("draft queued", "identity", identity, "draft_id", draftID, "item", item.Name, "kind", kind)
	return item, nil
}

// Discard drops a draft without sending it.
func (r *Relay) Discard(identity, draftID string) error {
	return r.drafts.Discard(identity, draftID)
}

// Conversation returns identity's stored messages.
func (r *Relay) Conversation(identity string) ([]conversation.Message, error) {
	return r.conversations.Read(identity)
}

// Voice returns the voice used for audio deliveries.
func (r *Relay) Voice() string {
	r.voiceMu.RLock()
	defer r.voiceMu.RUnlock()
	return r.voice
}

// SetVoice selects the voice for later audio deliveries.
func (r *Relay) SetVoice(voiceID string) {
	r.voiceMu.Lock()
	r.voice = voiceID
	r.voiceMu.Unlock()
	r.logger.Info("voice selected", "voice_id", voiceID)
}

// Voices lists the speech provider's voice library.
func (r *Relay) Voices(ctx context.Context) ([]audio.Voice, error) {
	if r.voices == nil {
		return nil, audio.ErrNoVoiceService
	}
	return r.voices.ListVoices(ctx)
}

// DeleteVoice removes a voice from the library and clears it if selected.
func (r *Relay) DeleteVoice(ctx context.Context, voiceID string) error {
	if r.voices == nil {
		return audio.ErrNoVoiceService
	}
	if err := r.voices.DeleteVoice(ctx, voiceID); err != nil {
		return err
	}
	r.voiceMu.Lock()
	if r.voice == voiceID {
		r.voice = ""
	}
	r.voiceMu.Unlock()
	r.logger.Info("voice deleted", "voice_id", voiceID)
	return nil
}

// EditVoiceSettings updates how voiceID renders.
func (r *Relay) EditVoiceSettings(ctx context.Context, voiceID string, settings audio.VoiceSettings) error {
	if r.voices == nil {
		return audio.ErrNoVoiceService
	}
	if err := r.voices.EditVoiceSettings(ctx, voiceID, settings); err != nil {
		return err
	}
	r.logger.Info("voice settings updated", "voice_id", voiceID,
		"stability", settings.Stability,
		"similarity_boost", settings.SimilarityBoost,
		"style", settings.Style,
		"use_speaker_boost", settings.UseSpeakerBoost)
	return nil
}
