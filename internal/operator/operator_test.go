// ABOUTME: Tests for operator command parsing, execution, and message rendering
// ABOUTME: Uses a fake Actions implementation in place of the relay

package operator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/audio"
	"github.com/2389/coven-relay/internal/completion"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/drafts"
	"github.com/2389/coven-relay/internal/inbound"
	"github.com/2389/coven-relay/internal/queue"
)

type fakeActions struct {
	draft       drafts.Draft
	completeErr error
	deliverErr  error
	discardErr  error
	voice       string
	delivered   []string

	voices    []audio.Voice
	voicesErr error
	deleted   []string
	deleteErr error
	settings  map[string]audio.VoiceSettings
}

func (f *fakeActions) Complete(ctx context.Context, identity, messageID string) (drafts.Draft, error) {
	return f.draft, f.completeErr
}

func (f *fakeActions) Deliver(ctx context.Context, identity, draftID string, kind queue.Kind, voiceID string) (queue.Item, error) {
	f.delivered = append(f.delivered, fmt.Sprintf("%s/%s/%s/%s", identity, draftID, kind, voiceID))
	return queue.Item{}, f.deliverErr
}

func (f *fakeActions) Discard(identity, draftID string) error { return f.discardErr }
func (f *fakeActions) Voice() string                          { return f.voice }
func (f *fakeActions) SetVoice(voiceID string)                { f.voice = voiceID }

func (f *fakeActions) Voices(ctx context.Context) ([]audio.Voice, error) {
	return f.voices, f.voicesErr
}

func (f *fakeActions) DeleteVoice(ctx context.Context, voiceID string) error {
	f.deleted = append(f.deleted, voiceID)
	return f.deleteErr
}

func (f *fakeActions) EditVoiceSettings(ctx context.Context, voiceID string, s audio.VoiceSettings) error {
	if f.settings == nil {
		f.settings = make(map[string]audio.VoiceSettings)
	}
	f.settings[voiceID] = s
	return nil
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		body    string
		ok      bool
		wantErr bool
		want    Command
	}{
		{body: "hello there", ok: false},
		{body: "!ping", ok: true, want: Command{Name: "ping", Args: []string{}}},
		{body: "  !COMPLETE 34600111222 ABC1 ", ok: true, want: Command{Name: "complete", Args: []string{"34600111222", "ABC1"}}},
		{body: "!voice", ok: true, want: Command{Name: "voice", Args: []string{}}},
		{body: "!complete 34600111222", ok: true, wantErr: true},
		{body: "!frobnicate", ok: true, wantErr: true},
		{body: "!", ok: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			cmd, ok, err := ParseCommand("!", tt.body)
			assert.Equal(t, tt.ok, ok)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.ok {
				assert.Equal(t, tt.want, cmd)
			}
		})
	}
}

func TestParseCommand_UnknownIsTyped(t *testing.T) {
	_, _, err := ParseCommand("!", "!nope")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestExecute_Voice(t *testing.T) {
	actions := &fakeActions{voices: []audio.Voice{{VoiceID: "v-123", Name: "Ana"}}}
	c := NewCommands(actions, nil)
	ctx := context.Background()

	assert.Equal(t, "No voice selected", c.Execute(ctx, Command{Name: "voice"}).Plain)
	assert.Equal(t, "Voice set to v-123", c.Execute(ctx, Command{Name: "voice", Args: []string{"v-123"}}).Plain)
	assert.Equal(t, "Current voice: v-123", c.Execute(ctx, Command{Name: "voice"}).Plain)

	assert.Equal(t, "Voice not found", c.Execute(ctx, Command{Name: "voice", Args: []string{"v-999"}}).Plain)
	assert.Equal(t, "v-123", actions.voice)
}

func TestExecute_VoiceWithoutLibrarySkipsCheck(t *testing.T) {
	actions := &fakeActions{voicesErr: audio.ErrNoVoiceService}
	c := NewCommands(actions, nil)

	reply := c.Execute(context.Background(), Command{Name: "voice", Args: []string{"v-1"}})
	assert.Equal(t, "Voice set to v-1", reply.Plain)
	assert.Equal(t, "v-1", actions.voice)
}

func TestExecute_Voices(t *testing.T) {
	actions := &fakeActions{
		voice:  "v2",
		voices: []audio.Voice{{VoiceID: "v1", Name: "Ana"}, {VoiceID: "v2", Name: "Luis"}},
	}
	c := NewCommands(actions, nil)
	ctx := context.Background()

	reply := c.Execute(ctx, Command{Name: "voices"})
	assert.Equal(t, "Voices:\n- Ana (v1)\n- Luis (v2) [current]", reply.Plain)

	actions.voices = nil
	assert.Equal(t, "No voices available", c.Execute(ctx, Command{Name: "voices"}).Plain)

	actions.voicesErr = audio.ErrNoVoiceService
	assert.Equal(t, "Voice management is not configured", c.Execute(ctx, Command{Name: "voices"}).Plain)
}

func TestExecute_DeleteVoice(t *testing.T) {
	actions := &fakeActions{}
	c := NewCommands(actions, nil)
	ctx := context.Background()

	assert.Equal(t, "Voice deleted", c.Execute(ctx, Command{Name: "deletevoice", Args: []string{"v1"}}).Plain)
	assert.Equal(t, []string{"v1"}, actions.deleted)

	actions.deleteErr = fmt.Errorf("%w: voice_not_found", audio.ErrUnknownVoice)
	assert.Equal(t, "Voice not found", c.Execute(ctx, Command{Name: "deletevoice", Args: []string{"v2"}}).Plain)
}

func TestExecute_VoiceSettings(t *testing.T) {
	actions := &fakeActions{}
	c := NewCommands(actions, nil)
	ctx := context.Background()

	cmd, ok, err := ParseCommand("!", "!voicesettings v1 0.5 0.75 0 true")
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "Voice settings updated", c.Execute(ctx, cmd).Plain)
	assert.Equal(t, audio.VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75, UseSpeakerBoost: true}, actions.settings["v1"])

	bad := Command{Name: "voicesettings", Args: []string{"v1", "high", "0.75", "0", "true"}}
	assert.Equal(t, voiceSettingsUsage, c.Execute(ctx, bad).Plain)

	bad = Command{Name: "voicesettings", Args: []string{"v1", "0.5", "0.75", "0", "maybe"}}
	assert.Equal(t, voiceSettingsUsage, c.Execute(ctx, bad).Plain)

	outOfRange := Command{Name: "voicesettings", Args: []string{"v2", "2", "0.75", "0", "false"}}
	assert.Contains(t, c.Execute(ctx, outOfRange).Plain, "stability must be between 0 and 1")
	assert.NotContains(t, actions.settings, "v2")
}

func TestExecute_DeliverUsesCurrentVoice(t *testing.T) {
	actions := &fakeActions{voice: "v-9"}
	c := NewCommands(actions, nil)

	r := c.Execute(context.Background(), Command{Name: "audio", Args: []string{"34600111222", "deadbeef"}})
	assert.Equal(t, "Queued", r.Plain)
	r = c.Execute(context.Background(), Command{Name: "send", Args: []string{"34600111222", "cafef00d"}})
	assert.Equal(t, "Queued", r.Plain)

	assert.Equal(t, []string{
		"34600111222/deadbeef/audio/v-9",
		"34600111222/cafef00d/text/v-9",
	}, actions.delivered)
}

func TestExecute_Complete(t *testing.T) {
	actions := &fakeActions{draft: drafts.Draft{ConversationID: "34600111222", ID: "deadbeef", Text: "see you at 8"}}
	c := NewCommands(actions, nil)

	r := c.Execute(context.Background(), Command{Name: "complete", Args: []string{"34600111222", "ABC1"}})
	assert.Contains(t, r.Plain, "see you at 8")
	assert.Contains(t, r.Plain, "!send 34600111222 deadbeef")
	assert.Contains(t, r.Plain, "!audio 34600111222 deadbeef")
	assert.Contains(t, r.HTML, "<blockquote>")
}

func TestExecute_ErrorReplies(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"chat missing", conversation.ErrNotFound, "Chat not found"},
		{"draft missing", drafts.ErrNotFound, "Draft not found"},
		{"upstream", &completion.Error{Identity: "x", Err: errors.New("boom")}, "Error completing message: boom"},
		{"other", errors.New("disk full"), "Error: disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCommands(&fakeActions{completeErr: tt.err}, nil)
			r := c.Execute(context.Background(), Command{Name: "complete", Args: []string{"a", "b"}})
			assert.Equal(t, tt.want, r.Plain)
		})
	}
}

func TestExecute_DiscardAndDeliverErrors(t *testing.T) {
	c := NewCommands(&fakeActions{discardErr: drafts.ErrNotFound, deliverErr: queue.ErrAlreadyQueued}, nil)
	ctx := context.Background()

	assert.Equal(t, "Draft not found", c.Execute(ctx, Command{Name: "discard", Args: []string{"a", "b"}}).Plain)
	assert.Equal(t, "Already queued", c.Execute(ctx, Command{Name: "send", Args: []string{"a", "b"}}).Plain)
	assert.Equal(t, "pong", c.Execute(ctx, Command{Name: "ping"}).Plain)
}

func TestRenderNotification(t *testing.T) {
	r, err := RenderNotification(inbound.Notification{
		Identity:  "34600111222",
		MessageID: "ABC1",
		Name:      "Ana",
		Content:   "hola <b>*amigo*</b>",
	})
	require.NoError(t, err)

	assert.Equal(t, "Ana: hola <b>*amigo*</b>\n\n!complete 34600111222 ABC1", r.Plain)
	assert.Contains(t, r.HTML, "<strong>Ana</strong>")
	assert.Contains(t, r.HTML, "<code>!complete 34600111222 ABC1</code>")
	assert.NotContains(t, r.HTML, "<b>")
	assert.Contains(t, r.HTML, "&lt;b&gt;")
}

func TestRenderNotification_EmptyContent(t *testing.T) {
	r, err := RenderNotification(inbound.Notification{Identity: "1", MessageID: "m", Name: "Ana"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(r.Plain, "Ana: (empty)"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "ñá...", truncate("ñáé", 2))
}
