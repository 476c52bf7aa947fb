// ABOUTME: Parses and executes operator chat commands against the relay's actions
// ABOUTME: Returns reply text for the operator room; errors become readable replies

package operator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/2389/coven-relay/internal/audio"
	"github.com/2389/coven-relay/internal/completion"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/drafts"
	"github.com/2389/coven-relay/internal/queue"
)

// ErrUnknownCommand is returned by ParseCommand for unrecognized input.
var ErrUnknownCommand = errors.New("unknown command")

// Command is a parsed operator command.
type Command struct {
	Name string
	Args []string
}

var arity = map[string][2]int{
	"complete":      {2, 2},
	"send":          {2, 2},
	"audio":         {2, 2},
	"discard":       {2, 2},
	"voice":         {0, 1},
	"voices":        {0, 0},
	"deletevoice":   {1, 1},
	"voicesettings": {5, 5},
	"ping":          {0, 0},
	"help":          {0, 0},
}

const usage = "Commands: !complete <identity> <messageId>, !send <identity> <draftId>, " +
	"!audio <identity> <draftId>, !discard <identity> <draftId>, !voice [voiceId], !voices, " +
	"!deletevoice <voiceId>, !voicesettings <voiceId> <stability> <similarityBoost> <style> <speakerBoost>, !ping"

const voiceSettingsUsage = "Usage: !voicesettings <voiceId> <stability> <similarityBoost> <style> <speakerBoost true|false>"

// ParseCommand reads "<prefix><name> args..." from body.
// ok is false when body does not start with prefix.
func ParseCommand(prefix, body string) (cmd Command, ok bool, err error) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, prefix) {
		return Command{}, false, nil
	}
	fields := strings.Fields(strings.TrimPrefix(body, prefix))
	if len(fields) == 0 {
		return Command{}, true, ErrUnknownCommand
	}
	name := strings.ToLower(fields[0])
	bounds, known := arity[name]
	if !known {
		return Command{}, true, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	args := fields[1:]
	if len(args) < bounds[0] || len(args) > bounds[1] {
		return Command{}, true, fmt.Errorf("wrong number of arguments for %s", name)
	}
	return Command{Name: name, Args: args}, true, nil
}

// Actions is what operator commands can do.
type Actions interface {
	Complete(ctx context.Context, identity, messageID string) (drafts.Draft, error)
	Deliver(ctx context.Context, identity, draftID string, kind queue.Kind, voiceID string) (queue.Item, error)
	Discard(identity, draftID string) error
	Voice() string
	SetVoice(voiceID string)
	Voices(ctx context.Context) ([]audio.Voice, error)
	DeleteVoice(ctx context.Context, voiceID string) error
	EditVoiceSettings(ctx context.Context, voiceID string, settings audio.VoiceSettings) error
}

// Commands executes parsed commands.
type Commands struct {
	actions Actions
	logger  *slog.Logger
}

// NewCommands wires command execution to actions.
func NewCommands(actions Actions, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{actions: actions, logger: logger.With("component", "operator_commands")}
}

// Execute runs cmd and returns the reply to show the operator.
func (c *Commands) Execute(ctx context.Context, cmd Command) Rendered {
	switch cmd.Name {
	case "ping":
		return plain("pong")
	case "help":
		return plain(usage)
	case "voice":
		if len(cmd.Args) == 0 {
			if v := c.actions.Voice(); v != "" {
				return plain("Current voice: " + v)
			}
			return plain("No voice selected")
		}
		return c.setVoice(ctx, cmd.Args[0])
	case "voices":
		return c.listVoices(ctx)
	case "deletevoice":
		if err := c.actions.DeleteVoice(ctx, cmd.Args[0]); err != nil {
			c.logger.Warn("delete voice command failed", "voice_id", cmd.Args[0], "error", err)
			return plain(describe(err))
		}
		return plain("Voice deleted")
	case "voicesettings":
		return c.editVoiceSettings(ctx, cmd.Args)
	case "complete":
		return c.complete(ctx, cmd.Args[0], cmd.Args[1])
	case "send":
		return c.deliver(ctx, cmd.Args[0], cmd.Args[1], queue.KindText)
	case "audio":
		return c.deliver(ctx, cmd.Args[0], cmd.Args[1], queue.KindAudio)
	case "discard":
		if err := c.actions.Discard(cmd.Args[0], cmd.Args[1]); err != nil {
			return plain(describe(err))
		}
		return plain("Discarded")
	}
	return plain(usage)
}

func (c *Commands) complete(ctx context.Context, identity, messageID string) Rendered {
	d, err := c.actions.Complete(ctx, identity, messageID)
	if err != nil {
		c.logger.Warn("completion command failed", "identity", identity, "message_id", messageID, "error", err)
		return plain(describe(err))
	}
	r, err := RenderDraft(d)
	if err != nil {
		return plain(d.Text)
	}
	return r
}

func (c *Commands) deliver(ctx context.Context, identity, draftID string, kind queue.Kind) Rendered {
	if _, err := c.actions.Deliver(ctx, identity, draftID, kind, c.actions.Voice()); err != nil {
		c.logger.Warn("deliver command failed", "identity", identity, "draft_id", draftID, "kind", kind, "error", err)
		return plain(describe(err))
	}
	return plain("Queued")
}

// setVoice selects voiceID after checking it exists, when the library can be listed.
func (c *Commands) setVoice(ctx context.Context, voiceID string) Rendered {
	voices, err := c.actions.Voices(ctx)
	switch {
	case errors.Is(err, audio.ErrNoVoiceService):
	case err != nil:
		c.logger.Warn("listing voices failed", "error", err)
		return plain(describe(err))
	default:
		known := false
		for _, v := range voices {
			if v.VoiceID == voiceID {
				known = true
				break
			}
		}
		if !known {
			return plain("Voice not found")
		}
	}
	c.actions.SetVoice(voiceID)
	return plain("Voice set to " + voiceID)
}

func (c *Commands) listVoices(ctx context.Context) Rendered {
	voices, err := c.actions.Voices(ctx)
	if err != nil {
		return plain(describe(err))
	}
	if len(voices) == 0 {
		return plain("No voices available")
	}
	current := c.actions.Voice()
	var b strings.Builder
	b.WriteString("Voices:")
	for _, v := range voices {
		fmt.Fprintf(&b, "\n- %s (%s)", v.Name, v.VoiceID)
		if v.VoiceID == current {
			b.WriteString(" [current]")
		}
	}
	return plain(b.String())
}

func (c *Commands) editVoiceSettings(ctx context.Context, args []string) Rendered {
	var settings audio.VoiceSettings
	floats := []*float64{&settings.Stability, &settings.SimilarityBoost, &settings.Style}
	for i, dst := range floats {
		v, err := strconv.ParseFloat(args[i+1], 64)
		if err != nil {
			return plain(voiceSettingsUsage)
		}
		*dst = v
	}
	boost, err := strconv.ParseBool(args[4])
	if err != nil {
		return plain(voiceSettingsUsage)
	}
	settings.UseSpeakerBoost = boost
	if err := settings.Validate(); err != nil {
		return plain("Error: " + err.Error())
	}

	if err := c.actions.EditVoiceSettings(ctx, args[0], settings); err != nil {
		c.logger.Warn("voice settings command failed", "voice_id", args[0], "error", err)
		return plain(describe(err))
	}
	return plain("Voice settings updated")
}

// describe turns an action error into operator-facing text.
func describe(err error) string {
	var cerr *completion.Error
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return "Chat not found"
	case errors.Is(err, drafts.ErrNotFound):
		return "Draft not found"
	case errors.Is(err, queue.ErrAlreadyQueued):
		return "Already queued"
	case errors.Is(err, drafts.ErrNoRenderer):
		return "Audio is not configured"
	case errors.Is(err, audio.ErrNoVoiceService):
		return "Voice management is not configured"
	case errors.Is(err, audio.ErrUnknownVoice):
		return "Voice not found"
	case errors.As(err, &cerr):
		return "Error completing message: " + cerr.Upstream()
	default:
		return "Error: " + err.Error()
	}
}

func plain(s string) Rendered {
	return Rendered{Plain: s}
}
