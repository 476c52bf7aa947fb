// ABOUTME: Matrix frontend that posts operator notifications and reads operator commands
// ABOUTME: Listens in one room via the mautrix sync loop and replies with formatted messages

package operator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/inbound"
)

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 30 * time.Second

// MatrixConfig identifies the bot account and the operator room.
type MatrixConfig struct {
	Homeserver    string
	UserID        string
	AccessToken   string
	RoomID        string
	CommandPrefix string
}

// Matrix is both a Notifier and the command listener.
type Matrix struct {
	cfg      MatrixConfig
	client   *mautrix.Client
	commands *Commands
	logger   *slog.Logger
}

// NewMatrix creates the client. commands may be nil for notify-only use.
func NewMatrix(cfg MatrixConfig, commands *Commands, logger *slog.Logger) (*Matrix, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Matrix{
		cfg:      cfg,
		client:   client,
		commands: commands,
		logger:   logger.With("component", "operator_matrix"),
	}, nil
}

// Notify posts a new-message notification to the operator room.
func (m *Matrix) Notify(ctx context.Context, n inbound.Notification) error {
	r, err := RenderNotification(n)
	if err != nil {
		return err
	}
	return m.send(ctx, r)
}

// Run syncs until ctx is cancelled, executing commands from the operator room.
func (m *Matrix) Run(ctx context.Context) error {
	m.logger.Info("starting matrix operator",
		"homeserver", m.cfg.Homeserver,
		"user_id", m.cfg.UserID,
		"room", m.cfg.RoomID,
	)

	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", m.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, m.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- m.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		m.logger.Info("shutting down matrix operator")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (m *Matrix) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(m.cfg.UserID) || evt.RoomID.String() != m.cfg.RoomID {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText || m.commands == nil {
		return
	}

	cmd, isCommand, err := ParseCommand(m.cfg.CommandPrefix, content.Body)
	if !isCommand {
		return
	}
	if err != nil {
		m.reply(plain(err.Error() + "\n" + usage))
		return
	}

	m.logger.Info("operator command", "command", cmd.Name, "sender", evt.Sender.String())
	// Completions and speech rendering are slow; keep the sync loop moving.
	go m.reply(m.commands.Execute(context.WithoutCancel(ctx), cmd))
}

func (m *Matrix) reply(r Rendered) {
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if err := m.send(ctx, r); err != nil {
		m.logger.Error("failed to send reply", "room", m.cfg.RoomID, "error", err)
	}
}

func (m *Matrix) send(ctx context.Context, r Rendered) error {
	room := id.RoomID(m.cfg.RoomID)
	if r.HTML == "" {
		_, err := m.client.SendText(ctx, room, r.Plain)
		return err
	}
	_, err := m.client.SendMessageEvent(ctx, room, event.EventMessage, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          r.Plain,
		Format:        event.FormatHTML,
		FormattedBody: r.HTML,
	})
	return err
}
