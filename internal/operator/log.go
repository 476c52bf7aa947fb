// ABOUTME: Notifier that writes operator notifications to the structured log
// ABOUTME: Used when no chat frontend is configured

package operator

import (
	"context"
	"log/slog"

	"github.com/2389/coven-relay/internal/inbound"
)

// LogNotifier logs notifications at info level.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "operator_log")}
}

func (n *LogNotifier) Notify(ctx context.Context, note inbound.Notification) error {
	n.logger.Info("new message",
		"identity", note.Identity,
		"message_id", note.MessageID,
		"name", note.Name,
		"content", truncate(note.Content, 200),
	)
	return nil
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
