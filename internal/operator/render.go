// ABOUTME: Renders operator notifications and draft replies as Markdown, plain text, and HTML
// ABOUTME: Uses goldmark for the HTML body sent to Matrix clients

package operator

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-relay/internal/drafts"
	"github.com/2389/coven-relay/internal/inbound"
)

// Rendered is a message body in both formats.
type Rendered struct {
	Plain string
	HTML  string
}

const markdownSpecials = "\\`*_{}[]()#+-.!<>|~"

// escapeMarkdown backslash-escapes characters Markdown would interpret.
func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// RenderNotification formats a new partner message.
func RenderNotification(n inbound.Notification) (Rendered, error) {
	content := n.Content
	if strings.TrimSpace(content) == "" {
		content = "(empty)"
	}
	hint := fmt.Sprintf("!complete %s %s", n.Identity, n.MessageID)

	md := fmt.Sprintf("**%s**: *%s*\n\n`%s`", escapeMarkdown(n.Name), escapeMarkdown(content), hint)
	html, err := toHTML(md)
	if err != nil {
		return Rendered{}, fmt.Errorf("rendering notification: %w", err)
	}
	return Rendered{
		Plain: fmt.Sprintf("%s: %s\n\n%s", n.Name, content, hint),
		HTML:  html,
	}, nil
}

// RenderDraft formats a drafted reply with the commands that act on it.
func RenderDraft(d drafts.Draft) (Rendered, error) {
	send := fmt.Sprintf("!send %s %s", d.ConversationID, d.ID)
	audio := fmt.Sprintf("!audio %s %s", d.ConversationID, d.ID)
	discard := fmt.Sprintf("!discard %s %s", d.ConversationID, d.ID)

	var quoted strings.Builder
	for _, line := range strings.Split(d.Text, "\n") {
		quoted.WriteString("> ")
		quoted.WriteString(escapeMarkdown(line))
		quoted.WriteString("\n")
	}
	md := fmt.Sprintf("Draft `%s` for %s:\n\n%s\n`%s` · `%s` · `%s`",
		d.ID, escapeMarkdown(d.ConversationID), quoted.String(), send, audio, discard)
	html, err := toHTML(md)
	if err != nil {
		return Rendered{}, fmt.Errorf("rendering draft: %w", err)
	}
	return Rendered{
		Plain: fmt.Sprintf("Draft %s for %s:\n\n%s\n\n%s | %s | %s", d.ID, d.ConversationID, d.Text, send, audio, discard),
		HTML:  html,
	}, nil
}
