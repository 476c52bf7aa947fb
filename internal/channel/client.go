// ABOUTME: HTTP client for the WhatsApp bridge that performs outbound text and voice sends
// ABOUTME: Normalizes identities to full phone numbers and classifies rejected sends as permanent

package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config describes how to reach the bridge.
type Config struct {
	BaseURL     string
	Session     string
	Token       string
	CountryCode string
	Timeout     time.Duration
}

// StatusError is a non-2xx reply from the bridge.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("channel %s: http %d: %s", e.Op, e.Status, e.Body)
}

// Permanent reports whether the bridge rejected the item itself, so resending
// the same request cannot succeed. Auth, routing and server errors are not
// permanent: they come from configuration or the bridge and clear on their own.
func (e *StatusError) Permanent() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// Client sends messages through the bridge.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a client with cfg.Timeout (default 120s) on every call.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "channel"),
	}
}

// Phone returns the full number for identity, adding the country code when absent.
func (c *Client) Phone(identity string) string {
	if c.cfg.CountryCode == "" || strings.HasPrefix(identity, c.cfg.CountryCode) {
		return identity
	}
	return c.cfg.CountryCode + identity
}

type sendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendVoiceRequest struct {
	Phone     string `json:"phone"`
	Base64Ptt string `json:"base64Ptt"`
}

// SendText sends a text message.
func (c *Client) SendText(ctx context.Context, identity, text string) error {
	return c.post(ctx, "send-message", sendMessageRequest{Phone: c.Phone(identity), Message: text})
}

// SendVoice sends the Opus file at audioPath as a voice note.
func (c *Client) SendVoice(ctx context.Context, identity, audioPath string) error {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("reading voice note: %w", err)
	}
	ptt := "data:audio/ogg; codecs=opus;base64," + base64.StdEncoding.EncodeToString(data)
	return c.post(ctx, "send-voice-base64", sendVoiceRequest{Phone: c.Phone(identity), Base64Ptt: ptt})
}

func (c *Client) post(ctx context.Context, op string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/%s/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Session), op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("channel %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	c.logger.Debug("channel send ok", "op", op, "duration", time.Since(start))
	return nil
}
