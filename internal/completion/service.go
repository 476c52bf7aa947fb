// ABOUTME: Completion service that drafts a reply for a conversation up to a message
// ABOUTME: Retries once on rate limiting with a recent-window prompt and surfaces a typed Error

package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/metrics"
)

// Error is a failed completion carrying the upstream error text.
type Error struct {
	Identity    string
	RateLimited bool
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("completion for %s failed: %v", e.Identity, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Upstream returns the upstream error text shown to the operator.
func (e *Error) Upstream() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Reader is the part of the conversation store the service needs.
type Reader interface {
	Read(identity string) ([]conversation.Message, error)
}

// Service drafts replies.
type Service struct {
	conversations Reader
	llm           LLM
	persona       Persona
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewService wires the service. m may be nil.
func NewService(conversations Reader, llm LLM, persona Persona, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		conversations: conversations,
		llm:           llm,
		persona:       persona,
		metrics:       m,
		logger:        logger.With("component", "completion"),
	}
}

// Complete drafts a reply to identity's conversation truncated at uptoID.
// It returns conversation.ErrNotFound for unknown identities and *Error for upstream failures.
func (s *Service) Complete(ctx context.Context, identity, uptoID string) (string, error) {
	msgs, err := s.conversations.Read(identity)
	if err != nil {
		return "", err
	}

	truncated, found := Truncate(msgs, uptoID)
	if !found {
		s.logger.Warn("message id not in conversation, using whole conversation",
			"identity", identity, "message_id", uptoID, "messages", len(msgs))
	}

	text, err := s.llm.Complete(ctx, BuildPrompt(s.persona, truncated))
	if errors.Is(err, ErrRateLimited) {
		s.logger.Warn("completion rate limited, retrying with recent window",
			"identity", identity, "message_id", uptoID, "window", FallbackWindow)
		s.metrics.Completion("rate_limited")
		text, err = s.llm.Complete(ctx, BuildPrompt(s.persona, Tail(truncated, FallbackWindow)))
		if err != nil {
			s.metrics.Completion("failed")
			return "", &Error{Identity: identity, RateLimited: true, Err: err}
		}
	} else if err != nil {
		s.metrics.Completion("failed")
		return "", &Error{Identity: identity, Err: err}
	}

	s.metrics.Completion("ok")
	return StripLabels(s.persona, text), nil
}
