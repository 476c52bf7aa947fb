// ABOUTME: Transcoder turns inbound voice-note payloads into transcripts and sample files
// ABOUTME: Transcription runs under a bounded retry budget; sample transcoding is best-effort

package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/coven-relay/internal/fsstore"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/retry"
)

// DefaultTranscriptionAttempts is the per-event transcription budget.
const DefaultTranscriptionAttempts = 3

// ErrTranscriptionFailed is returned when no attempt produced a transcript.
var ErrTranscriptionFailed = errors.New("audio: transcription failed")

var errEmptyTranscript = errors.New("empty transcript")

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, p Payload) (string, error)
}

// Converter converts an audio file into format.
type Converter interface {
	Convert(ctx context.Context, src, dst string, format Format) error
}

// Transcoder is the inbound audio pipeline.
type Transcoder struct {
	transcriber Transcriber
	converter   Converter
	policy      retry.Policy
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// TranscoderOption configures a Transcoder.
type TranscoderOption func(*Transcoder)

// WithAttempts overrides the transcription budget.
func WithAttempts(n int) TranscoderOption {
	return func(t *Transcoder) { t.policy.Attempts = n }
}

// WithTranscoderMetrics counts individual transcription attempts.
func WithTranscoderMetrics(m *metrics.Metrics) TranscoderOption {
	return func(t *Transcoder) { t.metrics = m }
}

// NewTranscoder wires a transcriber and converter. converter may be nil, which disables Transcode.
func NewTranscoder(transcriber Transcriber, converter Converter, logger *slog.Logger, opts ...TranscoderOption) *Transcoder {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transcoder{
		transcriber: transcriber,
		converter:   converter,
		policy:      retry.Policy{Attempts: DefaultTranscriptionAttempts},
		logger:      logger.With("component", "transcoder"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcribe decodes raw and returns its transcript. Attempts are made back to
// back with no delay. Every failure wraps ErrTranscriptionFailed.
func (t *Transcoder) Transcribe(ctx context.Context, raw string) (string, error) {
	payload, err := ParseDataURI(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}

	text, err := retry.Do(ctx, t.policy, func(ctx context.Context, attempt int) (string, error) {
		text, err := t.transcriber.Transcribe(ctx, payload)
		if err == nil && strings.TrimSpace(text) == "" {
			err = errEmptyTranscript
		}
		if err != nil {
			t.metrics.TranscriptionAttempt("failed")
			t.logger.Warn("transcription attempt failed", "attempt", attempt, "error", err)
			return "", err
		}
		t.metrics.TranscriptionAttempt("ok")
		return text, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	return strings.TrimSpace(text), nil
}

// Transcode decodes raw and converts it into dir/<baseName>.<format>.
// It returns the path of the converted file.
func (t *Transcoder) Transcode(ctx context.Context, raw string, format Format, dir, baseName string) (string, error) {
	if t.converter == nil {
		return "", errors.New("audio: no converter configured")
	}
	if err := fsstore.ValidateName(baseName); err != nil {
		return "", err
	}
	payload, err := ParseDataURI(raw)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, fsstore.DirPerm); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	src, err := os.CreateTemp(dir, ".src-*"+payload.Extension())
	if err != nil {
		return "", fmt.Errorf("creating source file: %w", err)
	}
	srcPath := src.Name()
	defer os.Remove(srcPath)

	if _, err := src.Write(payload.Data); err != nil {
		src.Close()
		return "", fmt.Errorf("writing source file: %w", err)
	}
	if err := src.Close(); err != nil {
		return "", fmt.Errorf("closing source file: %w", err)
	}

	dst := filepath.Join(dir, baseName+"."+string(format))
	if err := t.converter.Convert(ctx, srcPath, dst, format); err != nil {
		_ = fsstore.RemoveIfExists(dst)
		return "", err
	}
	return dst, nil
}
