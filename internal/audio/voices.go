// ABOUTME: Voice library management on the ElevenLabs API: list, delete, and tune voices
// ABOUTME: Backs the operator's voice commands alongside synthesis

package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoVoiceService is returned when voice management is requested but speech is not configured.
var ErrNoVoiceService = errors.New("audio: voice service is not configured")

// ErrUnknownVoice is returned when a voice id is not in the account's library.
var ErrUnknownVoice = errors.New("audio: voice not found")

// Voice is one entry of the voice library.
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// VoiceSettings tunes how a voice is rendered. The float fields range over [0, 1].
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// Validate checks the ranges of the float settings.
func (s VoiceSettings) Validate() error {
	for name, v := range map[string]float64{
		"stability":        s.Stability,
		"similarity_boost": s.SimilarityBoost,
		"style":            s.Style,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %g", name, v)
		}
	}
	return nil
}

type voicesResponse struct {
	Voices []Voice `json:"voices"`
}

// ListVoices calls GET /v1/voices.
func (e *ElevenLabs) ListVoices(ctx context.Context) ([]Voice, error) {
	var resp voicesResponse
	if err := e.call(ctx, http.MethodGet, "/v1/voices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Voices, nil
}

// DeleteVoice calls DELETE /v1/voices/{voice_id}.
func (e *ElevenLabs) DeleteVoice(ctx context.Context, voiceID string) error {
	if voiceID == "" {
		return ErrNoVoice
	}
	return e.call(ctx, http.MethodDelete, "/v1/voices/"+url.PathEscape(voiceID), nil, nil)
}

// EditVoiceSettings calls POST /v1/voices/{voice_id}/settings/edit.
func (e *ElevenLabs) EditVoiceSettings(ctx context.Context, voiceID string, settings VoiceSettings) error {
	if voiceID == "" {
		return ErrNoVoice
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	return e.call(ctx, http.MethodPost, "/v1/voices/"+url.PathEscape(voiceID)+"/settings/edit", settings, nil)
}

func (e *ElevenLabs) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("xi-api-key", e.APIKey)

	resp, err := e.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading elevenlabs response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrUnknownVoice, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("elevenlabs http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding elevenlabs response: %w", err)
	}
	return nil
}
