// ABOUTME: Text-to-speech client for the ElevenLabs synthesis endpoint
// ABOUTME: Returns mp3 audio for a draft reply spoken with the selected voice

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
	"time"
)

// ErrNoVoice is returned when synthesis is requested without a voice id.
var ErrNoVoice = errors.New("audio: no voice selected")

// ElevenLabs calls POST {BaseURL}/v1/text-to-speech/{voice_id}.
type ElevenLabs struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client
}

// NewElevenLabs builds a client. Empty values get the service defaults.
func NewElevenLabs(baseURL, apiKey, model string, timeout time.Duration) *ElevenLabs {
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	if model == "" {
		model = "eleven_multilingual_v2"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ElevenLabs{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize renders text and returns the mp3 bytes.
func (e *ElevenLabs) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	if voiceID == "" {
		return nil, ErrNoVoice
	}
	b, err := json.Marshal(synthesisRequest{Text: text, ModelID: e.Model})
	if err != nil {
		return nil, err
	}

	endpoint := e.BaseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.APIKey)

	resp, err := e.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading elevenlabs response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("elevenlabs http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(raw) == 0 {
		return nil, errors.New("elevenlabs returned no audio")
	}
	return raw, nil
}
