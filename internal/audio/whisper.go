// ABOUTME: Speech-to-text client for the OpenAI audio transcription endpoint
// ABOUTME: Uploads the voice note as multipart form data and returns the transcript text

package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Whisper calls POST {BaseURL}/v1/audio/transcriptions.
type Whisper struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client
}

// NewWhisper builds a client. Empty values get the OpenAI defaults.
func NewWhisper(baseURL, apiKey, model string, timeout time.Duration) *Whisper {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if model == "" {
		model = "whisper-1"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Whisper{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type transcriptionResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Transcribe returns the text spoken in p.
func (w *Whisper) Transcribe(ctx context.Context, p Payload) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "voice"+p.Extension())
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(p.Data); err != nil {
		return "", err
	}
	if err := mw.WriteField("model", w.Model); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.APIKey)
	}

	resp, err := w.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading whisper response: %w", err)
	}

	var out transcriptionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("whisper http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("whisper http %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("whisper http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return out.Text, nil
}
