// ABOUTME: Tests for the Whisper and ElevenLabs HTTP clients against httptest servers
// ABOUTME: Verifies request shape, auth headers, and error surfacing

package audio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhisper_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		assert.Equal(t, "voice.ogg", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "OggS", string(data))

		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hola que tal"})
	}))
	defer srv.Close()

	w := NewWhisper(srv.URL, "sk-test", "", time.Second)
	text, err := w.Transcribe(context.Background(), Payload{MIMEType: "audio/ogg", Data: []byte("OggS")})
	require.NoError(t, err)
	assert.Equal(t, "hola que tal", text)
}

func TestWhisper_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"unsupported file"}}`))
	}))
	defer srv.Close()

	w := NewWhisper(srv.URL, "", "", time.Second)
	_, err := w.Transcribe(context.Background(), Payload{MIMEType: "audio/ogg", Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file")
	assert.Contains(t, err.Error(), "400")
}

func TestElevenLabs_Synthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice123", r.URL.Path)
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))

		var body synthesisRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hola", body.Text)
		assert.Equal(t, "eleven_multilingual_v2", body.ModelID)

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3mp3"))
	}))
	defer srv.Close()

	e := NewElevenLabs(srv.URL, "xi-key", "", time.Second)
	audio, err := e.Synthesize(context.Background(), "voice123", "hola")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3mp3"), audio)
}

func TestElevenLabs_RequiresVoice(t *testing.T) {
	e := NewElevenLabs("http://127.0.0.1:1", "k", "", time.Second)
	_, err := e.Synthesize(context.Background(), "", "hola")
	assert.ErrorIs(t, err, ErrNoVoice)
}

func TestElevenLabs_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := NewElevenLabs(srv.URL, "k", "", time.Second)
	_, err := e.Synthesize(context.Background(), "v", "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestConvertArgs(t *testing.T) {
	args, err := convertArgs("in.mp3", "out.opus", FormatOpus)
	require.NoError(t, err)
	assert.Equal(t, []string{"-y", "-loglevel", "error", "-i", "in.mp3",
		"-c:a", "libopus", "-b:a", "32k", "-f", "opus", "out.opus"}, args)

	_, err = convertArgs("a", "b", Format("flac"))
	assert.Error(t, err)
}

func TestFFmpeg_MissingBinary(t *testing.T) {
	f := NewFFmpeg("/nonexistent/ffmpeg")
	err := f.Convert(context.Background(), "a", "b", FormatOpus)
	assert.Error(t, err)
}
