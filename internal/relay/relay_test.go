// ABOUTME: End-to-end tests for the relay against fake channel and completion services
// ABOUTME: Drives an inbound event through completion, draft delivery, and the delivery worker

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/audio"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/inbound"
	"github.com/2389/coven-relay/internal/queue"
)

type channelRecorder struct {
	mu     sync.Mutex
	posts  []string
	bodies []map[string]string
}

func (c *channelRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	c.mu.Lock()
	c.posts = append(c.posts, r.URL.Path)
	c.bodies = append(c.bodies, body)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *channelRecorder) snapshot() ([]string, []map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.posts...), append([]map[string]string(nil), c.bodies...)
}

func newLLM(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, channelURL, llmURL, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
storage:
  dir: %q
queue:
  dir: %q
delivery:
  poll_interval: "20ms"
  cooldown_base: "1ms"
  cooldown_jitter_max: "0s"
  send_timeout: "5s"
channel:
  base_url: %q
completion:
  base_url: %q
  model: "test-model"
  persona_file: %q
drafts:
  path: %q
metrics:
  enabled: true
`, filepath.Join(dir, "conversations"), filepath.Join(dir, "queue"), channelURL, llmURL,
		filepath.Join(dir, "persona.toml"), filepath.Join(dir, "drafts.json"))

	cfg, err := config.Parse([]byte(yaml + extra))
	require.NoError(t, err)
	return cfg
}

func serve(t *testing.T, r *Relay) (baseURL string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, ln) }()

	return "http://" + ln.Addr().String(), func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("relay did not stop")
		}
	}
}

func post(t *testing.T, url, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	out["status"] = float64(resp.StatusCode)
	return out
}

const inboundEvent = `{"chatId":{"user":"34600111222"},"from":"34600111222@c.us","sender":{"shortName":"Ana"},` +
	`"id":"false_34600111222@c.us_ABC1","t":1700000000,"fromMe":false,"content":"hola, cenamos?"}`

func TestRelay_EventToDelivery(t *testing.T) {
	ch := &channelRecorder{}
	chSrv := httptest.NewServer(ch)
	t.Cleanup(chSrv.Close)
	llm := newLLM(t, "User 1: see you at 8")

	r, err := New(testConfig(t, chSrv.URL, llm.URL, ""), nil)
	require.NoError(t, err)
	base, stop := serve(t, r)
	defer stop()

	out := post(t, base+"/api/events", inboundEvent)
	assert.Equal(t, float64(http.StatusOK), out["status"])
	assert.Equal(t, "Message received", out["message"])

	// Redelivery is dropped but still acknowledged.
	out = post(t, base+"/api/events", inboundEvent)
	assert.Equal(t, float64(http.StatusOK), out["status"])

	msgs, err := r.Conversation("34600111222")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ABC1", msgs[0].MessageID)

	out = post(t, base+"/api/complete", `{"conversationId":"34600111222","messageId":"ABC1"}`)
	require.Equal(t, float64(http.StatusOK), out["status"], out)
	assert.Equal(t, "see you at 8", out["text"])
	draftID, _ := out["draftId"].(string)
	require.Len(t, draftID, 8)

	out = post(t, base+"/api/drafts/deliver", fmt.Sprintf(`{"conversationId":"34600111222","draftId":%q}`, draftID))
	require.Equal(t, float64(http.StatusOK), out["status"], out)
	assert.Equal(t, "Queued", out["message"])

	require.Eventually(t, func() bool {
		posts, _ := ch.snapshot()
		return len(posts) == 1
	}, 3*time.Second, 10*time.Millisecond)

	posts, bodies := ch.snapshot()
	assert.Equal(t, "/api/default/send-message", posts[0])
	assert.Equal(t, "34600111222", bodies[0]["phone"])
	assert.Equal(t, "see you at 8", bodies[0]["message"])

	// The draft is consumed by the handoff.
	out = post(t, base+"/api/drafts/discard", fmt.Sprintf(`{"conversationId":"34600111222","draftId":%q}`, draftID))
	assert.Equal(t, float64(http.StatusNotFound), out["status"])
}

func TestRelay_CompleteUnknownChat(t *testing.T) {
	llm := newLLM(t, "unused")
	r, err := New(testConfig(t, "http://127.0.0.1:1", llm.URL, ""), nil)
	require.NoError(t, err)
	base, stop := serve(t, r)
	defer stop()

	out := post(t, base+"/api/complete", `{"conversationId":"34999999999","messageId":"X"}`)
	assert.Equal(t, float64(http.StatusNotFound), out["status"])
	assert.Equal(t, "Chat not found", out["message"])
	assert.Equal(t, true, out["error"])
}

func TestRelay_AudioWithoutSpeech(t *testing.T) {
	llm := newLLM(t, "ok")
	r, err := New(testConfig(t, "http://127.0.0.1:1", llm.URL, ""), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.conversations.LoadAll(context.Background()))
	_, err = r.HandleEvent(context.Background(), mustEvent(t, inboundEvent))
	require.NoError(t, err)

	d, err := r.Complete(context.Background(), "34600111222", "ABC1")
	require.NoError(t, err)

	_, err = r.Deliver(context.Background(), "34600111222", d.ID, queue.KindAudio, "")
	assert.Error(t, err)

	// The draft survives a failed handoff.
	_, err = r.Deliver(context.Background(), "34600111222", d.ID, queue.KindText, "")
	assert.NoError(t, err)
}

func TestRelay_Voice(t *testing.T) {
	llm := newLLM(t, "ok")
	r, err := New(testConfig(t, "http://127.0.0.1:1", llm.URL, "speech:\n  voice_id: \"default-voice\"\n"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	assert.Equal(t, "default-voice", r.Voice())
	r.SetVoice("other")
	assert.Equal(t, "other", r.Voice())
}

func TestRelay_VoiceLibrary(t *testing.T) {
	var deleted []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/voices", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"cloned-1","name":"Ana"}]}`))
	})
	mux.HandleFunc("DELETE /v1/voices/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleted = append(deleted, r.PathValue("id"))
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	tts := httptest.NewServer(mux)
	defer tts.Close()

	llm := newLLM(t, "ok")
	extra := fmt.Sprintf("speech:\n  enabled: true\n  base_url: %q\n  voice_id: \"cloned-1\"\n  output_dir: %q\n",
		tts.URL, t.TempDir())
	r, err := New(testConfig(t, "http://127.0.0.1:1", llm.URL, extra), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	ctx := context.Background()

	voices, err := r.Voices(ctx)
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, "Ana", voices[0].Name)

	require.NoError(t, r.DeleteVoice(ctx, "cloned-1"))
	assert.Equal(t, []string{"cloned-1"}, deleted)
	assert.Empty(t, r.Voice(), "deleting the selected voice clears the selection")
}

func TestRelay_VoiceLibraryWithoutSpeech(t *testing.T) {
	llm := newLLM(t, "ok")
	r, err := New(testConfig(t, "http://127.0.0.1:1", llm.URL, ""), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, err = r.Voices(context.Background())
	assert.ErrorIs(t, err, audio.ErrNoVoiceService)
	assert.ErrorIs(t, r.DeleteVoice(context.Background(), "v"), audio.ErrNoVoiceService)
}

func TestRelay_AuthAndMetrics(t *testing.T) {
	llm := newLLM(t, "ok")
	r, err := New(testConfig(t, "http://127.0.0.1:1", llm.URL, "auth:\n  jwt_secret: \"relay-secret\"\n"), nil)
	require.NoError(t, err)
	base, stop := serve(t, r)
	defer stop()

	out := post(t, base+"/api/events", inboundEvent)
	assert.Equal(t, float64(http.StatusUnauthorized), out["status"])

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "coven_relay_queue_pending")
}

func TestRelay_ConversationsSurviveRestart(t *testing.T) {
	llm := newLLM(t, "ok")
	cfg := testConfig(t, "http://127.0.0.1:1", llm.URL, "")

	first, err := New(cfg, nil)
	require.NoError(t, err)
	base, stop := serve(t, first)
	out := post(t, base+"/api/events", inboundEvent)
	require.Equal(t, float64(http.StatusOK), out["status"])
	stop()

	second, err := New(cfg, nil)
	require.NoError(t, err)
	base, stop = serve(t, second)
	defer stop()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/conversations/34600111222")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 10*time.Millisecond)
}

func mustEvent(t *testing.T, raw string) inbound.Event {
	t.Helper()
	var ev inbound.Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}
