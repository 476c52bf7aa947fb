// ABOUTME: Tests for the delivery worker state machine
// ABOUTME: Uses a file queue in a temp dir, a recording mock channel, and a fake sleep

package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/queue"
	"github.com/2389/coven-relay/internal/samples"
)

type sentCall struct {
	kind     queue.Kind
	identity string
	payload  string
}

type mockSender struct {
	mu     sync.Mutex
	calls  []sentCall
	failOn map[string]error // payload -> error
	onSend func(ctx context.Context)
}

func (m *mockSender) record(ctx context.Context, kind queue.Kind, identity, payload string) error {
	if m.onSend != nil {
		m.onSend(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sentCall{kind: kind, identity: identity, payload: payload})
	if err, ok := m.failOn[payload]; ok {
		return err
	}
	return nil
}

func (m *mockSender) SendText(ctx context.Context, identity, text string) error {
	return m.record(ctx, queue.KindText, identity, text)
}

func (m *mockSender) SendVoice(ctx context.Context, identity, audioPath string) error {
	return m.record(ctx, queue.KindAudio, identity, audioPath)
}

func (m *mockSender) Calls() []sentCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentCall(nil), m.calls...)
}

type mockPurger struct {
	mu       sync.Mutex
	requests []samples.PurgeRequest
	err      error
}

func (m *mockPurger) Purge(ctx context.Context, req samples.PurgeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.err
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
	hook   func(d time.Duration)
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

func (s *sleepRecorder) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// failingRemoveQueue wraps a queue and fails every Remove.
type failingRemoveQueue struct {
	queue.Queue
}

func (f failingRemoveQueue) Remove(ctx context.Context, item queue.Item) error {
	return errors.New("disk on fire")
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "rejected by channel" }
func (permanentErr) Permanent() bool { return true }

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newQueue(t *testing.T) *queue.FileQueue {
	t.Helper()
	q, err := queue.NewFileQueue(t.TempDir(), nil)
	require.NoError(t, err)
	return q
}

func enqueueText(t *testing.T, q queue.Queue, id, text string, offset int) queue.Item {
	t.Helper()
	item := queue.NewTextItem("34600111222", id, text)
	item.CreatedAt = base.Add(time.Duration(offset) * time.Second)
	require.NoError(t, q.Enqueue(context.Background(), item))
	return item
}

func enqueueAudio(t *testing.T, q queue.Queue, id string, offset int) queue.Item {
	t.Helper()
	path := filepath.Join(t.TempDir(), "PTT-20260301-"+id+".opus")
	require.NoError(t, os.WriteFile(path, []byte("opus"), 0o600))
	item := queue.NewAudioItem("34600111222", id, path)
	item.CreatedAt = base.Add(time.Duration(offset) * time.Second)
	require.NoError(t, q.Enqueue(context.Background(), item))
	return item
}

func pendingNames(t *testing.T, q queue.Queue) []string {
	t.Helper()
	items, err := q.ListPending(context.Background())
	require.NoError(t, err)
	var names []string
	for _, it := range items {
		names = append(names, it.Name)
	}
	return names
}

func newTestWorker(q queue.Queue, s Sender, p Purger, sl *sleepRecorder) *Worker {
	return NewWorker(q, s, p, DefaultConfig(), nil,
		WithSleep(sl.Sleep),
		WithRand(func(n int) int { return 0 }),
	)
}

func TestWorker_SecondSendFailureHaltsBatch(t *testing.T) {
	q := newQueue(t)
	first := enqueueText(t, q, "r1", "one", 0)
	second := enqueueText(t, q, "r2", "two", 1)
	third := enqueueText(t, q, "r3", "three", 2)

	sender := &mockSender{failOn: map[string]error{"two": errors.New("channel down")}}
	sl := &sleepRecorder{}
	w := newTestWorker(q, sender, nil, sl)

	res := w.RunBatch(context.Background())

	assert.Equal(t, 3, res.Listed)
	assert.Equal(t, 1, res.Sent)
	assert.True(t, res.Halted)

	calls := sender.Calls()
	require.Len(t, calls, 2, "third item must not be attempted")
	assert.Equal(t, "one", calls[0].payload)
	assert.Equal(t, "two", calls[1].payload)

	pending := pendingNames(t, q)
	assert.NotContains(t, pending, first.Name)
	assert.Contains(t, pending, second.Name)
	assert.Contains(t, pending, third.Name)

	// one cooldown, after the first success
	assert.Equal(t, []time.Duration{11 * time.Second}, sl.Sleeps())
}

func TestWorker_AudioSuccessSideEffects(t *testing.T) {
	q := newQueue(t)
	item := enqueueAudio(t, q, "a1", 0)

	sender := &mockSender{}
	purger := &mockPurger{}
	w := newTestWorker(q, sender, purger, &sleepRecorder{})

	res := w.RunBatch(context.Background())
	assert.Equal(t, 1, res.Sent)

	assert.Empty(t, pendingNames(t, q))
	_, err := os.Stat(item.AudioPath)
	assert.True(t, os.IsNotExist(err), "audio file should be deleted")

	require.Len(t, purger.requests, 1)
	assert.Equal(t, samples.PurgeRequest{
		Identity:       "34600111222",
		SampleFilename: filepath.Base(item.AudioPath),
	}, purger.requests[0])

	calls := sender.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, queue.KindAudio, calls[0].kind)
	assert.Equal(t, item.AudioPath, calls[0].payload)
}

func TestWorker_AudioFailureKeepsFile(t *testing.T) {
	q := newQueue(t)
	item := enqueueAudio(t, q, "a1", 0)

	sender := &mockSender{failOn: map[string]error{item.AudioPath: errors.New("timeout")}}
	purger := &mockPurger{}
	w := newTestWorker(q, sender, purger, &sleepRecorder{})

	res := w.RunBatch(context.Background())
	assert.True(t, res.Halted)

	assert.Equal(t, []string{item.Name}, pendingNames(t, q))
	_, err := os.Stat(item.AudioPath)
	assert.NoError(t, err)
	assert.Empty(t, purger.requests)
}

func TestWorker_PurgeFailureIsNotFatal(t *testing.T) {
	q := newQueue(t)
	enqueueAudio(t, q, "a1", 0)
	enqueueText(t, q, "t1", "after", 1)

	sender := &mockSender{}
	purger := &mockPurger{err: errors.New("purge broke")}
	w := newTestWorker(q, sender, purger, &sleepRecorder{})

	res := w.RunBatch(context.Background())
	assert.Equal(t, 2, res.Sent)
	assert.False(t, res.Halted)
	assert.Empty(t, pendingNames(t, q))
}

func TestWorker_CooldownFollowsEverySuccess(t *testing.T) {
	q := newQueue(t)
	enqueueText(t, q, "r1", "one", 0)
	enqueueText(t, q, "r2", "two", 1)

	sl := &sleepRecorder{}
	w := NewWorker(q, &mockSender{}, nil, DefaultConfig(), nil,
		WithSleep(sl.Sleep),
		WithRand(func(n int) int { return n - 1 }),
	)

	res := w.RunBatch(context.Background())
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, []time.Duration{25 * time.Second, 25 * time.Second}, sl.Sleeps())
}

func TestWorker_CooldownRange(t *testing.T) {
	w := NewWorker(newQueue(t), &mockSender{}, nil, DefaultConfig(), nil)
	for i := 0; i < 200; i++ {
		d := w.cooldown()
		assert.GreaterOrEqual(t, d, 11*time.Second)
		assert.LessOrEqual(t, d, 25*time.Second)
	}
}

func TestWorker_UnrecoverableItemsAreDroppedWithoutHalting(t *testing.T) {
	q := newQueue(t)
	missing := enqueueAudio(t, q, "a1", 0)
	require.NoError(t, os.Remove(missing.AudioPath))
	rejected := enqueueText(t, q, "r1", "rejected", 1)
	good := enqueueText(t, q, "r2", "good", 2)

	sender := &mockSender{failOn: map[string]error{"rejected": permanentErr{}}}
	sl := &sleepRecorder{}
	w := newTestWorker(q, sender, &mockPurger{}, sl)

	res := w.RunBatch(context.Background())

	assert.Equal(t, 2, res.Discarded)
	assert.Equal(t, 1, res.Sent)
	assert.False(t, res.Halted)
	assert.Empty(t, pendingNames(t, q))

	calls := sender.Calls()
	require.Len(t, calls, 2, "missing audio is never sent")
	assert.Equal(t, rejected.Text, calls[0].payload)
	assert.Equal(t, good.Text, calls[1].payload)
	assert.Len(t, sl.Sleeps(), 1, "no cooldown after dropped items")
}

func TestWorker_RemovalFailureKeepsItemForNextPass(t *testing.T) {
	fq := newQueue(t)
	q := failingRemoveQueue{Queue: fq}
	audio := enqueueAudio(t, fq, "a1", 0)
	enqueueText(t, fq, "r1", "next", 1)

	sender := &mockSender{}
	purger := &mockPurger{}
	w := newTestWorker(q, sender, purger, &sleepRecorder{})

	res := w.RunBatch(context.Background())

	assert.Equal(t, 2, res.Sent, "removal failure does not halt the batch")
	assert.Len(t, pendingNames(t, fq), 2)
	_, err := os.Stat(audio.AudioPath)
	assert.NoError(t, err, "file is kept while its record remains")
	assert.Empty(t, purger.requests)
}

func TestWorker_ShutdownDuringCooldownStopsBatch(t *testing.T) {
	q := newQueue(t)
	enqueueText(t, q, "r1", "one", 0)
	second := enqueueText(t, q, "r2", "two", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sl := &sleepRecorder{hook: func(time.Duration) { cancel() }}
	sender := &mockSender{}
	w := newTestWorker(q, sender, nil, sl)

	res := w.RunBatch(ctx)

	assert.Equal(t, 1, res.Sent)
	assert.Len(t, sender.Calls(), 1)
	assert.Equal(t, []string{second.Name}, pendingNames(t, q))
}

func TestWorker_InFlightSendIsNotCancelled(t *testing.T) {
	q := newQueue(t)
	enqueueText(t, q, "r1", "one", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sendCtxErr error
	sender := &mockSender{onSend: func(sendCtx context.Context) {
		cancel()
		sendCtxErr = sendCtx.Err()
	}}
	w := newTestWorker(q, sender, nil, &sleepRecorder{})

	res := w.RunBatch(ctx)

	assert.Equal(t, 1, res.Sent)
	assert.NoError(t, sendCtxErr)
	assert.Empty(t, pendingNames(t, q))
}

func TestWorker_RunPollsAndStopsOnShutdown(t *testing.T) {
	q := newQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	polls := 0
	sl := &sleepRecorder{hook: func(d time.Duration) {
		polls++
		if polls == 3 {
			cancel()
		}
	}}
	w := newTestWorker(q, &mockSender{}, nil, sl)

	err := w.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, sl.Sleeps())
	assert.Equal(t, StateStopped, w.State())
}

func TestWorker_RunDrainsThenIdles(t *testing.T) {
	q := newQueue(t)
	enqueueText(t, q, "r1", "one", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &mockSender{}
	var states []State
	var w *Worker
	sl := &sleepRecorder{}
	sl.hook = func(d time.Duration) {
		states = append(states, w.State())
		if d == DefaultConfig().PollInterval {
			cancel()
		}
	}
	w = newTestWorker(q, sender, nil, sl)

	require.NoError(t, w.Run(ctx))

	assert.Len(t, sender.Calls(), 1)
	// cooldown after the send, then an empty poll in idle
	assert.Equal(t, []time.Duration{11 * time.Second, 2 * time.Second}, sl.Sleeps())
	assert.Equal(t, []State{StateCooldown, StateIdle}, states)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "cooldown", StateCooldown.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestWorker_RunWaitsAfterPassWithoutProgress(t *testing.T) {
	fq := newQueue(t)
	q := failingRemoveQueue{Queue: fq}
	enqueueText(t, fq, "r1", "rejected", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	passes := 0
	sl := &sleepRecorder{hook: func(d time.Duration) {
		passes++
		if passes == 3 {
			cancel()
		}
	}}
	sender := &mockSender{failOn: map[string]error{"rejected": permanentErr{}}}
	w := newTestWorker(q, sender, nil, sl)

	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, sl.Sleeps())
	assert.Len(t, sender.Calls(), 3, "one attempt per pass")
}

func TestWorker_InvalidRecordIsQuarantinedNotRetried(t *testing.T) {
	dir := t.TempDir()
	q, err := queue.NewFileQueue(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bogus.json"), []byte("{}"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sl := &sleepRecorder{hook: func(d time.Duration) { cancel() }}
	sender := &mockSender{}
	w := newTestWorker(q, sender, nil, sl)

	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []time.Duration{2 * time.Second}, sl.Sleeps())
	assert.Empty(t, sender.Calls())
	_, err = os.Stat(filepath.Join(dir, "bogus.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "bogus.json.corrupt"))
	assert.NoError(t, err)
}

func TestWorker_ChannelAuthFailureHaltsAndKeepsQueue(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	q := newQueue(t)
	first := enqueueText(t, q, "r1", "one", 0)
	second := enqueueText(t, q, "r2", "two", 1)
	audio := enqueueAudio(t, q, "a1", 2)

	client := channel.NewClient(channel.Config{BaseURL: srv.URL, Session: "default"}, nil)
	w := newTestWorker(q, client, &mockPurger{}, &sleepRecorder{})

	res := w.RunBatch(context.Background())

	assert.Equal(t, 3, res.Listed)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 0, res.Discarded)
	assert.True(t, res.Halted)
	assert.Equal(t, int32(1), hits.Load(), "batch stops at the first failure")
	assert.ElementsMatch(t, []string{first.Name, second.Name, audio.Name}, pendingNames(t, q))

	_, err := os.Stat(audio.AudioPath)
	assert.NoError(t, err, "audio file is kept for the retry")
}

func TestWorker_AudioDeliveryPurgesCorrespondingSample(t *testing.T) {
	ctx := context.Background()
	mgr, err := samples.NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	dir, err := mgr.Dir("34600111222")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wamid-1.mp3"), []byte("mp3"), 0o600))
	require.NoError(t, mgr.Add(ctx, "34600111222", samples.Sample{Filename: "wamid-1.mp3", MessageID: "wamid-1"}))

	q := newQueue(t)
	path := filepath.Join(t.TempDir(), "PTT-20260301-a1.opus")
	require.NoError(t, os.WriteFile(path, []byte("opus"), 0o600))
	item := queue.NewAudioItem("34600111222", "a1", path)
	item.SampleFilename = "wamid-1.mp3"
	require.NoError(t, q.Enqueue(ctx, item))

	w := newTestWorker(q, &mockSender{}, mgr, &sleepRecorder{})
	res := w.RunBatch(ctx)
	require.Equal(t, 1, res.Sent)

	set, err := mgr.List("34600111222")
	require.NoError(t, err)
	assert.Empty(t, set)
	_, err = os.Stat(filepath.Join(dir, "wamid-1.mp3"))
	assert.True(t, os.IsNotExist(err))
}
