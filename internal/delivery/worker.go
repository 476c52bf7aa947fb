// ABOUTME: Delivery worker state machine that drains the outbound queue one item at a time
// ABOUTME: Halts a batch on send failure, paces successful sends, and cleans up audio resources

package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/2389/coven-relay/internal/fsstore"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/queue"
	"github.com/2389/coven-relay/internal/samples"
)

// ErrUnrecoverable marks a delivery that can never succeed. The item is dropped.
var ErrUnrecoverable = errors.New("delivery: unrecoverable item")

// State is the worker's position in its loop.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StateSending
	StateCooldown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateSending:
		return "sending"
	case StateCooldown:
		return "cooldown"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sender performs the side-effecting sends on the messaging channel.
type Sender interface {
	SendText(ctx context.Context, identity, text string) error
	SendVoice(ctx context.Context, identity, audioPath string) error
}

// Purger is told when a delivered audio resource's sample may be dropped.
type Purger interface {
	Purge(ctx context.Context, req samples.PurgeRequest) error
}

// Config controls pacing and timeouts.
type Config struct {
	PollInterval      time.Duration // sleep after a pass that sent nothing or halted
	CooldownBase      time.Duration // fixed part of the post-send pause
	CooldownJitterMax time.Duration // random whole seconds in [1s, max] added to the base
	SendTimeout       time.Duration // per-send timeout
}

// DefaultConfig returns the stock pacing: 2s polls, 10s+1..15s cooldown, 120s sends.
func DefaultConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		CooldownBase:      10 * time.Second,
		CooldownJitterMax: 15 * time.Second,
		SendTimeout:       120 * time.Second,
	}
}

// Worker is the single consumer of the outbound queue.
type Worker struct {
	queue   queue.Queue
	sender  Sender
	purger  Purger
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config

	sleep func(ctx context.Context, d time.Duration) error
	intN  func(n int) int

	state atomic.Int32
}

// Option configures a Worker.
type Option func(*Worker)

// WithMetrics reports delivery outcomes and state.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithSleep replaces the context-aware sleep. Used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) { w.sleep = sleep }
}

// WithRand replaces the source of cooldown jitter. intN must return [0, n).
func WithRand(intN func(n int) int) Option {
	return func(w *Worker) { w.intN = intN }
}

// NewWorker creates a worker. purger may be nil.
func NewWorker(q queue.Queue, sender Sender, purger Purger, cfg Config, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	w := &Worker{
		queue:  q,
		sender: sender,
		purger: purger,
		logger: logger.With("component", "delivery"),
		cfg:    cfg,
		sleep:  sleepContext,
		intN:   rand.IntN,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current loop state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.metrics.WorkerState(s.String())
}

// Run loops until ctx is cancelled. It returns nil on shutdown.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("delivery worker started",
		"poll_interval", w.cfg.PollInterval,
		"cooldown_base", w.cfg.CooldownBase,
	)
	defer func() {
		w.setState(StateStopped)
		w.logger.Info("delivery worker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		w.setState(StateIdle)

		result := w.RunBatch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		// A pass that delivered nothing waits a poll interval before listing again
		if result.Sent == 0 || result.Halted || result.Err != nil {
			if err := w.sleep(ctx, w.cfg.PollInterval); err != nil {
				return nil
			}
		}
	}
}

// BatchResult summarizes one pass over the queue.
type BatchResult struct {
	Listed    int   // items returned by the listing
	Sent      int   // items sent successfully
	Discarded int   // unrecoverable items dropped
	Halted    bool  // a send failed and the rest of the batch was left queued
	Err       error // listing failure
}

// RunBatch lists the queue once and processes what it returned.
func (w *Worker) RunBatch(ctx context.Context) BatchResult {
	var res BatchResult

	items, err := w.queue.ListPending(ctx)
	if err != nil {
		w.logger.Error("failed to list pending deliveries", "error", err)
		res.Err = err
		return res
	}
	res.Listed = len(items)
	w.metrics.QueuePending(len(items))
	if len(items) == 0 {
		return res
	}

	w.setState(StateDraining)
	w.logger.Debug("draining queue", "pending", len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			return res
		}

		w.setState(StateSending)
		err := w.send(ctx, item)
		switch {
		case err == nil:
			res.Sent++
			w.metrics.Delivery(string(item.Kind), "sent")
			w.logger.Info("delivered", "identity", item.Identity, "item", item.Name, "kind", item.Kind)
			w.complete(ctx, item)

			w.setState(StateCooldown)
			if err := w.sleep(ctx, w.cooldown()); err != nil {
				return res
			}
			w.setState(StateDraining)

		case errors.Is(err, ErrUnrecoverable) || isPermanent(err):
			res.Discarded++
			w.metrics.Delivery(string(item.Kind), "discarded")
			w.logger.Error("dropping undeliverable item",
				"identity", item.Identity, "item", item.Name, "kind", item.Kind, "error", err)
			w.discard(ctx, item)

		default:
			res.Halted = true
			w.metrics.Delivery(string(item.Kind), "failed")
			w.logger.Warn("delivery failed, halting batch",
				"identity", item.Identity, "item", item.Name, "kind", item.Kind, "error", err)
			return res
		}
	}
	return res
}

// send performs one delivery. Shutdown does not interrupt a send in flight.
func (w *Worker) send(ctx context.Context, item queue.Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnrecoverable, err)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.SendTimeout)
	defer cancel()

	switch item.Kind {
	case queue.KindText:
		return w.sender.SendText(sendCtx, item.Identity, item.Text)
	case queue.KindAudio:
		if _, err := os.Stat(item.AudioPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: audio file %s is missing", ErrUnrecoverable, item.AudioPath)
			}
			return fmt.Errorf("checking audio file: %w", err)
		}
		return w.sender.SendVoice(sendCtx, item.Identity, item.AudioPath)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrUnrecoverable, item.Kind)
	}
}

// complete runs the post-send side effects for a delivered item.
func (w *Worker) complete(ctx context.Context, item queue.Item) {
	if err := w.queue.Remove(ctx, item); err != nil {
		// The record stays, so the item is sent again on a later pass.
		w.logger.Error("failed to remove delivered item",
			"identity", item.Identity, "item", item.Name, "error", err)
		return
	}
	if item.Kind != queue.KindAudio {
		return
	}

	if err := fsstore.RemoveIfExists(item.AudioPath); err != nil {
		w.logger.Warn("failed to delete delivered audio file",
			"identity", item.Identity, "item", item.Name, "path", item.AudioPath, "error", err)
	}
	if w.purger == nil {
		return
	}
	req := samples.PurgeRequest{Identity: item.Identity, SampleFilename: item.SampleFilename}
	if req.SampleFilename == "" {
		// no collected sample answers this item; the collaborator ignores unknown names
		req.SampleFilename = filepath.Base(item.AudioPath)
	}
	if err := w.purger.Purge(context.WithoutCancel(ctx), req); err != nil {
		w.logger.Warn("sample purge failed",
			"identity", item.Identity, "sample", req.SampleFilename, "error", err)
	}
}

// discard drops an item that can never be delivered.
func (w *Worker) discard(ctx context.Context, item queue.Item) {
	if err := w.queue.Remove(ctx, item); err != nil {
		w.logger.Error("failed to remove undeliverable item",
			"identity", item.Identity, "item", item.Name, "error", err)
		return
	}
	if item.Kind == queue.KindAudio && item.AudioPath != "" {
		if err := fsstore.RemoveIfExists(item.AudioPath); err != nil {
			w.logger.Warn("failed to delete audio file of dropped item", "path", item.AudioPath, "error", err)
		}
	}
}

func (w *Worker) cooldown() time.Duration {
	d := w.cfg.CooldownBase
	if steps := int(w.cfg.CooldownJitterMax / time.Second); steps > 0 {
		d += time.Duration(1+w.intN(steps)) * time.Second
	}
	return d
}

// isPermanent reports whether err says retrying cannot help.
func isPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
