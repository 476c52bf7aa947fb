// ABOUTME: Relay orchestrator that wires storage, queue, delivery, completion, and operator components
// ABOUTME: Manages the HTTP server, delivery worker, and Matrix listener lifecycle

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/api"
	"github.com/2389/coven-relay/internal/audio"
	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/completion"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/delivery"
	"github.com/2389/coven-relay/internal/drafts"
	"github.com/2389/coven-relay/internal/inbound"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/operator"
	"github.com/2389/coven-relay/internal/queue"
	"github.com/2389/coven-relay/internal/samples"
)

// shutdownTimeout bounds HTTP server shutdown.
const shutdownTimeout = 5 * time.Second

// Relay orchestrates the coven-relay components.
type Relay struct {
	config        *config.Config
	conversations *conversation.Store
	queue         queue.Queue
	drafts        *drafts.Store
	handoff       *drafts.Handoff
	completion    *completion.Service
	router        *inbound.Router
	worker        *delivery.Worker
	samples       *samples.Manager
	voices        *audio.ElevenLabs
	matrix        *operator.Matrix
	metrics       *metrics.Metrics
	httpServer    *http.Server
	logger        *slog.Logger

	voiceMu sync.RWMutex
	voice   string
}

// New creates a Relay from configuration. Nothing is started until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		config: cfg,
		voice:  cfg.Speech.VoiceID,
		logger: logger.With("component", "relay"),
	}
	if cfg.Metrics.Enabled {
		r.metrics = metrics.New()
	}

	if err := r.build(logger); err != nil {
		r.closeStores()
		return nil, err
	}
	return r, nil
}

func (r *Relay) build(logger *slog.Logger) error {
	cfg := r.config

	backend, err := openBackend(cfg.Storage)
	if err != nil {
		return err
	}
	r.conversations = conversation.NewStore(backend, logger)

	r.queue, err = openQueue(cfg.Queue, logger)
	if err != nil {
		return err
	}

	r.drafts, err = drafts.Open(cfg.Drafts.Path)
	if err != nil {
		return fmt.Errorf("opening draft store: %w", err)
	}

	persona, err := completion.LoadPersona(cfg.Completion.PersonaFile)
	if err != nil {
		return fmt.Errorf("loading persona: %w", err)
	}
	llm := completion.NewOpenAIClient(cfg.Completion.BaseURL, cfg.Completion.APIKey, cfg.Completion.Model,
		cfg.Completion.Timeout, cfg.Completion.RateLimit, cfg.Completion.Burst)
	r.completion = completion.NewService(r.conversations, llm, persona, r.metrics, logger)

	ffmpeg := audio.NewFFmpeg(cfg.Transcription.FFmpegPath)

	var renderer drafts.Renderer
	if cfg.Speech.Enabled {
		synth := audio.NewElevenLabs(cfg.Speech.BaseURL, cfg.Speech.APIKey, cfg.Speech.Model, cfg.Speech.Timeout)
		r.voices = synth
		speech, err := audio.NewSpeechRenderer(synth, ffmpeg, cfg.Speech.OutputDir)
		if err != nil {
			return fmt.Errorf("creating speech renderer: %w", err)
		}
		renderer = speech
	}
	var handoffOpts []drafts.HandoffOption
	if cfg.Samples.Enabled {
		r.samples, err = samples.NewManager(cfg.Samples.Dir, logger)
		if err != nil {
			return fmt.Errorf("creating sample manager: %w", err)
		}
		handoffOpts = append(handoffOpts, drafts.WithSampleLookup(r.samples))
	}
	r.handoff = drafts.NewHandoff(r.drafts, r.queue, renderer, logger, handoffOpts...)

	routerOpts := []inbound.Option{
		inbound.WithDedupe(dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)),
		inbound.WithMetrics(r.metrics),
	}
	if cfg.Transcription.Enabled {
		whisper := audio.NewWhisper(cfg.Transcription.BaseURL, cfg.Transcription.APIKey,
			cfg.Transcription.Model, cfg.Transcription.Timeout)
		transcoder := audio.NewTranscoder(whisper, ffmpeg, logger,
			audio.WithAttempts(cfg.Transcription.Attempts),
			audio.WithTranscoderMetrics(r.metrics),
		)
		routerOpts = append(routerOpts, inbound.WithAudio(transcoder))
	}
	if r.samples != nil {
		routerOpts = append(routerOpts, inbound.WithSamples(r.samples))
	}

	var notifier inbound.Notifier = operator.NewLogNotifier(logger)
	if m := cfg.Operator.Matrix; m.Enabled {
		r.matrix, err = operator.NewMatrix(operator.MatrixConfig{
			Homeserver:    m.Homeserver,
			UserID:        m.UserID,
			AccessToken:   m.AccessToken,
			RoomID:        m.RoomID,
			CommandPrefix: m.CommandPrefix,
		}, operator.NewCommands(r, logger), logger)
		if err != nil {
			return err
		}
		notifier = r.matrix
	}
	r.router = inbound.NewRouter(r.conversations, notifier, logger, routerOpts...)

	sender := channel.NewClient(channel.Config{
		BaseURL:     cfg.Channel.BaseURL,
		Session:     cfg.Channel.Session,
		Token:       cfg.Channel.Token,
		CountryCode: cfg.Channel.CountryCode,
		Timeout:     cfg.Channel.Timeout,
	}, logger)
	var purger delivery.Purger
	if r.samples != nil {
		purger = r.samples
	}
	r.worker = delivery.NewWorker(r.queue, sender, purger, delivery.Config{
		PollInterval:      cfg.Delivery.PollInterval,
		CooldownBase:      cfg.Delivery.CooldownBase,
		CooldownJitterMax: cfg.Delivery.CooldownJitterMax,
		SendTimeout:       cfg.Delivery.SendTimeout,
	}, logger, delivery.WithMetrics(r.metrics))

	handler, err := r.apiHandler(logger)
	if err != nil {
		return err
	}
	r.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func openBackend(cfg config.StorageConfig) (conversation.Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		b, err := conversation.NewSQLiteBackend(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite conversation store: %w", err)
		}
		return b, nil
	default:
		b, err := conversation.NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening file conversation store: %w", err)
		}
		return b, nil
	}
}

func openQueue(cfg config.QueueConfig, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Backend {
	case "pebble":
		q, err := queue.NewPebbleQueue(filepath.Join(cfg.Dir, "pebble"), logger)
		if err != nil {
			return nil, fmt.Errorf("opening pebble queue: %w", err)
		}
		return q, nil
	default:
		q, err := queue.NewFileQueue(cfg.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("opening file queue: %w", err)
		}
		return q, nil
	}
}

func (r *Relay) apiHandler(logger *slog.Logger) (http.Handler, error) {
	var opts []api.Option
	if secret := r.config.Auth.JWTSecret; secret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		opts = append(opts, api.WithAuth(verifier))
	}
	if r.metrics != nil {
		opts = append(opts, api.WithMetricsHandler(r.config.Metrics.Path, r.metrics.Handler()))
	}
	return api.NewServer(r, logger, opts...).Handler(), nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (r *Relay) Handler() http.Handler {
	return r.httpServer.Handler
}

// Run listens on the configured address and serves until ctx is canceled.
// Returns nil on graceful shutdown, or the first component error.
func (r *Relay) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.config.Server.HTTPAddr)
	if err != nil {
		_ = r.Close()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return r.Serve(ctx, ln)
}

// Serve loads conversations, then runs all components on ln until ctx is canceled.
// The stores are closed when it returns.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	if err := r.conversations.LoadAll(ctx); err != nil {
		_ = ln.Close()
		_ = r.Close()
		return fmt.Errorf("loading conversations: %w", err)
	}
	r.logger.Info("conversations loaded", "count", len(r.conversations.Identities()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.worker.Run(ctx); err != nil {
			errCh <- fmt.Errorf("delivery worker: %w", err)
		}
	}()

	if r.matrix != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.matrix.Run(ctx); err != nil {
				errCh <- fmt.Errorf("matrix operator: %w", err)
			}
		}()
	}

	var serverErr error
	select {
	case <-ctx.Done():
		r.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		r.logger.Error("component error", "error", serverErr)
	}
	cancel()

	shutdownErr := r.gracefulShutdown()
	// An in-flight send finishes and settles its record before the stores close.
	wg.Wait()
	r.drainErrors(errCh)
	if errs := r.closeStores(); len(errs) > 0 && shutdownErr == nil {
		shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
	}

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// drainErrors logs any remaining errors from the channel.
func (r *Relay) drainErrors(errCh chan error) {
	for {
		select {
		case err := <-errCh:
			r.logger.Error("additional component error", "error", err)
		default:
			return
		}
	}
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (r *Relay) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return r.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting HTTP requests and waits for active ones.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down relay")
	if err := r.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// Close releases the stores. It is called by Serve on exit; call it directly
// only for a Relay that was never served.
func (r *Relay) Close() error {
	if errs := r.closeStores(); len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (r *Relay) closeStores() []error {
	var errs []error
	if r.queue != nil {
		errs = appendCloseError(errs, "queue close", r.queue.Close())
		r.queue = nil
	}
	if r.conversations != nil {
		errs = appendCloseError(errs, "conversation store close", r.conversations.Close())
		r.conversations = nil
	}
	return errs
}
