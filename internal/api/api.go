// ABOUTME: HTTP handlers for inbound events, completions, draft delivery, and conversation reads
// ABOUTME: Maps relay errors onto JSON status replies and guards /api with bearer auth

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/coven-relay/internal/audio"
	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/completion"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/drafts"
	"github.com/2389/coven-relay/internal/inbound"
	"github.com/2389/coven-relay/internal/queue"
)

// maxBodyBytes bounds request bodies. Voice notes arrive inline as base64.
const maxBodyBytes = 32 << 20

// Backend is the relay surface the API drives.
type Backend interface {
	HandleEvent(ctx context.Context, ev inbound.Event) (inbound.Result, error)
	Complete(ctx context.Context, identity, messageID string) (drafts.Draft, error)
	Deliver(ctx context.Context, identity, draftID string, kind queue.Kind, voiceID string) (queue.Item, error)
	Discard(identity, draftID string) error
	Conversation(identity string) ([]conversation.Message, error)
}

// CompleteRequest is the body of POST /api/complete.
type CompleteRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// CompleteResponse is the reply to a successful completion.
type CompleteResponse struct {
	Text    string `json:"text"`
	DraftID string `json:"draftId"`
	Error   bool   `json:"error"`
}

// DraftRequest is the body of the draft endpoints.
type DraftRequest struct {
	ConversationID string     `json:"conversationId"`
	DraftID        string     `json:"draftId"`
	Kind           queue.Kind `json:"kind,omitempty"`
	VoiceID        string     `json:"voiceId,omitempty"`
}

// ConversationResponse is the reply to GET /api/conversations/{identity}.
type ConversationResponse struct {
	Identity string                 `json:"identity"`
	Messages []conversation.Message `json:"messages"`
	Error    bool                   `json:"error"`
}

type statusResponse struct {
	Message string `json:"message"`
	Error   bool   `json:"error"`
}

// Server routes HTTP requests to a Backend.
type Server struct {
	backend  Backend
	verifier auth.TokenVerifier
	metrics  http.Handler
	path     string
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAuth requires a bearer token on /api routes.
func WithAuth(v auth.TokenVerifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithMetricsHandler serves h at path.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.path = path
		s.metrics = h
	}
}

// NewServer creates the API server.
func NewServer(backend Backend, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{backend: backend, logger: logger.With("component", "api")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/events", s.handleEvent)
	api.HandleFunc("POST /api/complete", s.handleComplete)
	api.HandleFunc("POST /api/drafts/deliver", s.handleDeliver)
	api.HandleFunc("POST /api/drafts/discard", s.handleDiscard)
	api.HandleFunc("GET /api/conversations/{identity}", s.handleConversation)

	var apiHandler http.Handler = api
	if s.verifier != nil {
		apiHandler = auth.HTTPAuthMiddleware(s.verifier)(api)
		s.logger.Info("HTTP auth middleware enabled")
	} else {
		s.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET "+s.path, s.metrics)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev inbound.Event
	if !s.decode(w, r, &ev) {
		return
	}

	_, err := s.backend.HandleEvent(r.Context(), ev)
	var perr *conversation.PersistenceError
	switch {
	case err == nil:
		s.sendJSON(w, http.StatusOK, statusResponse{Message: "Message received"})
	case errors.Is(err, audio.ErrTranscriptionFailed):
		s.sendJSONError(w, http.StatusUnprocessableEntity, "Voice note could not be transcribed")
	case errors.As(err, &perr):
		s.logger.Error("failed to persist inbound message", "identity", perr.Identity, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "Message could not be stored")
	default:
		s.logger.Error("inbound event failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	d, err := s.backend.Complete(r.Context(), req.ConversationID, req.MessageID)
	if err != nil {
		s.sendActionError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, CompleteResponse{Text: d.Text, DraftID: d.ID})
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ConversationID == "" || req.DraftID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "conversationId and draftId are required")
		return
	}
	if req.Kind == "" {
		req.Kind = queue.KindText
	}

	if _, err := s.backend.Deliver(r.Context(), req.ConversationID, req.DraftID, req.Kind, req.VoiceID); err != nil {
		s.sendActionError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, statusResponse{Message: "Queued"})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ConversationID == "" || req.DraftID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "conversationId and draftId are required")
		return
	}

	if err := s.backend.Discard(req.ConversationID, req.DraftID); err != nil {
		s.sendActionError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, statusResponse{Message: "Discarded"})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	msgs, err := s.backend.Conversation(identity)
	if err != nil {
		s.sendActionError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ConversationResponse{Identity: identity, Messages: msgs})
}

// sendActionError maps relay errors to status codes.
func (s *Server) sendActionError(w http.ResponseWriter, err error) {
	var cerr *completion.Error
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "Chat not found")
	case errors.Is(err, drafts.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "Draft not found")
	case errors.Is(err, queue.ErrAlreadyQueued):
		s.sendJSONError(w, http.StatusConflict, "Already queued")
	case errors.Is(err, queue.ErrInvalidItem):
		s.sendJSONError(w, http.StatusBadRequest, "Invalid delivery request")
	case errors.Is(err, drafts.ErrNoRenderer):
		s.sendJSONError(w, http.StatusServiceUnavailable, "Audio is not configured")
	case errors.As(err, &cerr):
		status := http.StatusBadGateway
		if cerr.RateLimited {
			status = http.StatusTooManyRequests
		}
		s.sendJSONError(w, status, "Error completing message: "+cerr.Upstream())
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decode reads a JSON body into v, replying 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, statusResponse{Message: message, Error: true})
}
