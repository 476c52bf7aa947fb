// ABOUTME: Store is the in-memory conversation index with write-through persistence
// ABOUTME: Appends are serialized per identity; different identities never block each other

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Store owns the mapping from identity to conversation.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu            sync.RWMutex
	conversations map[string][]Message
	// unreadable holds identities whose record failed to load and is still in place
	unreadable map[string]struct{}

	// locks holds one *sync.Mutex per identity, serializing read-modify-write.
	locks sync.Map
}

// NewStore creates an empty Store over backend. Call LoadAll before serving.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:       backend,
		logger:        logger.With("component", "conversation"),
		conversations: make(map[string][]Message),
		unreadable:    make(map[string]struct{}),
	}
}

// LoadAll rebuilds the index from the backend. Records that cannot be read are
// skipped with a warning. A corrupt record the backend moved aside leaves the
// identity free to start over; any other load failure blocks appends for that
// identity until the next LoadAll. It fails only when the backend cannot be
// listed at all.
func (s *Store) LoadAll(ctx context.Context) error {
	identities, err := s.backend.Identities(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	loaded := make(map[string][]Message, len(identities))
	unreadable := make(map[string]struct{})
	var skipped int
	for _, identity := range identities {
		msgs, err := s.backend.Load(ctx, identity)
		if err != nil {
			skipped++
			if errors.Is(err, ErrCorruptRecord) {
				s.logger.Warn("quarantined corrupt conversation",
					"identity", identity,
					"error", err)
				continue
			}
			unreadable[identity] = struct{}{}
			s.logger.Warn("skipping unreadable conversation",
				"identity", identity,
				"error", err)
			continue
		}
		loaded[identity] = msgs
	}

	s.mu.Lock()
	s.conversations = loaded
	s.unreadable = unreadable
	s.mu.Unlock()

	s.logger.Info("conversations loaded",
		"count", len(loaded),
		"skipped", skipped)
	return nil
}

// Append adds msg to the identity's conversation, creating it on first use.
// It returns only after the backend has persisted the new record; on failure the
// in-memory view is unchanged and a *PersistenceError is returned.
func (s *Store) Append(ctx context.Context, identity string, msg Message) error {
	if !ValidIdentity(identity) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}

	lock := s.lockFor(identity)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current := s.conversations[identity]
	_, blocked := s.unreadable[identity]
	s.mu.RUnlock()

	if blocked {
		return &PersistenceError{Identity: identity, Err: ErrUnreadable}
	}
	if msg.MessageID != "" && IndexOf(current, msg.MessageID) >= 0 {
		return ErrDuplicateMessage
	}

	next := make([]Message, len(current), len(current)+1)
	copy(next, current)
	next = append(next, msg)

	if err := s.backend.Save(ctx, identity, next); err != nil {
		s.logger.Error("failed to persist conversation",
			"identity", identity,
			"message_id", msg.MessageID,
			"error", err)
		return &PersistenceError{Identity: identity, Err: err}
	}

	s.mu.Lock()
	s.conversations[identity] = next
	s.mu.Unlock()

	s.logger.Debug("message appended",
		"identity", identity,
		"message_id", msg.MessageID,
		"from_me", msg.FromMe,
		"length", len(next))
	return nil
}

// Read returns a copy of the identity's conversation in insertion order.
func (s *Store) Read(identity string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.conversations[identity]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Has reports whether a conversation exists for identity.
func (s *Store) Has(identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[identity]
	return ok
}

// Identities returns every known identity, sorted.
func (s *Store) Identities() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) lockFor(identity string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(identity, &sync.Mutex{})
	return v.(*sync.Mutex)
}
