// ABOUTME: Durable store of drafted replies awaiting operator approval
// ABOUTME: Drafts are keyed by conversation then draft id and persisted to one JSON file

package drafts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/fsstore"
)

// ErrNotFound is returned for unknown drafts.
var ErrNotFound = errors.New("drafts: draft not found")

// Draft is one candidate reply.
type Draft struct {
	ConversationID string    `json:"conversationId"`
	ID             string    `json:"draftId"`
	ReplyTo        string    `json:"replyTo,omitempty"` // message id the reply answers
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store holds drafts in memory and writes through to path.
type Store struct {
	path  string
	mu    sync.Mutex
	byID  map[string]map[string]Draft
	newID func() string
}

// Open loads the store at path, starting empty when the file does not exist.
func Open(path string) (*Store, error) {
	s := &Store{
		path:  path,
		byID:  make(map[string]map[string]Draft),
		newID: newDraftID,
	}
	if err := os.MkdirAll(filepath.Dir(path), fsstore.DirPerm); err != nil {
		return nil, fmt.Errorf("creating drafts directory: %w", err)
	}
	if _, err := fsstore.ReadJSON(path, &s.byID); err != nil {
		return nil, fmt.Errorf("loading drafts: %w", err)
	}
	if s.byID == nil {
		s.byID = make(map[string]map[string]Draft)
	}
	return s, nil
}

func newDraftID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Create stores text as a new draft for conversationID answering message replyTo.
// replyTo may be empty.
func (s *Store) Create(conversationID, replyTo, text string) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.byID[conversationID]
	if conv == nil {
		conv = make(map[string]Draft)
		s.byID[conversationID] = conv
	}
	id := s.newID()
	for _, taken := conv[id]; taken; _, taken = conv[id] {
		id = s.newID()
	}

	d := Draft{ConversationID: conversationID, ID: id, ReplyTo: replyTo, Text: text, CreatedAt: time.Now().UTC()}
	conv[id] = d
	if err := s.persistLocked(); err != nil {
		delete(conv, id)
		if len(conv) == 0 {
			delete(s.byID, conversationID)
		}
		return Draft{}, err
	}
	return d, nil
}

// Get returns one draft.
func (s *Store) Get(conversationID, draftID string) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[conversationID][draftID]
	if !ok {
		return Draft{}, ErrNotFound
	}
	return d, nil
}

// List returns the drafts of conversationID, oldest first.
func (s *Store) List(conversationID string) []Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Draft, 0, len(s.byID[conversationID]))
	for _, d := range s.byID[conversationID] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Discard deletes a draft.
func (s *Store) Discard(conversationID, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.byID[conversationID]
	d, ok := conv[draftID]
	if !ok {
		return ErrNotFound
	}
	delete(conv, draftID)
	if len(conv) == 0 {
		delete(s.byID, conversationID)
	}
	if err := s.persistLocked(); err != nil {
		if s.byID[conversationID] == nil {
			s.byID[conversationID] = conv
		}
		conv[draftID] = d
		return err
	}
	return nil
}

func (s *Store) persistLocked() error {
	if err := fsstore.WriteJSONAtomic(s.path, s.byID); err != nil {
		return fmt.Errorf("saving drafts: %w", err)
	}
	return nil
}
