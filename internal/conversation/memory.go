// ABOUTME: In-memory conversation Backend for tests
// ABOUTME: Supports injecting save and load failures per identity

package conversation

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend is an in-memory Backend implementation for testing.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string][]Message

	// SaveErr, when set, is returned by every Save.
	SaveErr error
	// LoadErrs maps identities to errors returned by Load.
	LoadErrs map[string]error
	// Saves counts successful saves.
	Saves int
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records:  make(map[string][]Message),
		LoadErrs: make(map[string]error),
	}
}

// Identities lists stored identities, including those configured to fail on load.
func (m *MemoryBackend) Identities(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for id := range m.records {
		seen[id] = true
		out = append(out, id)
	}
	for id := range m.LoadErrs {
		if !seen[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Load returns a copy of the stored record.
func (m *MemoryBackend) Load(ctx context.Context, identity string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.LoadErrs[identity]; err != nil {
		return nil, err
	}
	msgs, ok := m.records[identity]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Save stores a copy of msgs.
func (m *MemoryBackend) Save(ctx context.Context, identity string, msgs []Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	cp := make([]Message, len(msgs))
	copy(cp, msgs)
	m.records[identity] = cp
	m.Saves++
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error {
	return nil
}

// Record returns the stored record for identity, for assertions.
func (m *MemoryBackend) Record(identity string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.records[identity]...)
}
