// ABOUTME: Per-identity voice sample sets kept for later voice cloning
// ABOUTME: Each identity has a directory of sample files plus an index.json describing them

package samples

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/fsstore"
)

const indexFile = "index.json"

// ErrUnknownFile is returned by Add when the referenced file is not in the identity's directory.
var ErrUnknownFile = errors.New("samples: file not found in sample directory")

// Sample is one voice-sample file reference.
type Sample struct {
	Filename  string    `json:"filename"`
	MessageID string    `json:"message_id,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// PurgeRequest asks for one sample of an identity to be dropped.
type PurgeRequest struct {
	Identity       string `json:"identity"`
	SampleFilename string `json:"sampleFilename"`
}

// Manager owns the sample sets under one root directory.
type Manager struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewManager creates the root directory if needed.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, fsstore.DirPerm); err != nil {
		return nil, fmt.Errorf("creating samples directory: %w", err)
	}
	return &Manager{root: root, logger: logger.With("component", "samples")}, nil
}

// Dir returns the sample directory for identity, creating it.
func (m *Manager) Dir(identity string) (string, error) {
	if err := fsstore.ValidateName(identity); err != nil {
		return "", err
	}
	dir := filepath.Join(m.root, identity)
	if err := os.MkdirAll(dir, fsstore.DirPerm); err != nil {
		return "", fmt.Errorf("creating sample directory: %w", err)
	}
	return dir, nil
}

// Add records a file already written into Dir(identity).
func (m *Manager) Add(ctx context.Context, identity string, s Sample) error {
	if err := fsstore.ValidateName(s.Filename); err != nil {
		return err
	}
	dir, err := m.Dir(identity)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, s.Filename)); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownFile, s.Filename)
	}
	if s.AddedAt.IsZero() {
		s.AddedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.readIndex(dir)
	if err != nil {
		return err
	}
	for _, existing := range set {
		if existing.Filename == s.Filename {
			return nil
		}
	}
	set = append(set, s)
	if err := fsstore.WriteJSONAtomic(filepath.Join(dir, indexFile), set); err != nil {
		return fmt.Errorf("writing sample index: %w", err)
	}
	m.logger.Debug("sample added", "identity", identity, "file", s.Filename)
	return nil
}

// List returns the samples of identity in insertion order.
func (m *Manager) List(identity string) ([]Sample, error) {
	if err := fsstore.ValidateName(identity); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readIndex(filepath.Join(m.root, identity))
}

// Remove drops a sample and deletes its file. It reports whether the sample was known.
func (m *Manager) Remove(identity, filename string) (bool, error) {
	if err := fsstore.ValidateName(identity); err != nil {
		return false, err
	}
	if err := fsstore.ValidateName(filename); err != nil {
		return false, err
	}
	dir := filepath.Join(m.root, identity)

	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.readIndex(dir)
	if err != nil {
		return false, err
	}
	kept := set[:0]
	found := false
	for _, s := range set {
		if s.Filename == filename {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if found {
		if err := fsstore.WriteJSONAtomic(filepath.Join(dir, indexFile), kept); err != nil {
			return false, fmt.Errorf("writing sample index: %w", err)
		}
	}
	if err := fsstore.RemoveIfExists(filepath.Join(dir, filename)); err != nil {
		return found, fmt.Errorf("removing sample file: %w", err)
	}
	return found, nil
}

// SampleFor returns the file of the sample collected from messageID, if any.
func (m *Manager) SampleFor(identity, messageID string) (string, bool) {
	if messageID == "" {
		return "", false
	}
	set, err := m.List(identity)
	if err != nil {
		m.logger.Warn("failed to read sample index", "identity", identity, "error", err)
		return "", false
	}
	for _, s := range set {
		if s.MessageID == messageID {
			return s.Filename, true
		}
	}
	return "", false
}

// Identities lists every identity with a sample directory, sorted.
func (m *Manager) Identities() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("reading samples directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && fsstore.ValidateName(e.Name()) == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Purge handles a PurgeRequest. Purging an unknown sample is not an error.
func (m *Manager) Purge(ctx context.Context, req PurgeRequest) error {
	found, err := m.Remove(req.Identity, req.SampleFilename)
	if err != nil {
		return err
	}
	m.logger.Debug("sample purge", "identity", req.Identity, "file", req.SampleFilename, "found", found)
	return nil
}

func (m *Manager) readIndex(dir string) ([]Sample, error) {
	var set []Sample
	if _, err := fsstore.ReadJSON(filepath.Join(dir, indexFile), &set); err != nil {
		return nil, fmt.Errorf("reading sample index: %w", err)
	}
	return set, nil
}
