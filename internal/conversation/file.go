// ABOUTME: FileBackend stores each conversation as a JSON file named after the identity
// ABOUTME: Saves replace the file atomically so a crash never leaves a torn record

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/2389/coven-relay/internal/fsstore"
)

const (
	recordExt     = ".json"
	quarantineExt = ".corrupt"
)

// FileBackend implements Backend over a directory of JSON files.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed and returns a backend rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, fsstore.DirPerm); err != nil {
		return nil, fmt.Errorf("creating conversations directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Identities lists the identities that have a record file.
func (b *FileBackend) Identities(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.dir, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(out)
	return out, nil
}

// Load decodes one identity's record.
func (b *FileBackend) Load(ctx context.Context, identity string) ([]Message, error) {
	path, err := b.path(identity)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading conversation %s: %w", identity, err)
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		target := path + quarantineExt
		if rerr := os.Rename(path, target); rerr != nil {
			return nil, fmt.Errorf("decoding conversation %s: %v (quarantine failed: %w)", identity, err, rerr)
		}
		return nil, fmt.Errorf("%w: %s moved to %s: %v", ErrCorruptRecord, identity, filepath.Base(target), err)
	}
	return msgs, nil
}

// Save replaces one identity's record.
func (b *FileBackend) Save(ctx context.Context, identity string, msgs []Message) error {
	path, err := b.path(identity)
	if err != nil {
		return err
	}
	return fsstore.WriteJSONAtomic(path, msgs)
}

// Close is a no-op for the file backend.
func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) path(identity string) (string, error) {
	if err := fsstore.ValidateName(identity); err != nil {
		return "", err
	}
	return filepath.Join(b.dir, identity+recordExt), nil
}
