// ABOUTME: FileQueue stores each pending delivery as a JSON file in one directory
// ABOUTME: Records are created with an exclusive link and quarantined when invalid or misnamed

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/coven-relay/internal/fsstore"
)

const (
	recordExt     = ".json"
	quarantineExt = ".corrupt"
)

// FileQueue implements Queue over a directory of JSON records.
type FileQueue struct {
	dir    string
	logger *slog.Logger
}

// NewFileQueue creates the directory if needed.
func NewFileQueue(dir string, logger *slog.Logger) (*FileQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, fsstore.DirPerm); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}
	return &FileQueue{
		dir:    dir,
		logger: logger.With("component", "queue_file"),
	}, nil
}

// Enqueue writes the record; it fails with ErrAlreadyQueued if the name is taken.
func (q *FileQueue) Enqueue(ctx context.Context, item Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return &WriteError{Name: item.Name, Err: err}
	}
	if err := fsstore.CreateExclusive(q.path(item.Name), data); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrAlreadyQueued
		}
		return &WriteError{Name: item.Name, Err: err}
	}
	q.logger.Debug("item enqueued", "item", item.Name, "kind", item.Kind)
	return nil
}

// ListPending reads every record currently in the directory. Records that do
// not decode, fail validation, or sit under a file name other than their own
// are quarantined, since Remove could never clear them.
func (q *FileQueue) ListPending(ctx context.Context) ([]Item, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("reading queue directory: %w", err)
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		path := filepath.Join(q.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Removed since the directory was read
				continue
			}
			q.logger.Warn("failed to read queue record", "record", name, "error", err)
			continue
		}
		var item Item
		if err := json.Unmarshal(data, &item); err != nil {
			q.quarantine(path, err)
			continue
		}
		if err := item.Validate(); err != nil {
			q.quarantine(path, err)
			continue
		}
		if name != item.Name+recordExt {
			q.quarantine(path, fmt.Errorf("record file does not match item name %q", item.Name))
			continue
		}
		items = append(items, item)
	}
	sortPending(items)
	return items, nil
}

// Remove deletes the record. A missing record is not an error.
func (q *FileQueue) Remove(ctx context.Context, item Item) error {
	if err := fsstore.ValidateName(item.Name); err != nil {
		return err
	}
	if err := fsstore.RemoveIfExists(q.path(item.Name)); err != nil {
		return fmt.Errorf("removing queue record %s: %w", item.Name, err)
	}
	return nil
}

// Close is a no-op for the file queue.
func (q *FileQueue) Close() error {
	return nil
}

func (q *FileQueue) path(name string) string {
	return filepath.Join(q.dir, name+recordExt)
}

// quarantine renames a record that cannot be delivered or removed so it stops being listed.
func (q *FileQueue) quarantine(path string, cause error) {
	target := path + quarantineExt
	if err := os.Rename(path, target); err != nil {
		q.logger.Error("failed to quarantine corrupt queue record", "record", path, "error", err)
		return
	}
	q.logger.Warn("quarantined corrupt queue record", "record", path, "moved_to", target, "error", cause)
}
