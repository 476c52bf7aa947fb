// ABOUTME: PebbleQueue stores pending deliveries as keys in an embedded Pebble database
// ABOUTME: Every write is synced so a created record survives process termination

package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/2389/coven-relay/internal/fsstore"
)

var (
	pendingPrefix = []byte("pending/")
	corruptPrefix = []byte("corrupt/")
	// '/' + 1, the exclusive upper bound for the pending prefix
	pendingUpper = []byte("pending0")
)

// PebbleQueue implements Queue on a Pebble key-value store.
type PebbleQueue struct {
	db     *pebble.DB
	logger *slog.Logger

	// serializes the exists-check and set in Enqueue
	mu sync.Mutex
}

// NewPebbleQueue opens (or creates) the store at path.
func NewPebbleQueue(path string, logger *slog.Logger) (*PebbleQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), fsstore.DirPerm); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble queue: %w", err)
	}
	return &PebbleQueue{
		db:     db,
		logger: logger.With("component", "queue_pebble"),
	}, nil
}

func pendingKey(name string) []byte {
	return append(append([]byte{}, pendingPrefix...), name...)
}

// Enqueue sets the record key; it fails with ErrAlreadyQueued if the key exists.
func (q *PebbleQueue) Enqueue(ctx context.Context, item Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return &WriteError{Name: item.Name, Err: err}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	key := pendingKey(item.Name)
	_, closer, err := q.db.Get(key)
	switch {
	case err == nil:
		closer.Close()
		return ErrAlreadyQueued
	case !errors.Is(err, pebble.ErrNotFound):
		return &WriteError{Name: item.Name, Err: err}
	}

	if err := q.db.Set(key, data, pebble.Sync); err != nil {
		return &WriteError{Name: item.Name, Err: err}
	}
	q.logger.Debug("item enqueued", "item", item.Name, "kind", item.Kind)
	return nil
}

// ListPending scans the pending prefix.
func (q *PebbleQueue) ListPending(ctx context.Context) ([]Item, error) {
	it, err := q.db.NewIter(&pebble.IterOptions{
		LowerBound: pendingPrefix,
		UpperBound: pendingUpper,
	})
	if err != nil {
		return nil, fmt.Errorf("opening queue iterator: %w", err)
	}
	defer it.Close()

	var items []Item
	var bad [][2][]byte
	for ok := it.First(); ok; ok = it.Next() {
		var item Item
		err := json.Unmarshal(it.Value(), &item)
		if err == nil {
			err = item.Validate()
		}
		if err == nil && !bytes.Equal(it.Key(), pendingKey(item.Name)) {
			err = fmt.Errorf("key does not match item name %q", item.Name)
		}
		if err != nil {
			q.logger.Warn("quarantining corrupt queue record", "key", string(it.Key()), "error", err)
			bad = append(bad, [2][]byte{
				append([]byte{}, it.Key()...),
				append([]byte{}, it.Value()...),
			})
			continue
		}
		items = append(items, item)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterating queue: %w", err)
	}
	for _, kv := range bad {
		q.quarantine(kv[0], kv[1])
	}
	sortPending(items)
	return items, nil
}

// quarantine moves a record from the pending prefix to the corrupt prefix.
func (q *PebbleQueue) quarantine(key, value []byte) {
	target := append(append([]byte{}, corruptPrefix...), key[len(pendingPrefix):]...)
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Set(target, value, nil); err != nil {
		q.logger.Error("failed to quarantine queue record", "key", string(key), "error", err)
		return
	}
	if err := b.Delete(key, nil); err != nil {
		q.logger.Error("failed to quarantine queue record", "key", string(key), "error", err)
		return
	}
	if err := b.Commit(pebble.Sync); err != nil {
		q.logger.Error("failed to quarantine queue record", "key", string(key), "error", err)
	}
}

// Remove deletes the record key. Deleting a missing key is not an error.
func (q *PebbleQueue) Remove(ctx context.Context, item Item) error {
	if err := q.db.Delete(pendingKey(item.Name), pebble.Sync); err != nil {
		return fmt.Errorf("removing queue record %s: %w", item.Name, err)
	}
	return nil
}

// Close closes the underlying database.
func (q *PebbleQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}
