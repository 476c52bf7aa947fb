// ABOUTME: Backend interface for durable conversation records
// ABOUTME: One record per identity, replaced wholesale on every save

package conversation

import "context"

// Backend persists whole conversations keyed by identity.
type Backend interface {
	// Identities lists every identity that has a persisted record.
	Identities(ctx context.Context) ([]string, error)

	// Load reads the record for one identity. A record that cannot be decoded is
	// moved out of the way and Load returns an error wrapping ErrCorruptRecord.
	Load(ctx context.Context, identity string) ([]Message, error)

	// Save replaces the record for one identity. It must not return until the
	// record is durable.
	Save(ctx context.Context, identity string, msgs []Message) error

	// Close releases any resources held by the backend.
	Close() error
}
