// ABOUTME: SQLite implementation of the conversation Backend using modernc.org/sqlite
// ABOUTME: Keeps one row per identity holding the JSON-encoded message list

package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend implements Backend using SQLite.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteBackend opens (or creates) the database at path.
// Parent directories are created if needed.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	logger := slog.Default().With("component", "conversation_sqlite")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	// Every save must reach disk before the append is acknowledged
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	b := &SQLiteBackend{db: db, logger: logger}
	if err := b.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite conversation backend initialized", "path", path)
	return b, nil
}

func (b *SQLiteBackend) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			identity   TEXT PRIMARY KEY,
			messages   TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations_corrupt (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			identity       TEXT NOT NULL,
			messages       TEXT NOT NULL,
			quarantined_at TEXT NOT NULL
		);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Identities lists every identity with a row.
func (b *SQLiteBackend) Identities(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT identity FROM conversations ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Load decodes one identity's row.
func (b *SQLiteBackend) Load(ctx context.Context, identity string) ([]Message, error) {
	var raw string
	err := b.db.QueryRowContext(ctx,
		`SELECT messages FROM conversations WHERE identity = ?`, identity).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		if qerr := b.quarantine(ctx, identity, raw); qerr != nil {
			return nil, fmt.Errorf("decoding conversation %s: %v (quarantine failed: %w)", identity, err, qerr)
		}
		b.logger.Warn("moved corrupt conversation row aside", "identity", identity, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, identity, err)
	}
	return msgs, nil
}

// quarantine moves an undecodable row into conversations_corrupt.
func (b *SQLiteBackend) quarantine(ctx context.Context, identity, raw string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations_corrupt (identity, messages, quarantined_at)
		VALUES (?, ?, ?)
	`, identity, raw, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("copying corrupt row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("deleting corrupt row: %w", err)
	}
	return tx.Commit()
}

// Save upserts one identity's row.
func (b *SQLiteBackend) Save(ctx context.Context, identity string, msgs []Message) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO conversations (identity, messages, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at
	`, identity, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
