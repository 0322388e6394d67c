package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key         TEXT PRIMARY KEY,
	value       BLOB NOT NULL,
	accessed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS cache_entries_accessed_at ON cache_entries (accessed_at);
`

// SQLiteTier is a slow tier backed by a local SQLite file. The table may be
// shared with other users; rows are scoped by the key prefix.
type SQLiteTier struct {
	db     *sql.DB
	prefix string
}

// OpenSQLiteTier opens (or creates) the database at path.
func OpenSQLiteTier(ctx context.Context, path, prefix string) (*SQLiteTier, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SQLiteTier{db: db, prefix: prefix}, nil
}

// Close closes the database.
func (t *SQLiteTier) Close() error {
	return t.db.Close()
}

// Load implements Tier.
func (t *SQLiteTier) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := t.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ?`, t.prefix+key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite load: %w", err)
	}
	return value, nil
}

// Save implements Tier.
func (t *SQLiteTier) Save(ctx context.Context, key string, value []byte, accessedAt time.Time) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, accessed_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, accessed_at = excluded.accessed_at`,
		t.prefix+key, value, accessedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite save: %w", err)
	}
	return nil
}

// Touch implements Tier.
func (t *SQLiteTier) Touch(ctx context.Context, key string, accessedAt time.Time) error {
	_, err := t.db.ExecContext(ctx,
		`UPDATE cache_entries SET accessed_at = ? WHERE key = ?`,
		accessedAt.UnixMilli(), t.prefix+key)
	if err != nil {
		return fmt.Errorf("sqlite touch: %w", err)
	}
	return nil
}

// Delete implements Tier.
func (t *SQLiteTier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM cache_entries WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("sqlite prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, t.prefix+key); err != nil {
			return fmt.Errorf("sqlite delete: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// Keys implements Tier.
func (t *SQLiteTier) Keys(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT key FROM cache_entries
		WHERE substr(key, 1, ?) = ?
		ORDER BY accessed_at, key`, len(t.prefix), t.prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlite keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite scan key: %w", err)
		}
		keys = append(keys, key[len(t.prefix):])
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite keys: %w", err)
	}
	return keys, nil
}

// Len implements Tier.
func (t *SQLiteTier) Len(ctx context.Context) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE substr(key, 1, ?) = ?`,
		len(t.prefix), t.prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}

// Clear implements Tier.
func (t *SQLiteTier) Clear(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?`, len(t.prefix), t.prefix)
	if err != nil {
		return fmt.Errorf("sqlite clear: %w", err)
	}
	return nil
}
