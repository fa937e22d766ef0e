package contentstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS content_blobs (
	id         TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	size       INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// SQLiteStore keeps blobs in a single SQLite table.
type SQLiteStore struct {
	db      *sqlx.DB
	maxSize int64
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
// path may be ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string, maxSize int64) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if strings.Contains(path, ":memory:") {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(2)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create content schema: %w", err)
	}
	return &SQLiteStore{db: db, maxSize: maxSize}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := checkSize(data, s.maxSize); err != nil {
		return "", err
	}
	id := IDOf(data)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_blobs (id, data, size) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, data, len(data),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert %s: %w", ErrUnavailable, id, err)
	}
	return id, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) ([]byte, error) {
	d, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.GetContext(ctx, &data, `SELECT data FROM content_blobs WHERE id = ?`, d.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select %s: %w", ErrUnavailable, d, err)
	}
	if err := verify(d, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
