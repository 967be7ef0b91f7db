// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package sqlitecache provides a persistent response cache backed by a
// SQLite database.
package sqlitecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gogama/reqflow/cache"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Memory is the database path of a private in-memory database.
const Memory = ":memory:"

// Config configures a Cache.
type Config struct {
	// Path is the filesystem path of the database file, or Memory.
	Path string
	// TTL is the time an entry stays valid after being stored. Zero or
	// negative means entries never expire.
	TTL time.Duration
	// Clock supplies the current time. If nil, the system clock is used.
	Clock clock.Clock
}

// A Cache is a cache.Cache storing entries in SQLite.
type Cache struct {
	db    *sql.DB
	ttl   time.Duration
	clock clock.Clock
}

var _ cache.Cache = (*Cache)(nil)

// Open opens, and if necessary creates, the cache database.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlitecache: database path is required")
	}
	dsn := cfg.Path
	if cfg.Path != Memory {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitecache: opening database")
	}
	if cfg.Path == Memory || strings.HasPrefix(cfg.Path, "file::memory:") {
		// Every connection to :memory: is a different database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlitecache: connecting to database")
	}
	c := &Cache{
		db:    db,
		ttl:   cfg.TTL,
		clock: cfg.Clock,
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if err := c.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS responses (
		key TEXT PRIMARY KEY,
		status_code INTEGER NOT NULL,
		header_json TEXT,
		body BLOB,
		stored_at INTEGER NOT NULL
	)`)
	return errors.Wrap(err, "sqlitecache: creating schema")
}

// Get returns the entry stored for key, if it exists and has not
// expired.
func (c *Cache) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	var (
		e          cache.Entry
		headerJSON sql.NullString
		storedAt   int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT status_code, header_json, body, stored_at FROM responses WHERE key = ?`, key).
		Scan(&e.StatusCode, &headerJSON, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, errors.Wrap(err, "sqlitecache: reading entry")
	}
	e.Stored = time.Unix(0, storedAt)
	if c.ttl > 0 && c.clock.Since(e.Stored) >= c.ttl {
		return cache.Entry{}, false, nil
	}
	if headerJSON.Valid && headerJSON.String != "" {
		if err := json.Unmarshal([]byte(headerJSON.String), &e.Header); err != nil {
			return cache.Entry{}, false, errors.Wrap(err, "sqlitecache: decoding header")
		}
	}
	return e, true, nil
}

// Set stores e under key, replacing any previous entry. If e.Stored is
// zero it is set to the current time.
func (c *Cache) Set(ctx context.Context, key string, e cache.Entry) error {
	if e.Stored.IsZero() {
		e.Stored = c.clock.Now()
	}
	var headerJSON sql.NullString
	if len(e.Header) > 0 {
		b, err := json.Marshal(e.Header)
		if err != nil {
			return errors.Wrap(err, "sqlitecache: encoding header")
		}
		headerJSON = sql.NullString{String: string(b), Valid: true}
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}
	_, err := c.db.ExecContext(ctx, `INSERT INTO responses (key, status_code, header_json, body, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status_code = excluded.status_code,
			header_json = excluded.header_json,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		key, e.StatusCode, headerJSON, body, e.Stored.UnixNano())
	return errors.Wrap(err, "sqlitecache: writing entry")
}

// Prune deletes expired entries and returns how many were deleted. It
// does nothing if the cache has no TTL.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := c.clock.Now().Add(-c.ttl).UnixNano()
	res, err := c.db.ExecContext(ctx, `DELETE FROM responses WHERE stored_at <= ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "sqlitecache: pruning entries")
	}
	return res.RowsAffected()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses`).Scan(&n)
	return n, errors.Wrap(err, "sqlitecache: counting entries")
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
