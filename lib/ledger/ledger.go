// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/stashwatch/stashwatch/lib/clock"
	"github.com/stashwatch/stashwatch/lib/diff"
	"github.com/stashwatch/stashwatch/lib/feed"
	"github.com/stashwatch/stashwatch/lib/sqlitepool"
)

// DefaultRetention is how long rows are kept when Config.Retention is
// zero.
const DefaultRetention = 7 * 24 * time.Hour

// pruneInterval is the minimum time between automatic prunes.
const pruneInterval = time.Hour

// ErrNotFound is returned by Events for an unknown batch id.
var ErrNotFound = errors.New("ledger: batch not found")

const schema = `
	CREATE TABLE IF NOT EXISTS batches (
		id          TEXT PRIMARY KEY,
		cursor      TEXT NOT NULL,
		next_cursor TEXT NOT NULL,
		body_size   INTEGER NOT NULL,
		digest      TEXT NOT NULL,
		stashes     INTEGER NOT NULL,
		adds        INTEGER NOT NULL,
		removes     INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL,
		compression INTEGER NOT NULL,
		raw_size    INTEGER NOT NULL,
		events      BLOB
	);
	CREATE INDEX IF NOT EXISTS batches_recorded_at ON batches (recorded_at);
`

// Config configures a Ledger.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// Retention is how long rows are kept. Default: DefaultRetention.
	Retention time.Duration

	// Clock timestamps rows and drives pruning. Required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Entry is one recorded page, without its events.
type Entry struct {
	ID          string
	Cursor      feed.Cursor
	NextCursor  feed.Cursor
	BodySize    int
	Digest      string
	Stashes     int
	Adds        int
	Removes     int
	RecordedAt  time.Time
	Compression Compression
	RawSize     int
	StoredSize  int
}

// EventRecord is one stored event. Stash is the JSON object that was
// delivered.
type EventRecord struct {
	Kind  string          `json:"kind"`
	Stash json.RawMessage `json:"stash"`
}

// Ledger is the page history store.
type Ledger struct {
	pool   *sqlitepool.Pool
	config Config

	mu        sync.Mutex
	lastPrune time.Time
}

// Open opens or creates the ledger database.
func Open(config Config) (*Ledger, error) {
	if config.Clock == nil {
		panic("ledger: Clock is required")
	}
	if config.Logger == nil {
		panic("ledger: Logger is required")
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   config.Path,
		Schema: schema,
		Logger: config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return &Ledger{pool: pool, config: config}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.pool.Close()
}

// Record stores one processed page and its events under id.
func (l *Ledger) Record(ctx context.Context, id string, batch *feed.Batch, events []diff.Event) error {
	records := make([]struct {
		Kind  string     `json:"kind"`
		Stash feed.Stash `json:"stash"`
	}, len(events))
	var adds, removes int
	for i, event := range events {
		records[i].Kind = event.Kind.String()
		records[i].Stash = event.Stash
		switch event.Kind {
		case diff.Add:
			adds++
		case diff.Remove:
			removes++
		}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("ledger: encoding events of %s: %w", id, err)
	}
	stored, compression := compress(raw)
	now := l.config.Clock.Now()

	err = l.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO batches (id, cursor, next_cursor, body_size, digest, stashes,
				adds, removes, recorded_at, compression, raw_size, events)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					id, string(batch.Cursor), string(batch.NextCursor), batch.Size, batch.Digest,
					len(batch.Stashes), adds, removes, now.UnixNano(),
					int(compression), len(raw), stored,
				},
			})
	})
	if err != nil {
		return fmt.Errorf("ledger: recording %s: %w", id, err)
	}

	l.maybePrune(ctx, now)
	return nil
}

func (l *Ledger) maybePrune(ctx context.Context, now time.Time) {
	l.mu.Lock()
	due := now.Sub(l.lastPrune) >= pruneInterval
	if due {
		l.lastPrune = now
	}
	l.mu.Unlock()
	if !due {
		return
	}
	removed, err := l.Prune(ctx)
	if err != nil {
		l.config.Logger.Warn("ledger prune failed", "error", err)
		return
	}
	if removed > 0 {
		l.config.Logger.Info("ledger pruned", "removed", removed, "retention", l.config.Retention)
	}
}

// Prune deletes rows older than the retention window and returns how
// many were removed.
func (l *Ledger) Prune(ctx context.Context) (int, error) {
	cutoff := l.config.Clock.Now().Add(-l.config.Retention).UnixNano()
	var removed int
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "DELETE FROM batches WHERE recorded_at < ?", &sqlitex.ExecOptions{
			Args: []any{cutoff},
		})
		removed = conn.Changes()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: pruning: %w", err)
	}
	return removed, nil
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	var entries []Entry
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, cursor, next_cursor, body_size, digest, stashes, adds, removes,
				recorded_at, compression, raw_size, length(events)
			FROM batches
			ORDER BY recorded_at DESC, id DESC
			LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					entries = append(entries, Entry{
						ID:          stmt.ColumnText(0),
						Cursor:      feed.Cursor(stmt.ColumnText(1)),
						NextCursor:  feed.Cursor(stmt.ColumnText(2)),
						BodySize:    stmt.ColumnInt(3),
						Digest:      stmt.ColumnText(4),
						Stashes:     stmt.ColumnInt(5),
						Adds:        stmt.ColumnInt(6),
						Removes:     stmt.ColumnInt(7),
						RecordedAt:  time.Unix(0, stmt.ColumnInt64(8)).UTC(),
						Compression: Compression(stmt.ColumnInt(9)),
						RawSize:     stmt.ColumnInt(10),
						StoredSize:  stmt.ColumnInt(11),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: listing recent batches: %w", err)
	}
	return entries, nil
}

// Events returns the events recorded for batch id.
func (l *Ledger) Events(ctx context.Context, id string) ([]EventRecord, error) {
	var (
		found       bool
		compression Compression
		rawSize     int
		stored      []byte
	)
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT compression, raw_size, events FROM batches WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				compression = Compression(stmt.ColumnInt(0))
				rawSize = stmt.ColumnInt(1)
				stored = make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, stored)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: reading events of %s: %w", id, err)
	}
	if !found {
		return nil, ErrNotFound
	}

	raw, err := decompress(stored, compression, rawSize)
	if err != nil {
		return nil, fmt.Errorf("ledger: events of %s: %w", id, err)
	}
	var records []EventRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("ledger: decoding events of %s: %w", id, err)
	}
	return records, nil
}
