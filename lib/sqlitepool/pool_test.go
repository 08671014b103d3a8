// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/stashwatch/stashwatch/lib/sqlitepool"
)

const testSchema = `
	CREATE TABLE IF NOT EXISTS cursors (
		position INTEGER PRIMARY KEY,
		cursor   TEXT NOT NULL
	);
`

func openTestPool(t *testing.T, path string) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, Schema: testSchema})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}

func TestOpenAppliesPragmasAndSchema(t *testing.T) {
	pool := openTestPool(t, filepath.Join(t.TempDir(), "test.db"))

	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		var journalMode string
		err := sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if journalMode != "wal" {
			t.Errorf("journal_mode = %q, want wal", journalMode)
		}
		return sqlitex.Execute(conn, "INSERT INTO cursors (cursor) VALUES (?)", &sqlitex.ExecOptions{
			Args: []any{"100-200-300"},
		})
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestSchemaIsIdempotentAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	first, err := sqlitepool.Open(sqlitepool.Config{Path: path, Schema: testSchema})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	err = first.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO cursors (cursor) VALUES ('A')", nil)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openTestPool(t, path)
	var count int64
	err = second.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM cursors", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows after reopen = %d, want 1", count)
	}
}

func TestWithReturnsCallbackError(t *testing.T) {
	pool := openTestPool(t, filepath.Join(t.TempDir(), "test.db"))
	sentinel := errors.New("callback failed")
	if err := pool.With(context.Background(), func(*sqlite.Conn) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("With = %v, want %v", err, sentinel)
	}
	// The connection went back to the pool.
	if err := pool.With(context.Background(), func(*sqlite.Conn) error { return nil }); err != nil {
		t.Errorf("second With: %v", err)
	}
}

func TestBadSchemaRejected(t *testing.T) {
	_, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(t.TempDir(), "bad.db"),
		Schema: "CREATE TABLE (",
	})
	if err == nil {
		t.Fatal("Open accepted an invalid schema")
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("Open accepted an empty Path")
	}
}

func TestTakeHonorsContext(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Error("Take succeeded on a full pool with a cancelled context")
	}
	pool.Put(conn)
}
