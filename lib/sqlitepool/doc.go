// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases with the settings every
// stashwatch store uses, on top of zombiezen.com/go/sqlite.
//
// Connections are not safe for concurrent use. Callers Take one, use
// it, and Put it back, or let With do both:
//
//	err := pool.With(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{...})
//	})
//
// Every connection runs with journal_mode=WAL, synchronous=NORMAL and
// a five second busy timeout. NORMAL survives a process crash but not
// power loss; nothing stored here is the source of truth for the
// poller, so a lost tail of history is acceptable.
//
// Config.Schema, if set, is executed once when the pool opens. It must
// be idempotent (CREATE ... IF NOT EXISTS).
package sqlitepool
