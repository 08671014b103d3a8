// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package cursor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stashwatch/stashwatch/lib/clock"
	"github.com/stashwatch/stashwatch/lib/feed"
)

// Source issues a single bootstrap request. *feed.Client implements it.
type Source interface {
	Bootstrap(ctx context.Context) (feed.Cursor, error)
}

// Config configures a Tracker.
type Config struct {
	// Source answers bootstrap requests. Required unless StartCursor
	// is set.
	Source Source

	// StartCursor, when non-empty, is used as the first cursor and no
	// bootstrap request is made.
	StartCursor feed.Cursor

	// Attempts is the number of bootstrap requests made before giving
	// up. Default: 5.
	Attempts int

	// InitialBackoff is the wait after the first failed attempt; each
	// further failure doubles it. Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Default: 30 seconds.
	MaxBackoff time.Duration

	// Timeout bounds each bootstrap request. Default: 30 seconds.
	Timeout time.Duration

	// Clock drives the backoff waits. Required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Tracker holds the current feed cursor.
type Tracker struct {
	config Config

	mu        sync.RWMutex
	current   feed.Cursor
	committed int64
}

// New returns a Tracker with no cursor.
func New(config Config) *Tracker {
	if config.Source == nil && config.StartCursor == "" {
		panic("cursor.Tracker: Source or StartCursor is required")
	}
	if config.Clock == nil {
		panic("cursor.Tracker: Clock is required")
	}
	if config.Logger == nil {
		panic("cursor.Tracker: Logger is required")
	}
	if config.Attempts <= 0 {
		config.Attempts = 5
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Tracker{config: config}
}

// Bootstrap determines the first cursor and records it as current.
// With a configured StartCursor it returns immediately. Otherwise it
// asks the Source, retrying with exponential backoff, and returns the
// last error once Attempts requests have failed. Without a valid
// entry cursor the pipeline cannot start, so callers treat that error
// as fatal.
func (t *Tracker) Bootstrap(ctx context.Context) (feed.Cursor, error) {
	if t.config.StartCursor != "" {
		t.config.Logger.Info("using configured start cursor", "cursor", t.config.StartCursor)
		t.set(t.config.StartCursor, false)
		return t.config.StartCursor, nil
	}

	backoff := t.config.InitialBackoff
	var lastError error
	for attempt := 1; attempt <= t.config.Attempts; attempt++ {
		cursor, err := t.fetch(ctx)
		if err == nil {
			t.config.Logger.Info("bootstrap cursor obtained", "cursor", cursor, "attempt", attempt)
			t.set(cursor, false)
			return cursor, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("bootstrap cancelled: %w", ctx.Err())
		}
		lastError = err
		if attempt == t.config.Attempts {
			break
		}

		t.config.Logger.Warn("bootstrap failed, retrying",
			"attempt", attempt,
			"max_attempts", t.config.Attempts,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("bootstrap cancelled: %w", ctx.Err())
		case <-t.config.Clock.After(backoff):
		}
		backoff *= 2
		if backoff > t.config.MaxBackoff {
			backoff = t.config.MaxBackoff
		}
	}
	return "", fmt.Errorf("bootstrap failed after %d attempts: %w", t.config.Attempts, lastError)
}

func (t *Tracker) fetch(ctx context.Context) (feed.Cursor, error) {
	requestContext, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()
	return t.config.Source.Bootstrap(requestContext)
}

// Advance records next as the current cursor. The poller calls it only
// after the batch that produced next has been fully processed.
func (t *Tracker) Advance(next feed.Cursor) {
	t.set(next, true)
}

// Current returns the most recently recorded cursor.
func (t *Tracker) Current() feed.Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Committed returns how many cursors have been committed by Advance.
func (t *Tracker) Committed() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.committed
}

func (t *Tracker) set(cursor feed.Cursor, commit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = cursor
	if commit {
		t.committed++
	}
}
