// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/stashwatch/stashwatch/lib/clock"
	"github.com/stashwatch/stashwatch/lib/feed"
)

// Fetcher retrieves the page at a cursor. *feed.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, cursor feed.Cursor) (*feed.Batch, error)
}

// BatchHandler processes one page. It runs on the poll loop's
// goroutine; the next fetch starts only after it returns.
type BatchHandler func(ctx context.Context, batch *feed.Batch)

// Committer records cursors once their page has been handled.
// *cursor.Tracker implements it.
type Committer interface {
	Advance(next feed.Cursor)
}

// Observer receives fetch outcomes, for metrics.
type Observer interface {
	FetchSucceeded(batch *feed.Batch, elapsed time.Duration)
	FetchFailed(err error, backoff time.Duration)
}

// State is the poll loop's position in its state machine.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDecoded
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDecoded:
		return "decoded"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures a Poller.
type Config struct {
	// Fetcher retrieves pages. Required.
	Fetcher Fetcher

	// Handler processes pages. Required.
	Handler BatchHandler

	// Committer, if set, is told each cursor after its page's handler
	// returns.
	Committer Committer

	// Observer, if set, is told about every fetch.
	Observer Observer

	// FetchTimeout bounds a single fetch. A timeout is an ordinary
	// retryable failure. Default: 30 seconds.
	FetchTimeout time.Duration

	// InitialBackoff is the wait after the first consecutive failure.
	// Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling backoff. Default: 60 seconds.
	MaxBackoff time.Duration

	// MinInterval is the minimum spacing between the starts of two
	// fetches. Zero disables pacing.
	MinInterval time.Duration

	// IdleDelay is the wait before refetching a page that reported
	// itself as the head of the feed. Default: 5 seconds.
	IdleDelay time.Duration

	// Clock drives every wait. Required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Poller runs the poll loop. Create with New, start with Run.
type Poller struct {
	config  Config
	limiter *rate.Limiter

	running  atomic.Bool
	state    atomic.Int32
	failures atomic.Int64
	position atomic.Pointer[feed.Cursor]
}

// New validates config and returns a Poller.
func New(config Config) *Poller {
	if config.Fetcher == nil {
		panic("poller: Fetcher is required")
	}
	if config.Handler == nil {
		panic("poller: Handler is required")
	}
	if config.Clock == nil {
		panic("poller: Clock is required")
	}
	if config.Logger == nil {
		panic("poller: Logger is required")
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 30 * time.Second
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 60 * time.Second
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if config.IdleDelay <= 0 {
		config.IdleDelay = 5 * time.Second
	}

	poller := &Poller{config: config}
	if config.MinInterval > 0 {
		poller.limiter = rate.NewLimiter(rate.Every(config.MinInterval), 1)
	}
	return poller
}

// Run polls from start until ctx is cancelled. It returns nil on
// cancellation and an error only if the Poller is already running.
func (p *Poller) Run(ctx context.Context, start feed.Cursor) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("poller: already running")
	}
	defer p.running.Store(false)
	defer p.state.Store(int32(StateStopped))

	logger := p.config.Logger
	cursor := start
	backoff := p.config.InitialBackoff
	p.setPosition(cursor)
	p.state.Store(int32(StateIdle))
	logger.Info("poll loop starting", "cursor", cursor)

	for {
		if !p.pace(ctx) {
			break
		}

		p.state.Store(int32(StateFetching))
		started := p.config.Clock.Now()
		batch, err := p.fetch(ctx, cursor)
		if ctx.Err() != nil {
			if err == nil {
				logger.Info("discarding fetched page on shutdown", "cursor", cursor)
			}
			break
		}

		if err != nil {
			failures := p.failures.Add(1)
			if p.config.Observer != nil {
				p.config.Observer.FetchFailed(err, backoff)
			}
			logger.Warn("fetch failed, retrying",
				"cursor", cursor,
				"consecutive_failures", failures,
				"backoff", backoff,
				"error", err,
			)
			p.state.Store(int32(StateBackoff))
			if !p.wait(ctx, backoff) {
				break
			}
			backoff *= 2
			if backoff > p.config.MaxBackoff {
				backoff = p.config.MaxBackoff
			}
			continue
		}

		backoff = p.config.InitialBackoff
		p.failures.Store(0)
		p.state.Store(int32(StateDecoded))
		if p.config.Observer != nil {
			p.config.Observer.FetchSucceeded(batch, p.config.Clock.Now().Sub(started))
		}

		p.config.Handler(ctx, batch)

		cursor = batch.NextCursor
		p.setPosition(cursor)
		if p.config.Committer != nil {
			p.config.Committer.Advance(cursor)
		}
		p.state.Store(int32(StateIdle))

		if batch.CaughtUp() {
			logger.Debug("feed head reached, idling", "cursor", cursor, "delay", p.config.IdleDelay)
			if !p.wait(ctx, p.config.IdleDelay) {
				break
			}
		}
	}

	logger.Info("poll loop stopped", "cursor", cursor)
	return nil
}

// fetch performs one bounded fetch.
func (p *Poller) fetch(ctx context.Context, cursor feed.Cursor) (*feed.Batch, error) {
	fetchContext, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()
	batch, err := p.config.Fetcher.Fetch(fetchContext, cursor)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, errors.New("fetcher returned no page")
	}
	return batch, nil
}

// pace waits until the limiter admits another fetch. The reservation
// is made against the injected clock so tests control it.
func (p *Poller) pace(ctx context.Context) bool {
	if p.limiter == nil {
		return ctx.Err() == nil
	}
	now := p.config.Clock.Now()
	delay := p.limiter.ReserveN(now, 1).DelayFrom(now)
	return p.wait(ctx, delay)
}

// wait sleeps for d on the injected clock. Returns false if ctx was
// cancelled first.
func (p *Poller) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.config.Clock.After(d):
		return true
	}
}

func (p *Poller) setPosition(cursor feed.Cursor) {
	p.position.Store(&cursor)
}

// State returns the loop's current state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Position returns the cursor the loop will fetch next (or is
// fetching now).
func (p *Poller) Position() feed.Cursor {
	if cursor := p.position.Load(); cursor != nil {
		return *cursor
	}
	return ""
}

// ConsecutiveFailures returns the number of failed fetches since the
// last success.
func (p *Poller) ConsecutiveFailures() int64 {
	return p.failures.Load()
}
