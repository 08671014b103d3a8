// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"sync"

	"github.com/stashwatch/stashwatch/lib/diff"
)

// unit is one page's worth of serialized events.
type unit struct {
	batchID string
	events  []encodedEvent
	size    int
}

type encodedEvent struct {
	kind    diff.Kind
	stashID string
	payload []byte
}

// queue is a FIFO of units bounded by the total payload size. Safe
// for concurrent use.
type queue struct {
	mu        sync.Mutex
	units     []*unit
	totalSize int
	maxSize   int
	notify    chan struct{}

	// active is set from pop until finish, while the popped unit is
	// being delivered.
	active bool
}

func newQueue(maxSize int) *queue {
	return &queue{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
	}
}

// push appends u, first evicting the oldest units until it fits. A
// unit larger than the whole bound evicts everything else and is kept
// alone: the newest page is never the one lost. Returns the evicted
// units.
func (q *queue) push(u *unit) []*unit {
	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted []*unit
	for q.totalSize+u.size > q.maxSize && len(q.units) > 0 {
		oldest := q.units[0]
		q.units[0] = nil
		q.units = q.units[1:]
		q.totalSize -= oldest.size
		evicted = append(evicted, oldest)
	}
	q.units = append(q.units, u)
	q.totalSize += u.size

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

// pop removes and returns the oldest unit, or nil if the queue is
// empty. A non-nil unit marks the queue active until finish.
func (q *queue) pop() *unit {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.units) == 0 {
		return nil
	}
	q.active = true
	oldest := q.units[0]
	q.units[0] = nil
	q.units = q.units[1:]
	q.totalSize -= oldest.size
	return oldest
}

// depth returns the number of waiting units and their total size.
func (q *queue) depth() (units, bytes int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units), q.totalSize
}

// finish clears the mark set by pop.
func (q *queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = false
}

// idle reports whether nothing is queued or being delivered.
func (q *queue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units) == 0 && !q.active
}
