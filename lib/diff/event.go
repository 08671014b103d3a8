// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"fmt"

	"github.com/stashwatch/stashwatch/lib/feed"
)

// Kind says whether an event reports items that appeared or items
// that disappeared.
type Kind uint8

const (
	// Add reports items present in a stash that were not present
	// before. A stash seen for the first time produces one Add with
	// every item.
	Add Kind = iota + 1

	// Remove reports items that were present and no longer are.
	Remove
)

// String returns "add" or "remove".
func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "add":
		return Add, nil
	case "remove":
		return Remove, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", name)
	}
}

// Key identifies an item across the whole feed. It is a struct rather
// than a joined string so no choice of separator can make two distinct
// (stash, item) pairs collide.
type Key struct {
	StashID string
	ItemID  string
}

// Event is one change notification for one stash. Stash.Items holds
// only the items that changed; all other stash fields are as the feed
// last reported them.
type Event struct {
	Kind  Kind
	Stash feed.Stash
}

// String summarizes the event for logs.
func (e Event) String() string {
	return fmt.Sprintf("%s %s (%d items)", e.Kind, e.Stash.ID, len(e.Stash.Items))
}
