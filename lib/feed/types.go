// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"encoding/json"
	"fmt"
)

// Cursor is an opaque position in the change feed. The empty cursor
// means the beginning of the feed.
type Cursor string

// String returns the cursor token.
func (c Cursor) String() string { return string(c) }

// Item is a single listed item inside a stash.
type Item struct {
	// ID identifies the item within its stash.
	ID string

	// Raw is the item's JSON object exactly as the feed sent it.
	Raw json.RawMessage
}

// MarshalJSON emits the original object.
func (i Item) MarshalJSON() ([]byte, error) {
	if len(i.Raw) == 0 {
		return json.Marshal(map[string]string{"id": i.ID})
	}
	return i.Raw, nil
}

// Stash is one container of items in a feed page.
type Stash struct {
	// ID identifies the stash across pages.
	ID string

	// Items is the stash's item list in feed order.
	Items []Item

	// Fields holds every other top-level stash field (account name,
	// league, stash type, ...) as raw JSON. "id" and "items" are never
	// present here.
	Fields map[string]json.RawMessage
}

// WithItems returns a copy of the stash whose item list is replaced
// by items. Fields are shared, not copied; they are never mutated.
func (s Stash) WithItems(items []Item) Stash {
	s.Items = items
	return s
}

// MarshalJSON re-assembles the stash object from Fields, ID and Items.
func (s Stash) MarshalJSON() ([]byte, error) {
	object := make(map[string]any, len(s.Fields)+2)
	for key, value := range s.Fields {
		object[key] = value
	}
	object["id"] = s.ID
	items := s.Items
	if items == nil {
		items = []Item{}
	}
	object["items"] = items
	return json.Marshal(object)
}

// Batch is one decoded feed page.
type Batch struct {
	// Cursor is the position the page was fetched at.
	Cursor Cursor

	// NextCursor is the page's next_change_id: where the following
	// fetch starts.
	NextCursor Cursor

	// Stashes are the changed stashes in feed order.
	Stashes []Stash

	// Size is the decoded body length in bytes.
	Size int

	// Digest is the hex blake3 digest of the decoded body.
	Digest string
}

// ItemCount returns the total number of items across all stashes.
func (b *Batch) ItemCount() int {
	count := 0
	for i := range b.Stashes {
		count += len(b.Stashes[i].Items)
	}
	return count
}

// CaughtUp reports whether the page is the feed's head: it points back
// at its own cursor and carries no stashes. Fetching it again
// immediately would return the same empty page.
func (b *Batch) CaughtUp() bool {
	return b.NextCursor == b.Cursor && len(b.Stashes) == 0
}

// String summarizes the batch for logs.
func (b *Batch) String() string {
	return fmt.Sprintf("%s→%s (%d stashes, %d items)", b.Cursor, b.NextCursor, len(b.Stashes), b.ItemCount())
}
