// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stashwatch/stashwatch/lib/feed"
)

// page builds a batch from stash id → item ids.
func page(stashes ...feed.Stash) *feed.Batch {
	return &feed.Batch{Cursor: "C0", NextCursor: "C1", Stashes: stashes}
}

func stash(id string, itemIDs ...string) feed.Stash {
	items := make([]feed.Item, len(itemIDs))
	for i, itemID := range itemIDs {
		raw, _ := json.Marshal(map[string]string{"id": itemID, "typeLine": "item " + itemID})
		items[i] = feed.Item{ID: itemID, Raw: raw}
	}
	return feed.Stash{
		ID:     id,
		Items:  items,
		Fields: map[string]json.RawMessage{"league": json.RawMessage(`"Standard"`)},
	}
}

func itemIDs(items []feed.Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

func knownIDs(t *testing.T, engine *Engine, stashID string) []string {
	t.Helper()
	keys, seen := engine.Known(stashID)
	if !seen {
		t.Fatalf("stash %s not known", stashID)
	}
	ids := make([]string, len(keys))
	for i, key := range keys {
		if key.StashID != stashID {
			t.Fatalf("key %v stored under stash %s", key, stashID)
		}
		ids[i] = key.ItemID
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewStashEmitsEverything(t *testing.T) {
	engine := NewEngine(RetainItems)
	events := engine.Apply(page(stash("S1", "I1", "I2")))

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0].Kind != Add || events[0].Stash.ID != "S1" {
		t.Fatalf("event = %v", events[0])
	}
	if got := itemIDs(events[0].Stash.Items); !equalStrings(got, []string{"I1", "I2"}) {
		t.Fatalf("items = %v", got)
	}
	if got := knownIDs(t, engine, "S1"); !equalStrings(got, []string{"I1", "I2"}) {
		t.Fatalf("stored = %v", got)
	}
}

func TestKnownStashAddAndRemove(t *testing.T) {
	engine := NewEngine(RetainItems)
	engine.Apply(page(stash("S1", "I1", "I2")))
	events := engine.Apply(page(stash("S1", "I1", "I3")))

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}
	if events[0].Kind != Add || !equalStrings(itemIDs(events[0].Stash.Items), []string{"I3"}) {
		t.Fatalf("add event = %v items %v", events[0], itemIDs(events[0].Stash.Items))
	}
	if events[1].Kind != Remove || !equalStrings(itemIDs(events[1].Stash.Items), []string{"I2"}) {
		t.Fatalf("remove event = %v items %v", events[1], itemIDs(events[1].Stash.Items))
	}
	if got := knownIDs(t, engine, "S1"); !equalStrings(got, []string{"I1", "I3"}) {
		t.Fatalf("stored = %v", got)
	}
}

func TestRemoveCarriesLastSeenItem(t *testing.T) {
	engine := NewEngine(RetainItems)
	engine.Apply(page(stash("S1", "I1", "I2")))
	events := engine.Apply(page(stash("S1", "I1")))

	if len(events) != 1 || events[0].Kind != Remove {
		t.Fatalf("events = %v", events)
	}
	var decoded map[string]string
	if err := json.Unmarshal(events[0].Stash.Items[0].Raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["typeLine"] != "item I2" {
		t.Fatalf("removed item payload = %v", decoded)
	}
	if string(events[0].Stash.Fields["league"]) != `"Standard"` {
		t.Fatalf("remove event lost stash fields")
	}
}

func TestRetainKeysEmitsStubs(t *testing.T) {
	engine := NewEngine(RetainKeys)
	engine.Apply(page(stash("S1", "I1", "I2")))
	events := engine.Apply(page(stash("S1", "I1")))

	if len(events) != 1 || events[0].Kind != Remove {
		t.Fatalf("events = %v", events)
	}
	data, err := json.Marshal(events[0].Stash.Items[0])
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"id":"I2"}` {
		t.Fatalf("stub = %s", data)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	engine := NewEngine(RetainItems)
	batch := page(stash("S1", "I1", "I2"), stash("S2", "I9"))
	engine.Apply(batch)
	engine.Apply(page(stash("S1", "I1", "I3"), stash("S2")))

	replay := page(stash("S1", "I4", "I3"), stash("S2", "I9", "I8"))
	if first := engine.Apply(replay); len(first) == 0 {
		t.Fatal("expected events on first application")
	}
	if second := engine.Apply(replay); len(second) != 0 {
		t.Fatalf("second application produced %d events: %v", len(second), second)
	}
}

func TestUnchangedKnownStashEmitsNothing(t *testing.T) {
	engine := NewEngine(RetainItems)
	engine.Apply(page(stash("S1", "I1")))
	if events := engine.Apply(page(stash("S1", "I1"))); len(events) != 0 {
		t.Fatalf("events = %v", events)
	}
}

func TestEmptiedStashStaysKnown(t *testing.T) {
	engine := NewEngine(RetainItems)
	engine.Apply(page(stash("S1", "I1", "I2")))
	events := engine.Apply(page(stash("S1")))
	if len(events) != 1 || events[0].Kind != Remove || len(events[0].Stash.Items) != 2 {
		t.Fatalf("events = %v", events)
	}
	if got := knownIDs(t, engine, "S1"); len(got) != 0 {
		t.Fatalf("stored = %v", got)
	}
	if stats := engine.Stats(); stats.Stashes != 1 || stats.Items != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	// Refilled later: the stash is known, so only the new item is an Add.
	events = engine.Apply(page(stash("S1", "I5")))
	if len(events) != 1 || events[0].Kind != Add || !equalStrings(itemIDs(events[0].Stash.Items), []string{"I5"}) {
		t.Fatalf("events = %v", events)
	}
}

func TestNewEmptyStashEmitsEmptyAdd(t *testing.T) {
	engine := NewEngine(RetainItems)
	events := engine.Apply(page(stash("S1")))
	if len(events) != 1 || events[0].Kind != Add || len(events[0].Stash.Items) != 0 {
		t.Fatalf("events = %v", events)
	}
}

func TestDuplicateItemIDsCollapse(t *testing.T) {
	engine := NewEngine(RetainItems)
	engine.Apply(page(stash("S1", "I1")))
	events := engine.Apply(page(stash("S1", "I1", "I2", "I2")))
	if len(events) != 1 || !equalStrings(itemIDs(events[0].Stash.Items), []string{"I2"}) {
		t.Fatalf("events = %v", events)
	}
	if stats := engine.Stats(); stats.Items != 2 {
		t.Fatalf("Items = %d, want 2", stats.Items)
	}
}

func TestSameItemIDInDifferentStashes(t *testing.T) {
	engine := NewEngine(RetainItems)
	engine.Apply(page(stash("S1", "I1"), stash("S2", "I1")))
	events := engine.Apply(page(stash("S1")))
	if len(events) != 1 || events[0].Stash.ID != "S1" {
		t.Fatalf("events = %v", events)
	}
	if got := knownIDs(t, engine, "S2"); !equalStrings(got, []string{"I1"}) {
		t.Fatalf("S2 stored = %v", got)
	}
}

func TestEventsFollowPageOrder(t *testing.T) {
	engine := NewEngine(RetainItems)
	events := engine.Apply(page(stash("S3", "a"), stash("S1", "b"), stash("S2", "c")))
	var order []string
	for _, event := range events {
		order = append(order, event.Stash.ID)
	}
	if !equalStrings(order, []string{"S3", "S1", "S2"}) {
		t.Fatalf("order = %v", order)
	}
}

func TestEmptyBatch(t *testing.T) {
	engine := NewEngine(RetainItems)
	if events := engine.Apply(nil); events != nil {
		t.Fatalf("nil batch produced %v", events)
	}
	if events := engine.Apply(page()); events != nil {
		t.Fatalf("empty batch produced %v", events)
	}
	if _, seen := engine.Known("S1"); seen {
		t.Fatal("unknown stash reported as seen")
	}
}

// TestDiffMatchesSetDifference checks the engine against a direct set
// computation over random stash histories.
func TestDiffMatchesSetDifference(t *testing.T) {
	random := rand.New(rand.NewSource(7))
	engine := NewEngine(RetainItems)
	model := make(map[string]map[string]bool)
	stashIDs := []string{"S1", "S2", "S3", "S4"}

	for round := 0; round < 200; round++ {
		var stashes []feed.Stash
		for _, stashID := range stashIDs {
			if random.Intn(2) == 0 {
				continue
			}
			var ids []string
			for item := 0; item < 12; item++ {
				if random.Intn(3) == 0 {
					ids = append(ids, fmt.Sprintf("I%d", item))
				}
			}
			stashes = append(stashes, stash(stashID, ids...))
		}

		events := engine.Apply(page(stashes...))

		wantAdded := make(map[string][]string)
		wantRemoved := make(map[string][]string)
		for _, s := range stashes {
			candidate := make(map[string]bool)
			for _, item := range s.Items {
				candidate[item.ID] = true
			}
			stored, seen := model[s.ID]
			for id := range candidate {
				if !seen || !stored[id] {
					wantAdded[s.ID] = append(wantAdded[s.ID], id)
				}
			}
			for id := range stored {
				if !candidate[id] {
					wantRemoved[s.ID] = append(wantRemoved[s.ID], id)
				}
			}
			if !seen && len(candidate) == 0 {
				wantAdded[s.ID] = []string{}
			}
			model[s.ID] = candidate
		}

		gotAdded := make(map[string][]string)
		gotRemoved := make(map[string][]string)
		for _, event := range events {
			target := gotAdded
			if event.Kind == Remove {
				target = gotRemoved
			}
			if _, duplicate := target[event.Stash.ID]; duplicate {
				t.Fatalf("round %d: two %s events for %s", round, event.Kind, event.Stash.ID)
			}
			target[event.Stash.ID] = itemIDs(event.Stash.Items)
		}

		compare := func(kind string, want, got map[string][]string) {
			if len(want) != len(got) {
				t.Fatalf("round %d: %s stashes got %v, want %v", round, kind, got, want)
			}
			for stashID, ids := range want {
				sortedWant := append([]string(nil), ids...)
				sortedGot := append([]string(nil), got[stashID]...)
				sort.Strings(sortedWant)
				sort.Strings(sortedGot)
				if !equalStrings(sortedWant, sortedGot) {
					t.Fatalf("round %d: %s %s got %v, want %v", round, kind, stashID, sortedGot, sortedWant)
				}
			}
		}
		compare("add", wantAdded, gotAdded)
		compare("remove", wantRemoved, gotRemoved)

		for stashID, candidate := range model {
			var want []string
			for id := range candidate {
				want = append(want, id)
			}
			sort.Strings(want)
			if got := knownIDs(t, engine, stashID); !equalStrings(got, want) {
				t.Fatalf("round %d: stored %s = %v, want %v", round, stashID, got, want)
			}
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, kind := range []Kind{Add, Remove} {
		parsed, err := ParseKind(kind.String())
		if err != nil || parsed != kind {
			t.Fatalf("ParseKind(%q) = %v, %v", kind.String(), parsed, err)
		}
	}
	if _, err := ParseKind("update"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestConcurrentApply(t *testing.T) {
	engine := NewEngine(RetainItems)

	var wg sync.WaitGroup
	for worker := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stashID := fmt.Sprintf("S%d", worker)
			for round := range 50 {
				engine.Apply(page(stash(stashID, fmt.Sprintf("I%d", round), fmt.Sprintf("I%d", round+1))))
			}
		}()
	}
	wg.Wait()

	if stats := engine.Stats(); stats.Stashes != 8 || stats.Items != 16 {
		t.Errorf("Stats() = %+v, want 8 stashes / 16 items", stats)
	}
	for worker := range 8 {
		if got := knownIDs(t, engine, fmt.Sprintf("S%d", worker)); !equalStrings(got, []string{"I49", "I50"}) {
			t.Errorf("S%d known = %v, want [I49 I50]", worker, got)
		}
	}
}
