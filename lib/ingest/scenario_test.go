// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/stashwatch/stashwatch/lib/clock"
	"github.com/stashwatch/stashwatch/lib/cursor"
	"github.com/stashwatch/stashwatch/lib/diff"
	"github.com/stashwatch/stashwatch/lib/dispatch"
	"github.com/stashwatch/stashwatch/lib/feed"
	"github.com/stashwatch/stashwatch/lib/ledger"
	"github.com/stashwatch/stashwatch/lib/metrics"
	"github.com/stashwatch/stashwatch/lib/poller"
	"github.com/stashwatch/stashwatch/lib/sandbox"
)

// feedPages maps each cursor to the page served for it. The first
// response for C2 is truncated; C3 is the feed head.
var feedPages = map[string]string{
	"C0": `{"next_change_id":"C1","stashes":[{"id":"S1","league":"Standard","items":[{"id":"I1","name":"Alpha"},{"id":"I2","name":"Beta"}]}]}`,
	"C1": `{"next_change_id":"C2","stashes":[{"id":"S1","league":"Standard","items":[{"id":"I2","name":"Beta"},{"id":"I3","name":"Gamma"}]}]}`,
	"C2": `{"next_change_id":"C3","stashes":[{"id":"S2","league":"Hardcore","items":[{"id":"I9","name":"Omega"}]}]}`,
	"C3": `{"next_change_id":"C3","stashes":[]}`,
}

type feedServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests map[string]int
	failed   bool

	inFlight    atomic.Int32
	overlapping atomic.Bool
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	server := &feedServer{requests: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"next_change_id":"C0","other":{"ignored":true}}`))
	})
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		if server.inFlight.Add(1) > 1 {
			server.overlapping.Store(true)
		}
		defer server.inFlight.Add(-1)

		if r.Header.Get("User-Agent") == "" {
			http.Error(w, "user agent required", http.StatusForbidden)
			return
		}
		id := r.URL.Query().Get("id")
		server.mu.Lock()
		server.requests[id]++
		failNow := id == "C2" && !server.failed
		if failNow {
			server.failed = true
		}
		server.mu.Unlock()

		if failNow {
			w.Write([]byte(`{"next_change_id":"C3","stashes":[{"id":"S2","ite`))
			return
		}
		page, ok := feedPages[id]
		if !ok {
			http.Error(w, "unknown change id", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(page))
	})
	server.Server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func (s *feedServer) requestCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

type recordedCall struct {
	kind    string
	payload string
}

type recordingSandbox struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *recordingSandbox) sandbox() sandbox.Sandbox {
	return sandbox.Func{
		OnDeliver: func(_ context.Context, kind diff.Kind, payload []byte) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls = append(r.calls, recordedCall{kind: kind.String(), payload: string(payload)})
			return nil
		},
		OnReload: func(context.Context) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls = append(r.calls, recordedCall{kind: "reload"})
			return nil
		},
	}
}

func (r *recordingSandbox) snapshot() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestFeedToHandlerScenario drives the whole pipeline against a fake
// feed: a new stash, an item moving in and out, a truncated page
// retried on the same cursor, and an empty page at the feed head.
func TestFeedToHandlerScenario(t *testing.T) {
	server := newFeedServer(t)
	fakeClock := clock.Fake(epoch)
	logger := slog.New(slog.DiscardHandler)

	client, err := feed.NewClient(feed.ClientConfig{
		FeedURL:      server.URL + "/feed",
		BootstrapURL: server.URL + "/bootstrap",
		HTTPClient:   server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := cursor.New(cursor.Config{Source: client, Clock: fakeClock, Logger: logger})
	start, err := tracker.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if start != "C0" {
		t.Fatalf("bootstrap cursor = %q, want C0", start)
	}

	history, err := ledger.Open(ledger.Config{
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
		Clock:  fakeClock,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	defer history.Close()

	recorder := &recordingSandbox{}
	engine := diff.NewEngine(diff.RetainItems)
	dispatcher := dispatch.New(dispatch.Config{Sandbox: recorder.sandbox(), Logger: logger})
	collector := metrics.NewCollector(metrics.Sources{Engine: engine, Dispatcher: dispatcher, Tracker: tracker})
	pipeline := New(Config{
		Differ:   engine,
		Enqueuer: dispatcher,
		Recorder: history,
		Counters: collector,
		Clock:    fakeClock,
		Logger:   logger,
	})
	loop := poller.New(poller.Config{
		Fetcher:   client,
		Handler:   pipeline.Handle,
		Committer: tracker,
		Observer:  collector,
		Clock:     fakeClock,
		Logger:    logger,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx, start); err != nil {
			t.Errorf("poller.Run: %v", err)
		}
	}()

	// The truncated C2 page leaves the poller waiting out its first backoff.
	fakeClock.WaitForTimers(1)
	if got := tracker.Current(); got != "C2" {
		t.Errorf("cursor during backoff = %q, want C2", got)
	}
	fakeClock.Advance(time.Second)

	waitFor(t, "four pages delivered", func() bool {
		return dispatcher.Stats().Reloads == 4 && dispatcher.Idle()
	})
	cancel()
	wg.Wait()

	want := []recordedCall{
		{"add", `{"id":"S1","items":[{"id":"I1","name":"Alpha"},{"id":"I2","name":"Beta"}],"league":"Standard"}`},
		{kind: "reload"},
		{"add", `{"id":"S1","items":[{"id":"I3","name":"Gamma"}],"league":"Standard"}`},
		{"remove", `{"id":"S1","items":[{"id":"I1","name":"Alpha"}],"league":"Standard"}`},
		{kind: "reload"},
		{"add", `{"id":"S2","items":[{"id":"I9","name":"Omega"}],"league":"Hardcore"}`},
		{kind: "reload"},
		{kind: "reload"},
	}
	got := recorder.snapshot()
	if len(got) != len(want) {
		t.Fatalf("handler saw %d calls, want %d:\n%v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if server.overlapping.Load() {
		t.Error("feed saw overlapping requests")
	}
	if n := server.requestCount("C2"); n != 2 {
		t.Errorf("C2 requested %d times, want 2", n)
	}
	if n := server.requestCount("C1"); n != 1 {
		t.Errorf("C1 requested %d times, want 1", n)
	}

	if got := tracker.Current(); got != "C3" {
		t.Errorf("final cursor = %q, want C3", got)
	}
	if got := tracker.Committed(); got != 4 {
		t.Errorf("committed cursors = %d, want 4", got)
	}
	if stats := engine.Stats(); stats.Stashes != 2 || stats.Items != 3 {
		t.Errorf("known state = %+v, want 2 stashes / 3 items", stats)
	}

	entries, err := history.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("ledger holds %d pages, want 4", len(entries))
	}
	if entries[0].Cursor != "C3" || entries[3].Cursor != "C0" {
		t.Errorf("ledger order = %s..%s, want C3..C0", entries[0].Cursor, entries[3].Cursor)
	}
	if entries[2].Adds != 1 || entries[2].Removes != 1 {
		t.Errorf("C1 ledger entry = %+v", entries[2])
	}

	status := StatusHandler(StatusSources{Pipeline: pipeline, Ledger: history})
	response := httptest.NewRecorder()
	status.ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/status?batch="+entries[2].ID, nil))
	var recorded BatchEvents
	if err := json.Unmarshal(response.Body.Bytes(), &recorded); err != nil {
		t.Fatalf("decoding batch events %q: %v", response.Body, err)
	}
	if len(recorded.Events) != 2 || recorded.Events[0].Kind != "add" || recorded.Events[1].Kind != "remove" {
		t.Errorf("C1 events from /status = %+v", recorded.Events)
	}

	expected := `
# HELP stashwatch_fetches_total Feed page fetches by result.
# TYPE stashwatch_fetches_total counter
stashwatch_fetches_total{result="error"} 1
stashwatch_fetches_total{result="ok"} 4
# HELP stashwatch_events_total Change events produced by the diff engine, by kind.
# TYPE stashwatch_events_total counter
stashwatch_events_total{kind="add"} 3
stashwatch_events_total{kind="remove"} 1
# HELP stashwatch_cursor_advances_total Cursors committed after their page was processed.
# TYPE stashwatch_cursor_advances_total counter
stashwatch_cursor_advances_total 4
`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"stashwatch_fetches_total", "stashwatch_events_total", "stashwatch_cursor_advances_total"); err != nil {
		t.Error(err)
	}
}

// TestStashWithoutItemsIsRetried checks that a page whose stash lacks
// its items array is retried on the same cursor instead of reading as
// every known item having been removed.
func TestStashWithoutItemsIsRetried(t *testing.T) {
	pages := map[string]string{
		"C0": feedPages["C0"],
		"C1": `{"next_change_id":"C2","stashes":[{"id":"S1","league":"Standard"}]}`,
	}
	var c1Requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "C1" {
			c1Requests.Add(1)
		}
		w.Write([]byte(pages[id]))
	}))
	defer server.Close()

	client, err := feed.NewClient(feed.ClientConfig{FeedURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	fixture := newPipelineFixture()
	fakeClock := clock.Fake(epoch)
	loop := poller.New(poller.Config{
		Fetcher: client,
		Handler: fixture.pipeline.Handle,
		Clock:   fakeClock,
		Logger:  slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, "C0") }()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(time.Second)
	fakeClock.WaitForTimers(1)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := c1Requests.Load(); n != 2 {
		t.Errorf("C1 requested %d times, want 2", n)
	}
	if position := loop.Position(); position != "C1" {
		t.Errorf("Position() = %q, want C1", position)
	}
	if fixture.counters.removes != 0 {
		t.Errorf("%d remove events from a stash without items", fixture.counters.removes)
	}
	if handled := fixture.pipeline.Handled(); handled != 1 {
		t.Errorf("Handled() = %d, want only C0", handled)
	}
}
