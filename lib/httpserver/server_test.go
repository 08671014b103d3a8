// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stashwatch/stashwatch/lib/testutil"
)

func TestServeAndShutdown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "polling")
	})
	server := New(Config{
		Address: "127.0.0.1:0",
		Handler: mux,
		Logger:  slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveResult := make(chan error, 1)
	go func() { serveResult <- server.Serve(ctx) }()

	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server did not become ready")

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	response, err := client.Get("http://" + server.Addr().String() + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if response.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "polling" {
		t.Errorf("GET /status = %d %q", response.StatusCode, body)
	}

	cancel()
	if err := testutil.RequireReceive(t, serveResult, 5*time.Second, "Serve did not return"); err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
}

func TestServeReportsListenError(t *testing.T) {
	server := New(Config{
		Address: "127.0.0.1:-1",
		Handler: http.NotFoundHandler(),
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err := server.Serve(context.Background()); err == nil {
		t.Error("Serve on an invalid address returned nil")
	}
}
