// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/stashwatch/stashwatch/lib/diff"
	"github.com/stashwatch/stashwatch/lib/process"
	"github.com/stashwatch/stashwatch/lib/sandbox"
	"github.com/stashwatch/stashwatch/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		socketPath  string
		logLevel    string
		showVersion bool
	)
	flags := pflag.NewFlagSet("stashwatch-sink", pflag.ContinueOnError)
	flags.StringVar(&socketPath, "socket", "", "unix socket to listen on (required)")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("stashwatch-sink %s\n", version.Info())
		return nil
	}
	if socketPath == "" {
		return errors.New("--socket is required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("log level %q: %w", logLevel, err)
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, options)
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return sandbox.Serve(ctx, socketPath, newSink(os.Stdout, logger), logger)
}

// line is one event on stdout.
type line struct {
	Batch string          `json:"batch,omitempty"`
	Kind  string          `json:"kind"`
	Stash json.RawMessage `json:"stash"`
}

// sink writes events as JSON lines. Serve may call it from several
// connections at once, so writes are serialized.
type sink struct {
	mu      sync.Mutex
	encoder *json.Encoder
	logger  *slog.Logger
}

func newSink(output io.Writer, logger *slog.Logger) *sink {
	return &sink{encoder: json.NewEncoder(output), logger: logger}
}

func (s *sink) Deliver(ctx context.Context, kind diff.Kind, payload []byte) error {
	if !json.Valid(payload) {
		return errors.New("payload is not JSON")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoder.Encode(line{
		Batch: sandbox.BatchID(ctx),
		Kind:  kind.String(),
		Stash: payload,
	})
}

func (s *sink) RequestReload(ctx context.Context) error {
	s.logger.Debug("page complete", "batch", sandbox.BatchID(ctx))
	return nil
}
