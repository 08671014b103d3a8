// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/stashwatch/stashwatch/lib/clock"
	"github.com/stashwatch/stashwatch/lib/config"
	"github.com/stashwatch/stashwatch/lib/cursor"
	"github.com/stashwatch/stashwatch/lib/diff"
	"github.com/stashwatch/stashwatch/lib/dispatch"
	"github.com/stashwatch/stashwatch/lib/feed"
	"github.com/stashwatch/stashwatch/lib/httpserver"
	"github.com/stashwatch/stashwatch/lib/ingest"
	"github.com/stashwatch/stashwatch/lib/ledger"
	"github.com/stashwatch/stashwatch/lib/metrics"
	"github.com/stashwatch/stashwatch/lib/poller"
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
		configPath  string
		logLevel    string
		showVersion bool
	)
	flags := pflag.NewFlagSet("stashwatch", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "configuration file (default $"+config.EnvironmentVariable+")")
	flags.StringVar(&logLevel, "log-level", "", "override log.level: debug, info, warn or error")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", flags.Args())
	}

	if showVersion {
		fmt.Printf("stashwatch %s\n", version.Full())
		return nil
	}

	settings, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		settings.Log.Level = logLevel
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, err := newLogger(os.Stderr, settings.Log.Level, settings.Log.Format)
	if err != nil {
		return err
	}
	logger.Info("stashwatch starting", "version", version.Info())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, settings, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// serve wires the components and runs them until ctx is cancelled.
func serve(ctx context.Context, settings *config.Config, logger *slog.Logger) error {
	realClock := clock.Real()

	userAgent := settings.Feed.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	client, err := feed.NewClient(feed.ClientConfig{
		FeedURL:      settings.Feed.URL,
		BootstrapURL: settings.Feed.BootstrapURL,
		UserAgent:    userAgent,
		MaxBodySize:  settings.Feed.MaxBodySize,
	})
	if err != nil {
		return err
	}

	tracker := cursor.New(cursor.Config{
		Source:         client,
		StartCursor:    feed.Cursor(settings.Feed.StartCursor),
		Attempts:       settings.Bootstrap.Attempts,
		InitialBackoff: settings.Bootstrap.InitialBackoff.Std(),
		MaxBackoff:     settings.Bootstrap.MaxBackoff.Std(),
		Timeout:        settings.Bootstrap.Timeout.Std(),
		Clock:          realClock,
		Logger:         logger.With("component", "cursor"),
	})

	target, err := newSandbox(settings.Handler, logger.With("component", "sandbox"))
	if err != nil {
		return err
	}

	retention := diff.RetainItems
	if settings.Diff.Retain == "keys" {
		retention = diff.RetainKeys
	}
	engine := diff.NewEngine(retention)

	dispatcher := dispatch.New(dispatch.Config{
		Sandbox:         target,
		MaxQueueBytes:   settings.Dispatch.MaxQueueBytes,
		DeliveryTimeout: settings.Dispatch.DeliveryTimeout.Std(),
		DrainTimeout:    settings.Dispatch.DrainTimeout.Std(),
		Logger:          logger.With("component", "dispatch"),
	})

	collector := metrics.NewCollector(metrics.Sources{
		Engine:     engine,
		Dispatcher: dispatcher,
		Tracker:    tracker,
	})

	pipelineConfig := ingest.Config{
		Differ:   engine,
		Enqueuer: dispatcher,
		Counters: collector,
		Clock:    realClock,
		Logger:   logger.With("component", "ingest"),
	}
	var history *ledger.Ledger
	if settings.Ledger.Path != "" {
		history, err = ledger.Open(ledger.Config{
			Path:      settings.Ledger.Path,
			Retention: settings.Ledger.Retention.Std(),
			Clock:     realClock,
			Logger:    logger.With("component", "ledger"),
		})
		if err != nil {
			return err
		}
		defer history.Close()
		pipelineConfig.Recorder = history
	}
	pipeline := ingest.New(pipelineConfig)

	loop := poller.New(poller.Config{
		Fetcher:        client,
		Handler:        pipeline.Handle,
		Committer:      tracker,
		Observer:       collector,
		FetchTimeout:   settings.Feed.FetchTimeout.Std(),
		InitialBackoff: settings.Poller.InitialBackoff.Std(),
		MaxBackoff:     settings.Poller.MaxBackoff.Std(),
		MinInterval:    settings.Poller.MinInterval.Std(),
		IdleDelay:      settings.Poller.IdleDelay.Std(),
		Clock:          realClock,
		Logger:         logger.With("component", "poller"),
	})

	start, err := tracker.Bootstrap(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	// The dispatcher outlives the poller so it can drain what the last
	// pages queued; its own context is cancelled only after the poller
	// has returned.
	dispatchContext, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchContext)
	}()

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		return loop.Run(groupContext, start)
	})
	if settings.Metrics.Address != "" {
		status := ingest.StatusHandler(ingest.StatusSources{
			Version:    version.Info(),
			Pipeline:   pipeline,
			Poller:     loop,
			Tracker:    tracker,
			Failures:   loop,
			Engine:     engine,
			Dispatcher: dispatcher,
			Ledger:     optionalLedger(history),
		})
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(metrics.NewRegistry(collector)))
		mux.Handle("/status", status)
		server := httpserver.New(httpserver.Config{
			Address: settings.Metrics.Address,
			Handler: mux,
			Logger:  logger.With("component", "http"),
		})
		group.Go(func() error {
			return server.Serve(groupContext)
		})
	}

	err = group.Wait()
	stopDispatch()
	<-dispatchDone

	stats := dispatcher.Stats()
	logger.Info("stashwatch stopped",
		"cursor", tracker.Current(),
		"pages", pipeline.Handled(),
		"delivered_events", stats.DeliveredEvents,
		"dropped_batches", stats.DroppedUnits,
	)
	return err
}

// optionalLedger keeps a nil *ledger.Ledger from becoming a non-nil
// interface value.
func optionalLedger(history *ledger.Ledger) ingest.LedgerReader {
	if history == nil {
		return nil
	}
	return history
}

// newSandbox builds the configured handler target: scripts, a socket,
// both, or a logger when neither is set.
func newSandbox(settings config.HandlerConfig, logger *slog.Logger) (sandbox.Sandbox, error) {
	var targets sandbox.Multi
	if settings.HasScripts() {
		command, err := sandbox.NewCommand(sandbox.CommandConfig{
			AddScript:    settings.AddScript,
			RemoveScript: settings.RemoveScript,
			Interpreter:  settings.Interpreter,
			SnapshotDir:  settings.SnapshotDir,
			Env:          settings.Env,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, command)
	}
	if settings.Socket != "" {
		targets = append(targets, sandbox.NewSocket(settings.Socket))
	}

	switch len(targets) {
	case 0:
		logger.Warn("no handler configured, events will only be logged")
		return loggingSandbox(logger), nil
	case 1:
		return targets[0], nil
	default:
		return targets, nil
	}
}

func loggingSandbox(logger *slog.Logger) sandbox.Sandbox {
	return sandbox.Func{
		OnDeliver: func(ctx context.Context, kind diff.Kind, payload []byte) error {
			logger.Info("event", "batch", sandbox.BatchID(ctx), "kind", kind.String(), "bytes", len(payload))
			return nil
		},
		OnReload: func(ctx context.Context) error {
			logger.Debug("reload", "batch", sandbox.BatchID(ctx))
			return nil
		},
	}
}
