// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/stashwatch/stashwatch/lib/diff"
)

// maxStderrExcerpt bounds how much of a failing script's stderr ends
// up in the error.
const maxStderrExcerpt = 1024

// CommandConfig configures a Command sandbox.
type CommandConfig struct {
	// AddScript and RemoveScript are the script sources. A kind with
	// no script is accepted and ignored. At least one is required.
	AddScript    string
	RemoveScript string

	// Interpreter runs a snapshot: the snapshot path is appended as the
	// last argument. Default: ["/bin/sh"].
	Interpreter []string

	// SnapshotDir holds the content-addressed script copies. Required.
	SnapshotDir string

	// Env is added to the inherited environment of every script.
	Env []string

	// Logger is required.
	Logger *slog.Logger
}

// Command runs one script per event, with the JSON payload on stdin
// and STASHWATCH_EVENT set to "add" or "remove".
//
// Scripts do not run from their source paths. Each source is copied to
// SnapshotDir under its blake3 digest and the copy is what runs, so
// editing a source has no effect until RequestReload, which re-reads
// the sources and swaps in new snapshots whose content changed.
type Command struct {
	config CommandConfig

	mu        sync.RWMutex
	snapshots map[diff.Kind]scriptSnapshot
}

type scriptSnapshot struct {
	source string
	path   string
	digest string
}

// NewCommand snapshots the configured scripts.
func NewCommand(config CommandConfig) (*Command, error) {
	if config.AddScript == "" && config.RemoveScript == "" {
		return nil, fmt.Errorf("command sandbox: no scripts configured")
	}
	if config.SnapshotDir == "" {
		return nil, fmt.Errorf("command sandbox: SnapshotDir is required")
	}
	if config.Logger == nil {
		panic("sandbox.Command: Logger is required")
	}
	if len(config.Interpreter) == 0 {
		config.Interpreter = []string{"/bin/sh"}
	}
	if err := os.MkdirAll(config.SnapshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	command := &Command{
		config:    config,
		snapshots: make(map[diff.Kind]scriptSnapshot),
	}
	for kind, source := range command.sources() {
		snapshot, err := command.snapshot(source)
		if err != nil {
			return nil, err
		}
		command.snapshots[kind] = snapshot
	}
	return command, nil
}

func (c *Command) sources() map[diff.Kind]string {
	sources := make(map[diff.Kind]string, 2)
	if c.config.AddScript != "" {
		sources[diff.Add] = c.config.AddScript
	}
	if c.config.RemoveScript != "" {
		sources[diff.Remove] = c.config.RemoveScript
	}
	return sources
}

// snapshot copies source into the snapshot directory under its digest.
// An existing snapshot with the same digest is reused.
func (c *Command) snapshot(source string) (scriptSnapshot, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return scriptSnapshot{}, fmt.Errorf("reading script %s: %w", source, err)
	}
	sum := blake3.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	finalPath := filepath.Join(c.config.SnapshotDir, digest+".script")

	if _, err := os.Stat(finalPath); err == nil {
		return scriptSnapshot{source: source, path: finalPath, digest: digest}, nil
	}

	tmpFile, err := os.CreateTemp(c.config.SnapshotDir, "script-*.tmp")
	if err != nil {
		return scriptSnapshot{}, fmt.Errorf("creating snapshot of %s: %w", source, err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return scriptSnapshot{}, fmt.Errorf("writing snapshot of %s: %w", source, err)
	}
	if err := tmpFile.Close(); err != nil {
		return scriptSnapshot{}, fmt.Errorf("closing snapshot of %s: %w", source, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return scriptSnapshot{}, fmt.Errorf("installing snapshot of %s: %w", source, err)
	}
	success = true
	return scriptSnapshot{source: source, path: finalPath, digest: digest}, nil
}

// Deliver runs the script for kind with payload on stdin. The script's
// non-zero exit is returned with an excerpt of its stderr.
func (c *Command) Deliver(ctx context.Context, kind diff.Kind, payload []byte) error {
	c.mu.RLock()
	snapshot, ok := c.snapshots[kind]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	arguments := append(append([]string(nil), c.config.Interpreter[1:]...), snapshot.path)
	command := exec.CommandContext(ctx, c.config.Interpreter[0], arguments...)
	command.Stdin = bytes.NewReader(payload)
	command.Env = append(append(os.Environ(), c.config.Env...), "STASHWATCH_EVENT="+kind.String())
	if batchID := BatchID(ctx); batchID != "" {
		command.Env = append(command.Env, "STASHWATCH_BATCH="+batchID)
	}
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		excerpt := strings.TrimSpace(stderr.String())
		if len(excerpt) > maxStderrExcerpt {
			excerpt = excerpt[:maxStderrExcerpt]
		}
		return fmt.Errorf("%s script %s (%s): %w (stderr: %s)",
			kind, snapshot.source, shortDigest(snapshot.digest), err, excerpt)
	}
	return nil
}

// RequestReload re-reads every script source and swaps in a new
// snapshot for each one whose content changed. A source that cannot be
// read keeps its previous snapshot; the error is returned.
func (c *Command) RequestReload(ctx context.Context) error {
	var errs []error
	for kind, source := range c.sources() {
		next, err := c.snapshot(source)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		c.mu.Lock()
		previous := c.snapshots[kind]
		c.snapshots[kind] = next
		c.mu.Unlock()

		if previous.digest == next.digest {
			continue
		}
		c.config.Logger.Info("handler script reloaded",
			"kind", kind.String(),
			"source", source,
			"previous", shortDigest(previous.digest),
			"current", shortDigest(next.digest),
		)
		if previous.path != "" && !c.inUse(previous.path) {
			if err := os.Remove(previous.path); err != nil && !os.IsNotExist(err) {
				c.config.Logger.Warn("removing stale script snapshot", "path", previous.path, "error", err)
			}
		}
	}
	return errors.Join(errs...)
}

// inUse reports whether any current snapshot points at path. Add and
// remove may share one script file.
func (c *Command) inUse(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, snapshot := range c.snapshots {
		if snapshot.path == path {
			return true
		}
	}
	return false
}

// Digest returns the digest of the snapshot that currently handles
// kind, or "" if none does.
func (c *Command) Digest(kind diff.Kind) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshots[kind].digest
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
