// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/stashwatch/stashwatch/lib/codec"
	"github.com/stashwatch/stashwatch/lib/diff"
)

const (
	serveReadTimeout  = 30 * time.Second
	serveWriteTimeout = 10 * time.Second
)

// Serve is the handler-process side of the Socket protocol: it listens
// on socketPath and answers every request by calling target. It
// returns after ctx is cancelled and every open connection has been
// answered.
//
// Requests are handled one connection per goroutine. target must be
// safe for concurrent use if more than one dispatcher points at the
// same socket; a single dispatcher sends one request at a time.
func Serve(ctx context.Context, socketPath string, target Sandbox, logger *slog.Logger) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	logger.Info("handler socket listening", "path", socketPath)

	var connections sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Error("accept failed", "error", err)
			continue
		}
		connections.Add(1)
		go func() {
			defer connections.Done()
			serveConnection(ctx, conn, target, logger)
		}()
	}
	connections.Wait()
	return nil
}

func serveConnection(ctx context.Context, conn net.Conn, target Sandbox, logger *slog.Logger) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(serveReadTimeout))

	var request Request
	if err := codec.DecodeLimited(conn, codec.MaxMessageSize, &request); err != nil {
		writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)}, logger)
		return
	}

	if request.Batch != "" {
		ctx = WithBatch(ctx, request.Batch)
	}
	var err error
	switch request.Action {
	case ActionDeliver:
		var kind diff.Kind
		kind, err = diff.ParseKind(request.Kind)
		if err == nil {
			err = target.Deliver(ctx, kind, request.Payload)
		}
	case ActionReload:
		err = target.RequestReload(ctx)
	case "":
		err = errors.New("missing required field: action")
	default:
		err = fmt.Errorf("unknown action %q", request.Action)
	}

	if err != nil {
		logger.Debug("handler request failed", "action", request.Action, "batch", request.Batch, "error", err)
		writeResponse(conn, Response{Error: err.Error()}, logger)
		return
	}
	writeResponse(conn, Response{OK: true}, logger)
}

func writeResponse(conn net.Conn, response Response, logger *slog.Logger) {
	conn.SetWriteDeadline(time.Now().Add(serveWriteTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		logger.Debug("failed to write handler response", "error", err)
	}
}
