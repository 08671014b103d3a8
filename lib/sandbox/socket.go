// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/stashwatch/stashwatch/lib/codec"
	"github.com/stashwatch/stashwatch/lib/diff"
)

const (
	// ActionDeliver carries one event.
	ActionDeliver = "deliver"

	// ActionReload marks the end of a page.
	ActionReload = "reload"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// defaultCallTimeout bounds a call whose context has no deadline.
const defaultCallTimeout = 30 * time.Second

// Request is the envelope sent to a handler process.
type Request struct {
	Action  string `cbor:"action"`
	Kind    string `cbor:"kind,omitempty"`
	Payload []byte `cbor:"payload,omitempty"`
	Batch   string `cbor:"batch,omitempty"`
}

// Response is the handler process's answer.
type Response struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

// HandlerError is returned when the handler process answers ok=false.
type HandlerError struct {
	Action  string
	Message string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler rejected %s: %s", e.Action, e.Message)
}

// Socket forwards calls to a handler process listening on a unix
// socket. Each call opens a connection, writes one CBOR Request, reads
// one CBOR Response, and closes the connection. A handler process that
// is down fails every call until it is back; nothing is queued here.
type Socket struct {
	path string
}

// NewSocket returns a Socket sandbox for the handler at path.
func NewSocket(path string) *Socket {
	return &Socket{path: path}
}

func (s *Socket) Deliver(ctx context.Context, kind diff.Kind, payload []byte) error {
	return s.call(ctx, Request{
		Action:  ActionDeliver,
		Kind:    kind.String(),
		Payload: payload,
		Batch:   BatchID(ctx),
	})
}

func (s *Socket) RequestReload(ctx context.Context) error {
	return s.call(ctx, Request{Action: ActionReload, Batch: BatchID(ctx)})
}

func (s *Socket) call(ctx context.Context, request Request) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", s.path)
	if err != nil {
		return fmt.Errorf("connecting to handler %s: %w", s.path, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCallTimeout)
	}
	conn.SetDeadline(deadline)

	// A cancelled context interrupts a handler that stopped
	// answering.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return fmt.Errorf("writing %s request to %s: %w", request.Action, s.path, err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.DecodeLimited(conn, codec.MaxMessageSize, &response); err != nil {
		return fmt.Errorf("reading %s response from %s: %w", request.Action, s.path, err)
	}
	if !response.OK {
		return &HandlerError{Action: request.Action, Message: response.Error}
	}
	return nil
}
