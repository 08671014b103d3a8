// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"

	"github.com/stashwatch/stashwatch/lib/diff"
)

// Sandbox receives change events.
type Sandbox interface {
	// Deliver hands one event to the handler. payload is the JSON
	// encoding of the event's stash.
	Deliver(ctx context.Context, kind diff.Kind, payload []byte) error

	// RequestReload tells the handler that a page has been fully
	// delivered and it may refresh its own state.
	RequestReload(ctx context.Context) error
}

type batchKey struct{}

// WithBatch returns a context carrying the id of the page whose events
// are being delivered. Sandboxes that report the page to the handler
// read it with BatchID.
func WithBatch(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchKey{}, batchID)
}

// BatchID returns the page id stored by WithBatch, or "".
func BatchID(ctx context.Context) string {
	batchID, _ := ctx.Value(batchKey{}).(string)
	return batchID
}

// Func adapts functions to a Sandbox. Nil fields accept every call.
type Func struct {
	OnDeliver func(ctx context.Context, kind diff.Kind, payload []byte) error
	OnReload  func(ctx context.Context) error
}

func (f Func) Deliver(ctx context.Context, kind diff.Kind, payload []byte) error {
	if f.OnDeliver == nil {
		return nil
	}
	return f.OnDeliver(ctx, kind, payload)
}

func (f Func) RequestReload(ctx context.Context) error {
	if f.OnReload == nil {
		return nil
	}
	return f.OnReload(ctx)
}

// Multi delivers every call to each of its sandboxes in order. A
// failing sandbox does not stop the call reaching the rest; the
// errors are joined.
type Multi []Sandbox

func (m Multi) Deliver(ctx context.Context, kind diff.Kind, payload []byte) error {
	var errs []error
	for _, target := range m {
		if err := target.Deliver(ctx, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RequestReload(ctx context.Context) error {
	var errs []error
	for _, target := range m {
		if err := target.RequestReload(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
