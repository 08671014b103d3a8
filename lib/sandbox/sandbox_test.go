// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stashwatch/stashwatch/lib/diff"
)

func TestFuncNilFieldsAccept(t *testing.T) {
	var target Func
	if err := target.Deliver(context.Background(), diff.Add, []byte("{}")); err != nil {
		t.Errorf("Deliver: %v", err)
	}
	if err := target.RequestReload(context.Background()); err != nil {
		t.Errorf("RequestReload: %v", err)
	}
}

func TestMultiReachesEverySandbox(t *testing.T) {
	var delivered, reloaded []string
	record := func(name string, fail error) Func {
		return Func{
			OnDeliver: func(context.Context, diff.Kind, []byte) error {
				delivered = append(delivered, name)
				return fail
			},
			OnReload: func(context.Context) error {
				reloaded = append(reloaded, name)
				return fail
			},
		}
	}
	first := errors.New("first down")
	multi := Multi{record("a", first), record("b", nil), record("c", nil)}

	err := multi.Deliver(context.Background(), diff.Remove, []byte("{}"))
	if !errors.Is(err, first) {
		t.Errorf("Deliver error = %v, want to wrap %v", err, first)
	}
	if len(delivered) != 3 {
		t.Errorf("delivered to %v, want all three", delivered)
	}

	if err := multi.RequestReload(context.Background()); !errors.Is(err, first) {
		t.Errorf("RequestReload error = %v", err)
	}
	if len(reloaded) != 3 {
		t.Errorf("reloaded %v, want all three", reloaded)
	}

	if err := (Multi{record("d", nil)}).Deliver(context.Background(), diff.Add, nil); err != nil {
		t.Errorf("healthy Multi returned %v", err)
	}
}

func TestBatchID(t *testing.T) {
	if got := BatchID(context.Background()); got != "" {
		t.Errorf("BatchID of bare context = %q", got)
	}
	ctx := WithBatch(context.Background(), "01HZX")
	if got := BatchID(ctx); got != "01HZX" {
		t.Errorf("BatchID = %q, want 01HZX", got)
	}
}
