// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"

	"github.com/stashwatch/stashwatch/lib/diff"
)

// DeliveryError reports one event the sandbox did not accept, or one
// event that could not be serialized.
type DeliveryError struct {
	Batch   string
	Kind    diff.Kind
	StashID string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering %s event for stash %s (batch %s): %v", e.Kind, e.StashID, e.Batch, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
