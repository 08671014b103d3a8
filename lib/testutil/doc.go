// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds test helpers shared across packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so a broken test fails with a message instead of hanging
// until the go test deadline. They are the only places tests wait on
// wall-clock time; everything else uses a fake clock.
//
// [SocketDir] returns a short directory under /tmp for unix sockets,
// whose paths are limited to 108 bytes and so cannot live under a
// deep t.TempDir().
//
// All helpers fail the test with t.Fatalf rather than returning
// errors.
package testutil
