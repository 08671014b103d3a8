// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpserver runs the optional operator HTTP listener that
// serves /metrics and /status. Serve blocks until its context is
// cancelled and then shuts down gracefully.
package httpserver
