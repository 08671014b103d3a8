// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for the stashwatch binary:
// reporting a fatal error before the structured logger exists, and
// exiting.
package process
