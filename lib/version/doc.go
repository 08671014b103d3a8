// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for the stashwatch
// binary.
//
// The variables are injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/stashwatch/stashwatch/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
