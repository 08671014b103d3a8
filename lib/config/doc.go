// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the stashwatch configuration file.
//
// The file is chosen explicitly, by the --config flag (via [LoadFile])
// or the STASHWATCH_CONFIG environment variable (via [Load]). Without
// either, [Default] is used as is. Every field has a default, so a
// file only needs the settings it changes.
//
// Files are YAML. A file ending in .json or .jsonc is accepted too:
// comments and trailing commas are stripped with tidwall/jsonc and the
// result, being valid YAML, goes through the same decoder.
//
// Path fields expand ${VAR} and ${VAR:-default}. No other environment
// variable overrides a config value.
//
// Durations are Go duration strings ("1s", "2m30s").
package config
