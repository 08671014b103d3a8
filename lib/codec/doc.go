// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration used by the handler
// socket protocol.
//
// JSON is the format of everything that faces the outside: the feed
// itself, event payloads, config files, /status. CBOR is used on the
// unix socket between the dispatcher and an external handler process,
// where the envelope carries a JSON payload as an opaque byte string
// and self-delimiting framing lets one connection carry one request
// and one response without a length prefix.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same envelope always produces the same bytes.
//
//	err := codec.NewEncoder(conn).Encode(request)
//	err = codec.DecodeLimited(conn, codec.MaxMessageSize, &response)
//
// Envelope types carry `cbor` tags only; they are never rendered as
// JSON.
package codec
