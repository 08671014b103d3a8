// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP body handling for feed
// responses.
//
// Feed pages are large JSON documents served compressed. The helpers
// here negotiate zstd or gzip, undo the content encoding, and cap the
// decoded size so a misbehaving server cannot exhaust memory. The cap
// applies to the decoded bytes, which is what a decompression bomb
// inflates.
package netutil

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxBodySize bounds decoded feed bodies: 64 MiB. Public stash
// pages decode to a few megabytes; the limit only exists to stop a
// pathological response.
const DefaultMaxBodySize int64 = 64 << 20

// AcceptEncoding is the Accept-Encoding header value sent with feed
// requests. Setting the header by hand disables net/http's transparent
// gzip handling, so DecodeContent must be used on the response.
const AcceptEncoding = "zstd, gzip"

// errorExcerptSize bounds how much of an error body ends up in an
// error message.
const errorExcerptSize = 512

// ErrBodyTooLarge is returned by ReadBody when the body exceeds the
// limit.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// ReadBody reads body up to limit bytes. A body longer than limit is
// an error rather than a silent truncation: a truncated JSON page
// would fail to decode anyway, and the error names the real cause.
func ReadBody(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// DecodeContent wraps body in a decoder for the given Content-Encoding
// header value. limit is the largest decoded size the caller will
// accept; the zstd decoder refuses frames declaring more. The returned
// reader must be closed; closing it does not close body.
func DecodeContent(encoding string, body io.Reader, limit int64) (io.ReadCloser, error) {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		return reader, nil
	case "zstd":
		decoder, err := zstd.NewReader(body,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(limit)),
		)
		if err != nil {
			return nil, fmt.Errorf("opening zstd body: %w", err)
		}
		return decoder.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// ErrorBody returns the start of an error response body for use in an
// error message. Read errors are ignored; a partial body still helps.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, errorExcerptSize))
	return strings.TrimSpace(string(data))
}
