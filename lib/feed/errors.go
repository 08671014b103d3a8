// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import "fmt"

// NetworkError reports a request that did not yield a usable body:
// connection failure, timeout, a non-2xx status, or a body that could
// not be read or decompressed.
type NetworkError struct {
	// Operation is "bootstrap" or "fetch".
	Operation string

	// URL is the request URL.
	URL string

	// StatusCode is the HTTP status, or zero if no response arrived.
	StatusCode int

	// Body is an excerpt of the error response body, if any.
	Body string

	// Err is the underlying error, if any.
	Err error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("feed %s %s: HTTP %d: %s", e.Operation, e.URL, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("feed %s %s: HTTP %d", e.Operation, e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("feed %s %s: %v", e.Operation, e.URL, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError reports a body that is not a valid page: malformed JSON,
// or a required field that is missing or has the wrong type.
type ParseError struct {
	// Field is the JSON path of the offending field, for example
	// "next_change_id" or "stashes[3].items[0].id". Empty when the
	// document itself is malformed.
	Field string

	// Err describes the problem.
	Err error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("feed page malformed: %v", e.Err)
	}
	return fmt.Sprintf("feed page field %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
