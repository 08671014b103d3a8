// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

var (
	errMissing    = errors.New("missing")
	errNotString  = errors.New("not a string")
	errEmptyValue = errors.New("empty")
)

// Decode parses a feed page fetched at cursor. The returned batch's
// Size and Digest describe body.
func Decode(cursor Cursor, body []byte) (*Batch, error) {
	var page map[string]json.RawMessage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &ParseError{Err: err}
	}
	if page == nil {
		return nil, &ParseError{Err: errors.New("page is null")}
	}

	next, err := requiredString(page, "next_change_id")
	if err != nil {
		return nil, &ParseError{Field: "next_change_id", Err: err}
	}

	rawStashes, present := page["stashes"]
	if !present || isNull(rawStashes) {
		return nil, &ParseError{Field: "stashes", Err: errMissing}
	}
	stashes, err := decodeStashes(rawStashes)
	if err != nil {
		return nil, err
	}

	digest := blake3.Sum256(body)
	return &Batch{
		Cursor:     cursor,
		NextCursor: Cursor(next),
		Stashes:    stashes,
		Size:       len(body),
		Digest:     hex.EncodeToString(digest[:]),
	}, nil
}

// DecodeBootstrap extracts the starting cursor from a bootstrap
// response. Only next_change_id is read; the rest of the document is
// ignored.
func DecodeBootstrap(body []byte) (Cursor, error) {
	var document map[string]json.RawMessage
	if err := json.Unmarshal(body, &document); err != nil {
		return "", &ParseError{Err: err}
	}
	next, err := requiredString(document, "next_change_id")
	if err != nil {
		return "", &ParseError{Field: "next_change_id", Err: err}
	}
	return Cursor(next), nil
}

func decodeStashes(raw json.RawMessage) ([]Stash, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, &ParseError{Field: "stashes", Err: err}
	}

	stashes := make([]Stash, 0, len(elements))
	for index, element := range elements {
		stash, err := decodeStash(element)
		if err != nil {
			var parseError *ParseError
			if errors.As(err, &parseError) {
				parseError.Field = fmt.Sprintf("stashes[%d].%s", index, parseError.Field)
				return nil, parseError
			}
			return nil, &ParseError{Field: fmt.Sprintf("stashes[%d]", index), Err: err}
		}
		stashes = append(stashes, stash)
	}
	return stashes, nil
}

func decodeStash(raw json.RawMessage) (Stash, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Stash{}, err
	}
	if fields == nil {
		return Stash{}, errors.New("stash is null")
	}

	id, err := requiredString(fields, "id")
	if err != nil {
		return Stash{}, &ParseError{Field: "id", Err: err}
	}

	rawItems, present := fields["items"]
	if !present || isNull(rawItems) {
		return Stash{}, &ParseError{Field: "items", Err: errMissing}
	}
	items, err := decodeItems(rawItems)
	if err != nil {
		return Stash{}, err
	}

	delete(fields, "id")
	delete(fields, "items")
	return Stash{ID: id, Items: items, Fields: fields}, nil
}

// decodeItems decodes a present, non-null items array. A stash without
// one would read as every known item having been removed.
func decodeItems(raw json.RawMessage) ([]Item, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, &ParseError{Field: "items", Err: err}
	}

	items := make([]Item, 0, len(elements))
	for index, element := range elements {
		var header struct {
			ID *json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(element, &header); err != nil {
			return nil, &ParseError{Field: fmt.Sprintf("items[%d]", index), Err: err}
		}
		if header.ID == nil {
			return nil, &ParseError{Field: fmt.Sprintf("items[%d].id", index), Err: errMissing}
		}
		id, err := asString(*header.ID)
		if err != nil {
			return nil, &ParseError{Field: fmt.Sprintf("items[%d].id", index), Err: err}
		}
		items = append(items, Item{ID: id, Raw: element})
	}
	return items, nil
}

// requiredString returns the non-empty string value of key in object.
func requiredString(object map[string]json.RawMessage, key string) (string, error) {
	raw, ok := object[key]
	if !ok {
		return "", errMissing
	}
	return asString(raw)
}

func asString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", errMissing
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", errNotString
	}
	if value == "" {
		return "", errEmptyValue
	}
	return value, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
