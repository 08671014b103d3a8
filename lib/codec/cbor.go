// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MaxMessageSize bounds a single envelope read from a socket. Event
// payloads are whole stashes, which stay well below this.
const MaxMessageSize = 16 << 20

var encMode cbor.EncMode

// decMode ignores unknown fields, so either side of the socket can
// add envelope fields without breaking the other.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Decoding into any yields map[string]any rather than
		// map[any]any, so the result can be handed to encoding/json.
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxByteStringLen: MaxMessageSize,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encoder writes a stream of CBOR items.
type Encoder = cbor.Encoder

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// DecodeLimited decodes one item from r into v, reading at most limit
// bytes. An item cut off by the limit is an error.
func DecodeLimited(r io.Reader, limit int64, v any) error {
	if err := decMode.NewDecoder(io.LimitReader(r, limit)).Decode(v); err != nil {
		return fmt.Errorf("decoding CBOR message: %w", err)
	}
	return nil
}
