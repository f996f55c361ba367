// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package handleradapt provides adapters from typed Go functions to
// [message.Consumer] and [message.Supplier], for extension-protocol payloads
// that are more naturally expressed as a Go value than as raw bytes.
//
// Payloads may be []byte or string, or a type whose pointer supports one of
// encoding.BinaryUnmarshaler or encoding.TextUnmarshaler (for consumers), or
// whose value supports one of encoding.BinaryMarshaler or
// encoding.TextMarshaler (for suppliers).
package handleradapt

import (
	"bytes"
	"encoding"
	"fmt"

	"github.com/mtorrent/peerwire/extension"
	"github.com/mtorrent/peerwire/message"
)

// ExtensionConsumer adapts f, a function accepting a payload of type P, to a
// [message.Consumer] that invokes f only for extension messages carrying
// id, after decoding the message payload into a P. A decode failure is
// logged nowhere by this adapter; it panics, which the dispatcher recovers
// and counts as a consumer fault, mirroring how the teacher's handler
// adapters surface a bad request as an error from the handler itself.
func ExtensionConsumer[P any](id extension.ID, f func(P)) message.Consumer {
	return func(m *message.Message) {
		if m.Kind != message.Extension || extension.ID(m.ExtensionID) != id {
			return
		}
		var p P
		if err := unmarshal(m.Payload, &p); err != nil {
			panic(fmt.Sprintf("handleradapt: decode extension %d payload: %v", id, err))
		}
		f(p)
	}
}

// ExtensionSupplier adapts f to a [message.Supplier] that polls f for a
// payload of type P; when f reports ok, the marshaled payload is wrapped in
// an extension message tagged with id. When f reports !ok, the supplier
// produces no message this iteration.
func ExtensionSupplier[P any](id extension.ID, f func() (P, bool)) message.Supplier {
	return func() *message.Message {
		p, ok := f()
		if !ok {
			return nil
		}
		data, err := marshal(p)
		if err != nil {
			panic(fmt.Sprintf("handleradapt: encode extension %d payload: %v", id, err))
		}
		return &message.Message{Kind: message.Extension, ExtensionID: byte(id), Payload: data}
	}
}

func unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return nil
}

func marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
}
