// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package extension maps BEP10-style extension protocol names, such as
// "ut_metadata" or "ut_pex", to the small integer IDs carried in
// [message.Message.ExtensionID]. IDs are local to a connection: each side of
// an extended handshake advertises its own name-to-ID mapping, and a
// [Registry] records the mapping this client has assigned so dispatch
// consumers can decide which extension protocol an inbound
// [message.Extension] message payload belongs to.
//
// # Usage
//
// Construct a registry and assign names to IDs:
//
//	reg := extension.New().Add("ut_metadata", "ut_pex")
//
// Recover the assigned ID to put in an outbound handshake, or to compare
// against an inbound message's ExtensionID:
//
//	id, ok := reg.Lookup("ut_metadata")
//
// Encode/Decode exchange the mapping as a handshake payload with a peer,
// using the same name-then-ID binary layout as this package's teacher's
// method catalog.
package extension

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ID is an extension protocol ID, carried on the wire as a single byte.
type ID byte

// A Registry is a name-to-ID mapping for the extension protocol. The zero
// value is not ready for use; construct one with [New].
type Registry struct {
	byName map[string]ID
}

// New creates an empty Registry.
func New() *Registry { return &Registry{byName: make(map[string]ID)} }

// Add assigns each name a fresh, unused ID, in the order given, and returns
// r to permit chaining.
func (r *Registry) Add(names ...string) *Registry {
	for _, name := range names {
		r.Set(name, r.pickUnusedID())
	}
	return r
}

// Set maps name to id, replacing any existing mapping for name, and returns
// r to permit chaining.
func (r *Registry) Set(name string, id ID) *Registry {
	r.byName[name] = id
	return r
}

func (r *Registry) pickUnusedID() ID {
	var max ID
	for _, id := range r.byName {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// Lookup returns the ID assigned to name, and whether name is known.
func (r *Registry) Lookup(name string) (ID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// NameOf returns the name assigned to id, and whether any name maps to it.
// It is linear in the number of registered names; callers on the message
// hot path should prefer caching the result of Lookup instead.
func (r *Registry) NameOf(id ID) (string, bool) {
	for name, mapped := range r.byName {
		if mapped == id {
			return name, true
		}
	}
	return "", false
}

// Encode encodes r's mapping in binary form: the names of all registered
// extensions in lexicographic order, each as a big-endian uint16 length
// followed by that many bytes, followed by the corresponding IDs in the
// reverse order of the names, each a single byte.
func (r *Registry) Encode() []byte {
	if len(r.byName) == 0 {
		return nil
	}
	var nlen int
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
		nlen += 2 + len(name)
	}
	sort.Strings(names)

	buf := make([]byte, nlen+len(r.byName))
	npos, mpos := 0, len(buf)
	for _, name := range names {
		binary.BigEndian.PutUint16(buf[npos:], uint16(len(name)))
		npos += 2
		npos += copy(buf[npos:], name)
		mpos--
		buf[mpos] = byte(r.byName[name])
	}
	return buf
}

// Decode replaces r's mapping with the contents of data, as produced by
// Encode from a non-empty Registry. Empty data is reported as truncated, so
// the nil encoding of an empty Registry does not decode.
func (r *Registry) Decode(data []byte) error {
	if r.byName == nil {
		r.byName = make(map[string]ID)
	} else {
		clear(r.byName)
	}

	npos, mpos := 0, len(data)
	for {
		if npos > 0 && npos == mpos {
			break
		} else if npos+2 > len(data) || npos > mpos {
			return fmt.Errorf("extension: truncated registry at offset %d", npos)
		}

		nlen := int(binary.BigEndian.Uint16(data[npos:]))
		npos += 2
		if npos+nlen > len(data) {
			return fmt.Errorf("extension: truncated name at offset %d", npos)
		}

		mpos--
		if mpos < npos+nlen {
			return fmt.Errorf("extension: truncated id at offset %d", mpos)
		}
		id := ID(data[mpos])

		r.byName[string(data[npos:npos+nlen])] = id
		npos += nlen
	}
	return nil
}

// Len reports the number of names registered.
func (r *Registry) Len() int { return len(r.byName) }
