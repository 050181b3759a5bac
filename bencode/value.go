// Copyright (c) 2024 The vibe-torrent-client Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bencode implements the B-encoding used throughout BitTorrent:
// metainfo files, tracker responses, and the extension protocol. Decoding
// produces a Value, a tagged sum type over the four bencode kinds, rather
// than unmarshaling into caller-supplied Go structs: callers that need
// struct-shaped data (metainfo, tracker responses) pull fields off the
// Value tree themselves, which keeps the codec in exact control of byte
// offsets -- needed to hash a torrent's info dictionary from its original
// bytes rather than a re-encoding (see metainfo's computeInfoHash).
package bencode

import "fmt"

// Kind identifies which of the four bencode types a Value holds.
type Kind int

const (
	// KindInt is a bencoded integer ("i42e").
	KindInt Kind = iota
	// KindString is a bencoded byte string ("5:hello").
	KindString
	// KindList is a bencoded list ("li1ei2ee").
	KindList
	// KindDict is a bencoded dictionary ("d3:cow3:mooe").
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	default:
		return fmt.Sprintf("unknown kind %d", int(k))
	}
}

// DictEntry is one key/value pair of a dictionary, kept in the order it
// was encountered (either parse order or, for freshly-built values,
// insertion order) so that the dictionary can be re-encoded byte-for-byte.
type DictEntry struct {
	Key   []byte
	Value Value
}

// Value is a bencoded value: an integer, an opaque byte string, an ordered
// list of values, or an ordered mapping of byte-string keys to values.
// The zero Value is not valid; use one of the New* constructors or Decode.
type Value struct {
	kind Kind
	i    int64
	s    []byte
	list []Value
	dict []DictEntry
}

// NewInt returns an integer Value.
func NewInt(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// NewString returns a byte-string Value. s is not copied.
func NewString(s []byte) Value {
	return Value{kind: KindString, s: s}
}

// NewStringFromText is a convenience for building a byte-string Value out
// of a Go string.
func NewStringFromText(s string) Value {
	return Value{kind: KindString, s: []byte(s)}
}

// NewList returns a list Value. vs is not copied.
func NewList(vs []Value) Value {
	return Value{kind: KindList, list: vs}
}

// NewDict returns a dictionary Value from already-ordered entries. The
// caller is responsible for supplying entries in ascending lexicographic
// key order if the result will be used where strict ordering is required
// (e.g. re-encoded and hashed).
func NewDict(entries []DictEntry) Value {
	return Value{kind: KindDict, dict: entries}
}

// Kind returns the type tag of v.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer held by v. It panics if v is not a KindInt.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic(fmt.Sprintf("bencode: Int() called on %s value", v.kind))
	}
	return v.i
}

// Bytes returns the raw bytes held by v. It panics if v is not a KindString.
func (v Value) Bytes() []byte {
	if v.kind != KindString {
		panic(fmt.Sprintf("bencode: Bytes() called on %s value", v.kind))
	}
	return v.s
}

// Text is a convenience accessor equivalent to string(v.Bytes()).
func (v Value) Text() string {
	return string(v.Bytes())
}

// List returns the elements held by v. It panics if v is not a KindList.
func (v Value) List() []Value {
	if v.kind != KindList {
		panic(fmt.Sprintf("bencode: List() called on %s value", v.kind))
	}
	return v.list
}

// Dict returns the entries held by v, in their stored order. It panics if
// v is not a KindDict.
func (v Value) Dict() []DictEntry {
	if v.kind != KindDict {
		panic(fmt.Sprintf("bencode: Dict() called on %s value", v.kind))
	}
	return v.dict
}

// Lookup returns the value associated with key in a dictionary Value, and
// whether it was present. It panics if v is not a KindDict.
func (v Value) Lookup(key string) (Value, bool) {
	for _, e := range v.Dict() {
		if string(e.Key) == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// MustLookup is like Lookup but returns an error instead of a bool,
// convenient for the field-by-field extraction metainfo parsing does.
func (v Value) MustLookup(key string) (Value, error) {
	val, ok := v.Lookup(key)
	if !ok {
		return Value{}, fmt.Errorf("bencode: missing key %q", key)
	}
	return val, nil
}

// Equal reports whether v and o represent the same bencoded value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindString:
		return string(v.s) == string(o.s)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(v.dict) != len(o.dict) {
			return false
		}
		for i := range v.dict {
			if string(v.dict[i].Key) != string(o.dict[i].Key) {
				return false
			}
			if !v.dict[i].Value.Equal(o.dict[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}
