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

package bencode

import (
	"bytes"
	"sort"
	"strconv"
)

// Encode serializes v to its unique bencode representation. Dictionary
// entries are emitted in the order stored on the Value, so re-encoding a
// Value produced by Decode reproduces the original bytes exactly, even for
// a leniently-decoded, non-ascending dictionary.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v Value) {
	switch v.kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.i, 10))
		buf.WriteByte('e')
	case KindString:
		buf.WriteString(strconv.Itoa(len(v.s)))
		buf.WriteByte(':')
		buf.Write(v.s)
	case KindList:
		buf.WriteByte('l')
		for _, e := range v.list {
			writeValue(buf, e)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		for _, e := range v.dict {
			writeValue(buf, NewString(e.Key))
			writeValue(buf, e.Value)
		}
		buf.WriteByte('e')
	}
}

// EncodeSortedDict builds a dictionary Value whose entries are sorted into
// ascending key order, for callers constructing a dict programmatically
// (e.g. the ut_metadata extension messages) who want a canonical encoding
// rather than insertion order.
func EncodeSortedDict(entries map[string]Value) Value {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]DictEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, DictEntry{Key: []byte(k), Value: entries[k]})
	}
	return NewDict(out)
}
