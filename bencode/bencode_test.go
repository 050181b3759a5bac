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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIntegerVectors(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"i42e", 42, false},
		{"i-7e", -7, false},
		{"i0e", 0, false},
		{"i-0e", 0, true},
		{"i03e", 0, true},
	}
	for _, tt := range tests {
		v, err := Decode([]byte(tt.in))
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, KindInt, v.Kind())
		assert.Equal(t, tt.want, v.Int())
	}
}

func TestDecodeStringVector(t *testing.T) {
	v, err := Decode([]byte("5:hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Text())
}

func TestDecodeListVectors(t *testing.T) {
	v, err := Decode([]byte("le"))
	require.NoError(t, err)
	assert.Empty(t, v.List())

	v, err = Decode([]byte("li1ei2ee"))
	require.NoError(t, err)
	require.Len(t, v.List(), 2)
	assert.Equal(t, int64(1), v.List()[0].Int())
	assert.Equal(t, int64(2), v.List()[1].Int())
}

func TestDecodeDictVectors(t *testing.T) {
	v, err := Decode([]byte("d3:cow3:moo4:spam4:eggse"))
	require.NoError(t, err)
	cow, ok := v.Lookup("cow")
	require.True(t, ok)
	assert.Equal(t, "moo", cow.Text())
	spam, ok := v.Lookup("spam")
	require.True(t, ok)
	assert.Equal(t, "eggs", spam.Text())

	_, err = Decode([]byte("d3:foo3:bar3:abc3:xyze"))
	assert.Error(t, err, "keys out of strict ascending order must fail")
}

func TestDecodeLenientToleratesOutOfOrderKeys(t *testing.T) {
	v, err := DecodeLenient([]byte("d3:foo3:bar3:abc3:xyze"))
	require.NoError(t, err)
	foo, ok := v.Lookup("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", foo.Text())
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	_, err := Decode([]byte("i1eextra"))
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestDecodeRejectsDuplicateKeys(t *testing.T) {
	_, err := DecodeLenient([]byte("d1:ai1e1:ai2ee"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestDecodeRejectsNonAdjacentDuplicateKeys(t *testing.T) {
	_, err := DecodeLenient([]byte("d1:ai1e1:bi2e1:ai3ee"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestEncodeRoundTripsArbitraryBencode(t *testing.T) {
	vectors := []string{
		"i42e",
		"i-7e",
		"i0e",
		"5:hello",
		"le",
		"li1ei2ee",
		"d3:cow3:moo4:spam4:eggse",
		"d4:listli1e2:hili0eli1eeeee",
	}
	for _, raw := range vectors {
		v, err := Decode([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, raw, string(Encode(v)), raw)
	}
}

func TestEncodeRoundTripsLenientOutOfOrderBytes(t *testing.T) {
	raw := "d3:foo3:bar3:abc3:xyze"
	v, err := DecodeLenient([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, string(Encode(v)))
}

func TestDecodeEncodeValueLaw(t *testing.T) {
	v := NewDict([]DictEntry{
		{Key: []byte("a"), Value: NewInt(1)},
		{Key: []byte("b"), Value: NewList([]Value{NewStringFromText("x"), NewStringFromText("y")})},
	})
	encoded := Encode(v)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.True(t, v.Equal(decoded))
}

func TestDecodeTruncatedInputIsMalformed(t *testing.T) {
	_, err := Decode([]byte("5:hi"))
	assert.Error(t, err)
}

func TestStrictDecoderReadsNestedDict(t *testing.T) {
	data := []byte("d4:infod6:lengthi10eee")
	d := NewDecoderBytes(data)
	d.SetStrict(true)
	top, err := d.ReadValue()
	require.NoError(t, err)
	infoVal, ok := top.Lookup("info")
	require.True(t, ok)
	assert.Equal(t, int64(10), mustLookupInt(t, infoVal, "length"))
}

func mustLookupInt(t *testing.T, v Value, key string) int64 {
	t.Helper()
	f, ok := v.Lookup(key)
	require.True(t, ok)
	return f.Int()
}
