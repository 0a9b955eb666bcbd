package bincache

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/bincache/bob"
)

func TestEncodeDecodeValue(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		flags   uint32
		payload []byte
		decoded any
	}{
		{"string", "hello", flagString, []byte("hello"), "hello"},
		{"empty string", "", flagString, []byte{}, ""},
		{"bytes", []byte{0xff, 0x00}, flagString, []byte{0xff, 0x00}, "\xff\x00"},
		{"float", 1.5, flagDouble, []byte{0x3f, 0xf8, 0, 0, 0, 0, 0, 0}, 1.5},
		{"int", 42, flagDouble, []byte{0x40, 0x45, 0, 0, 0, 0, 0, 0}, 42.0},
		{"uint8", uint8(2), flagDouble, []byte{0x40, 0, 0, 0, 0, 0, 0, 0}, 2.0},
		{"true", true, flagTrue, nil, true},
		{"false", false, flagFalse, nil, false},
		{"nil", nil, flagNull, nil, nil},
		{"undefined", bob.Undefined, flagNull, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, payload, err := encodeValue(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.flags, flags)
			assert.Equal(t, len(tt.payload), len(payload))
			if len(tt.payload) > 0 {
				assert.Equal(t, tt.payload, payload)
			}

			decoded, err := decodeValue("key", flags, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.decoded, decoded)
		})
	}
}

func TestEncodeDecodeValue_Object(t *testing.T) {
	value := map[string]any{
		"name":  "Ada",
		"tags":  []any{"a", "b"},
		"score": 9.5,
	}

	flags, payload, err := encodeValue(value)
	require.NoError(t, err)
	assert.Equal(t, flagObject, flags)

	decoded, err := decodeValue("key", flags, payload)
	require.NoError(t, err)
	assert.Equal(t, value, decoded)
}

func TestEncodeDecodeValue_NaN(t *testing.T) {
	flags, payload, err := encodeValue(math.NaN())
	require.NoError(t, err)

	decoded, err := decodeValue("key", flags, payload)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(decoded.(float64)))
}

func TestEncodeValue_Unsupported(t *testing.T) {
	_, _, err := encodeValue(make(chan int))

	var typeErr *bob.UnsupportedTypeError
	assert.ErrorAs(t, err, &typeErr)
}

func TestDecodeValue_Errors(t *testing.T) {
	_, err := decodeValue("key", 0x12345678, nil)
	var vtErr *ValueTypeError
	require.ErrorAs(t, err, &vtErr)
	assert.Equal(t, "key", vtErr.Key)
	assert.Equal(t, uint32(0x12345678), vtErr.Flags)
	assert.Contains(t, err.Error(), "0x12345678")

	_, err = decodeValue("key", flagDouble, []byte{1, 2, 3})
	assert.Error(t, err)

	_, err = decodeValue("key", flagObject, []byte{0xee})
	var tagErr *bob.UnknownTagError
	assert.ErrorAs(t, err, &tagErr)
}

func TestExpiryTicks(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want uint32
	}{
		{0, 0},
		{-time.Second, 1},
		{-500 * time.Millisecond, 1},
		{time.Millisecond, 1},
		{1999 * time.Millisecond, 1},
		{2 * time.Second, 1},
		{3999 * time.Millisecond, 1},
		{4 * time.Second, 2},
		{time.Hour, 1800},
		{math.MaxInt64, math.MaxUint32},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, expiryTicks(tt.ttl), "ttl %v", tt.ttl)
	}
}

func TestSetExtras(t *testing.T) {
	extra := setExtras(flagDouble|flagCompressed, 10*time.Second)
	require.Len(t, extra, 8)
	assert.Equal(t, uint32(0xC4424C45), binary.BigEndian.Uint32(extra))
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(extra[4:]))

	// An elapsed TTL still expires almost immediately
	extra = setExtras(flagString, -500*time.Millisecond)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(extra[4:]))
}

func TestDeflateInflate(t *testing.T) {
	data := []byte(strings.Repeat("compressible ", 10000))

	compressed, err := deflate(data)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data)/10)

	restored, err := inflate(compressed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))
}

func TestInflate_Corrupt(t *testing.T) {
	_, err := inflate([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
