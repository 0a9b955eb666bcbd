package bincache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/pior/bincache/bob"
)

// Value flags, stored in the first 4 bytes of the item extras. The type
// flags spell their name in ASCII.
const (
	flagString     uint32 = 0x00000000
	flagDouble     uint32 = 0x44424C45 // DBLE
	flagTrue       uint32 = 0x54525545 // TRUE
	flagFalse      uint32 = 0x46414C53 // FALS
	flagNull       uint32 = 0x4E554C4C // NULL
	flagObject     uint32 = 0x42534F4E // BSON
	flagCompressed uint32 = 0x80000000
)

// expiryTick is the unit of the expiry field sent to the server.
const expiryTick = 2 * time.Second

// ValueTypeError is returned by Get for an item whose flags match no known
// value type.
type ValueTypeError struct {
	Key   string
	Flags uint32
}

func (e *ValueTypeError) Error() string {
	return fmt.Sprintf("bincache: %s: unknown value flags 0x%08x", e.Key, e.Flags)
}

var errShortExtras = errors.New("bincache: response without value flags")

// encodeValue maps a Go value to its flags and payload.
//
//	string, []byte       raw bytes
//	numbers              8-byte big-endian float64
//	true, false          empty
//	nil, bob.Undefined   empty
//	anything else        bob encoding
func encodeValue(v any) (uint32, []byte, error) {
	switch x := v.(type) {
	case nil, bob.UndefinedType:
		return flagNull, nil, nil
	case string:
		return flagString, []byte(x), nil
	case []byte:
		return flagString, x, nil
	case bool:
		if x {
			return flagTrue, nil, nil
		}
		return flagFalse, nil, nil
	}

	if f, ok := toFloat(v); ok {
		payload := make([]byte, 8)
		binary.BigEndian.PutUint64(payload, math.Float64bits(f))
		return flagDouble, payload, nil
	}

	payload, err := bob.Marshal(v)
	if err != nil {
		return 0, nil, err
	}
	return flagObject, payload, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

// decodeValue is the inverse of encodeValue, after decompression.
// Raw values decode to string and numbers to float64.
func decodeValue(key string, flags uint32, payload []byte) (any, error) {
	switch flags {
	case flagString:
		return string(payload), nil
	case flagDouble:
		if len(payload) != 8 {
			return nil, fmt.Errorf("bincache: %s: double value of %d bytes", key, len(payload))
		}
		return math.Float64frombits(binary.BigEndian.Uint64(payload)), nil
	case flagTrue:
		return true, nil
	case flagFalse:
		return false, nil
	case flagNull:
		return nil, nil
	case flagObject:
		v, err := bob.Unmarshal(payload)
		if err != nil {
			return nil, fmt.Errorf("bincache: %s: %w", key, err)
		}
		return v, nil
	default:
		return nil, &ValueTypeError{Key: key, Flags: flags}
	}
}

// setExtras builds the 8-byte extras of a set request.
func setExtras(flags uint32, ttl time.Duration) []byte {
	extra := make([]byte, 8)
	binary.BigEndian.PutUint32(extra[0:], flags)
	binary.BigEndian.PutUint32(extra[4:], expiryTicks(ttl))
	return extra
}

// expiryTicks converts a TTL to 2-second ticks. Zero means no expiry; any
// other TTL under one tick, negative included, rounds up to one.
func expiryTicks(ttl time.Duration) uint32 {
	switch {
	case ttl == 0:
		return 0
	case ttl < expiryTick:
		return 1
	case ttl/expiryTick > math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(ttl / expiryTick)
	}
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)

	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}
