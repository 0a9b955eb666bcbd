package bob

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
)

// Decoder rebuilds value graphs. Like Encoder, its tables live for a single
// Decode call and it is not safe for concurrent use.
type Decoder struct {
	data []byte
	pos  int

	objects []any
	strings []string
}

// Unmarshal decodes a single value that must span all of data.
//
// Dense arrays decode to []any, maps to map[string]any, sparse arrays to
// *SparseArray and numbers to float64.
func Unmarshal(data []byte) (any, error) {
	var d Decoder
	return d.Decode(data)
}

// Decode decodes data. Back-references resolve to the same instance, so
// shared and cyclic containers come back shared and cyclic.
func (d *Decoder) Decode(data []byte) (any, error) {
	d.data = data
	d.pos = 0
	d.objects = d.objects[:0]
	d.strings = d.strings[:0]

	defer func() {
		d.data = nil
		clear(d.objects)
		d.objects = d.objects[:0]
		d.strings = d.strings[:0]
	}()

	v, err := d.read()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, ErrTrailingData
	}
	return v, nil
}

func (d *Decoder) remaining() int {
	return len(d.data) - d.pos
}

func (d *Decoder) readByte() (byte, error) {
	if d.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) readUint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, ErrTruncated
	}
	n := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return n, nil
}

func (d *Decoder) read() (any, error) {
	offset := d.pos
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagUndefined:
		return Undefined, nil
	case tagNull:
		return nil, nil
	case tagTrue:
		return true, nil
	case tagFalse:
		return false, nil
	case tagDouble:
		if d.remaining() < 8 {
			return nil, ErrTruncated
		}
		bits := binary.BigEndian.Uint64(d.data[d.pos:])
		d.pos += 8
		return math.Float64frombits(bits), nil
	case tagString:
		return d.readString()
	case tagStringRef:
		idx, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		if uint64(idx) >= uint64(len(d.strings)) {
			return nil, &BackrefError{Table: "string", Index: idx, Size: len(d.strings)}
		}
		return d.strings[idx], nil
	case tagObjectRef:
		idx, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		if uint64(idx) >= uint64(len(d.objects)) {
			return nil, &BackrefError{Table: "object", Index: idx, Size: len(d.objects)}
		}
		return d.objects[idx], nil
	case tagArray:
		return d.readArray()
	case tagMap:
		return d.readMap()
	case tagSparseArray:
		return d.readSparse()
	default:
		return nil, &UnknownTagError{Tag: tag, Offset: offset}
	}
}

func (d *Decoder) readString() (string, error) {
	n, err := d.readUint32()
	if err != nil {
		return "", err
	}
	if n%2 != 0 {
		return "", ErrOddStringLength
	}
	if uint64(n) > uint64(d.remaining()) {
		return "", ErrTruncated
	}

	units := make([]uint16, n/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(d.data[d.pos+2*i:])
	}
	d.pos += int(n)

	s := string(utf16.Decode(units))
	if len(units) > 2 {
		d.strings = append(d.strings, s)
	}
	return s, nil
}

func (d *Decoder) readArray() (any, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	// Every element takes at least one byte
	if uint64(n) > uint64(d.remaining()) {
		return nil, ErrTruncated
	}

	arr := make([]any, n)
	d.objects = append(d.objects, arr)

	for i := range arr {
		if arr[i], err = d.read(); err != nil {
			return nil, err
		}
	}
	return arr, nil
}

func (d *Decoder) readMap() (any, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	// Every pair takes at least two bytes
	if uint64(n)*2 > uint64(d.remaining()) {
		return nil, ErrTruncated
	}

	m := make(map[string]any, n)
	d.objects = append(d.objects, m)

	for range n {
		k, err := d.read()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, ErrNonStringKey
		}
		if m[key], err = d.read(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (d *Decoder) readSparse() (any, error) {
	length, err := d.readUint32()
	if err != nil {
		return nil, err
	}

	arr := NewSparseArray(length)
	d.objects = append(d.objects, arr)

	for first := true; ; first = false {
		next, err := d.readByte()
		if err != nil {
			return nil, err
		}
		idx, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		if idx >= length {
			return nil, ErrSparseIndexRange
		}
		v, err := d.read()
		if err != nil {
			return nil, err
		}
		if next == 0 {
			// A lone undefined at the last index is how an array with no
			// set index is written.
			if _, hole := v.(UndefinedType); !(hole && first && idx == length-1) {
				arr.items[idx] = v
			}
			return arr, nil
		}
		arr.items[idx] = v
	}
}
