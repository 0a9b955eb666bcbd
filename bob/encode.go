package bob

import (
	"bytes"
	"encoding/binary"
	"math"
	"reflect"
	"slices"
	"strings"
	"unicode/utf16"

	"github.com/pior/bincache/internal/bufpool"
)

var bufferPool = bufpool.New(512, 1<<20)

// identity distinguishes container instances.
// Slices are identified by their backing array and length.
type identity struct {
	kind reflect.Kind
	ptr  uintptr
	len  int
}

// Encoder serializes value graphs. The back-reference tables live for a
// single Encode call. An Encoder is not safe for concurrent use.
type Encoder struct {
	buf *bytes.Buffer

	objects  map[identity]uint32
	nobjects uint32

	strings map[string]uint32

	// pointers being dereferenced on the current path
	derefs map[uintptr]struct{}
}

// Marshal encodes v. See the package documentation for supported types.
func Marshal(v any) ([]byte, error) {
	var e Encoder
	return e.Encode(v)
}

// Encode encodes v into a new byte slice.
func (e *Encoder) Encode(v any) ([]byte, error) {
	e.buf = bufferPool.Get()
	e.objects = make(map[identity]uint32)
	e.nobjects = 0
	e.strings = make(map[string]uint32)

	defer func() {
		bufferPool.Put(e.buf)
		e.buf = nil
		e.objects = nil
		e.strings = nil
		e.derefs = nil
	}()

	if err := e.walk(v); err != nil {
		return nil, err
	}
	return bytes.Clone(e.buf.Bytes()), nil
}

func (e *Encoder) walk(v any) error {
	switch x := v.(type) {
	case nil:
		e.buf.WriteByte(tagNull)
	case UndefinedType:
		e.buf.WriteByte(tagUndefined)
	case string:
		e.writeString(x)
	case bool:
		e.writeBool(x)
	case float64:
		e.writeNumber(x)
	case int:
		e.writeNumber(float64(x))
	case int64:
		e.writeNumber(float64(x))
	case []any:
		if x == nil {
			e.buf.WriteByte(tagNull)
			return nil
		}
		return e.writeSlice(reflect.ValueOf(x))
	case map[string]any:
		if x == nil {
			e.buf.WriteByte(tagNull)
			return nil
		}
		return e.writeMap(reflect.ValueOf(x))
	case *SparseArray:
		if x == nil {
			e.buf.WriteByte(tagNull)
			return nil
		}
		return e.writeSparse(x)
	default:
		return e.walkReflect(reflect.ValueOf(v))
	}
	return nil
}

func (e *Encoder) walkReflect(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			e.buf.WriteByte(tagNull)
			return nil
		}
		// Pointers are transparent on the wire, so a loop made only of
		// pointers has nothing to back-reference.
		ptr := rv.Pointer()
		if _, ok := e.derefs[ptr]; ok {
			return &PointerCycleError{Type: rv.Type()}
		}
		if e.derefs == nil {
			e.derefs = make(map[uintptr]struct{})
		}
		e.derefs[ptr] = struct{}{}
		defer delete(e.derefs, ptr)
		return e.walk(rv.Elem().Interface())
	case reflect.Interface:
		if rv.IsNil() {
			e.buf.WriteByte(tagNull)
			return nil
		}
		return e.walk(rv.Elem().Interface())
	case reflect.String:
		e.writeString(rv.String())
	case reflect.Bool:
		e.writeBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.writeNumber(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.writeNumber(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		e.writeNumber(rv.Float())
	case reflect.Slice:
		if rv.IsNil() {
			e.buf.WriteByte(tagNull)
			return nil
		}
		return e.writeSlice(rv)
	case reflect.Array:
		return e.writeSlice(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return &UnsupportedTypeError{Type: rv.Type()}
		}
		if rv.IsNil() {
			e.buf.WriteByte(tagNull)
			return nil
		}
		return e.writeMap(rv)
	default:
		return &UnsupportedTypeError{Type: rv.Type()}
	}
	return nil
}

// register records a new container, or writes a back-reference and returns
// true if the container was seen before. Untrackable containers get a table
// slot, keeping indices aligned with the decoder, but are never matched.
func (e *Encoder) register(id identity, trackable bool) bool {
	if trackable {
		if idx, ok := e.objects[id]; ok {
			e.writeTagUint32(tagObjectRef, idx)
			return true
		}
		e.objects[id] = e.nobjects
	}
	e.nobjects++
	return false
}

func (e *Encoder) writeSlice(rv reflect.Value) error {
	n := rv.Len()

	var id identity
	trackable := rv.Kind() == reflect.Slice && n > 0
	if trackable {
		id = identity{kind: reflect.Slice, ptr: rv.Pointer(), len: n}
	}
	if e.register(id, trackable) {
		return nil
	}

	e.writeTagUint32(tagArray, uint32(n))
	for i := 0; i < n; i++ {
		if err := e.walk(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeMap(rv reflect.Value) error {
	id := identity{kind: reflect.Map, ptr: rv.Pointer()}
	if e.register(id, true) {
		return nil
	}

	keys := rv.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return strings.Compare(a.String(), b.String())
	})

	e.writeTagUint32(tagMap, uint32(len(keys)))
	for _, k := range keys {
		e.writeString(k.String())
		if err := e.walk(rv.MapIndex(k).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeSparse(a *SparseArray) error {
	id := identity{kind: reflect.Pointer, ptr: reflect.ValueOf(a).Pointer()}
	if e.register(id, true) {
		return nil
	}

	if idx, ok := a.maxIndex(); ok && idx >= a.Length {
		return ErrSparseIndexRange
	}

	if a.IsDense() {
		e.writeTagUint32(tagArray, a.Length)
		for i := uint32(0); i < a.Length; i++ {
			if err := e.walk(a.items[i]); err != nil {
				return err
			}
		}
		return nil
	}

	e.writeTagUint32(tagSparseArray, a.Length)

	indices := a.Indices()
	if len(indices) == 0 {
		// The wire format has no empty triple list
		e.writeTagUint32(0, a.Length-1)
		e.buf.WriteByte(tagUndefined)
		return nil
	}

	for i, idx := range indices {
		next := byte(1)
		if i == len(indices)-1 {
			next = 0
		}
		e.writeTagUint32(next, idx)
		if err := e.walk(a.items[idx]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeString(s string) {
	units := utf16.Encode([]rune(s))

	if len(units) > 2 {
		if idx, ok := e.strings[s]; ok {
			e.writeTagUint32(tagStringRef, idx)
			return
		}
		e.strings[s] = uint32(len(e.strings))
	}

	e.writeTagUint32(tagString, uint32(len(units)*2))
	for _, u := range units {
		e.buf.WriteByte(byte(u))
		e.buf.WriteByte(byte(u >> 8))
	}
}

func (e *Encoder) writeNumber(f float64) {
	var b [9]byte
	b[0] = tagDouble
	binary.BigEndian.PutUint64(b[1:], math.Float64bits(f))
	e.buf.Write(b[:])
}

func (e *Encoder) writeBool(b bool) {
	if b {
		e.buf.WriteByte(tagTrue)
	} else {
		e.buf.WriteByte(tagFalse)
	}
}

func (e *Encoder) writeTagUint32(tag byte, n uint32) {
	var b [5]byte
	b[0] = tag
	binary.BigEndian.PutUint32(b[1:], n)
	e.buf.Write(b[:])
}
