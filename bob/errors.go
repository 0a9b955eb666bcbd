package bob

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrTruncated        = errors.New("bob: truncated input")
	ErrTrailingData     = errors.New("bob: trailing data after value")
	ErrOddStringLength  = errors.New("bob: utf-16 string with odd byte length")
	ErrNonStringKey     = errors.New("bob: map key is not a string")
	ErrSparseIndexRange = errors.New("bob: sparse array index out of range")
)

// UnknownTagError is returned when the decoder meets a byte that is not a tag.
type UnknownTagError struct {
	Tag    byte
	Offset int
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("bob: unknown tag 0x%02x at offset %d", e.Tag, e.Offset)
}

// BackrefError is returned for a back-reference past the end of its table.
type BackrefError struct {
	Table string // "string" or "object"
	Index uint32
	Size  int
}

func (e *BackrefError) Error() string {
	return fmt.Sprintf("bob: %s back-reference %d out of range (table has %d entries)", e.Table, e.Index, e.Size)
}

// UnsupportedTypeError is returned when encoding a value with no representation.
type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return "bob: unsupported type: " + e.Type.String()
}

// PointerCycleError is returned when a pointer leads back to itself without
// passing through a map, slice or sparse array.
type PointerCycleError struct {
	Type reflect.Type
}

func (e *PointerCycleError) Error() string {
	return fmt.Sprintf("bob: pointer cycle through %s", e.Type)
}
