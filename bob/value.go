package bob

import (
	"slices"
)

// UndefinedType is the type of Undefined.
type UndefinedType struct{}

// Undefined is a value distinct from nil (null). It survives a round trip
// as itself, and marks the holes of an empty sparse array.
var Undefined UndefinedType

func (UndefinedType) String() string {
	return "undefined"
}

// SparseArray is an array with a logical length and a subset of set indices.
// Only set indices are stored, so an array with a single element at index
// 1<<30 costs one entry.
//
// A *SparseArray is a container: it is identity-tracked like maps and slices.
type SparseArray struct {
	// Length is the logical length. Set grows it as needed.
	Length uint32

	items map[uint32]any
}

// NewSparseArray returns an empty array with the given logical length.
func NewSparseArray(length uint32) *SparseArray {
	return &SparseArray{Length: length, items: make(map[uint32]any)}
}

// Set stores v at index i, growing Length past i if needed.
func (a *SparseArray) Set(i uint32, v any) {
	if a.items == nil {
		a.items = make(map[uint32]any)
	}
	a.items[i] = v
	if i >= a.Length {
		a.Length = i + 1
	}
}

// Get returns the value at index i and whether the index is set.
func (a *SparseArray) Get(i uint32) (any, bool) {
	v, ok := a.items[i]
	return v, ok
}

// Delete unsets index i. Length is unchanged.
func (a *SparseArray) Delete(i uint32) {
	delete(a.items, i)
}

// Count returns the number of set indices.
func (a *SparseArray) Count() int {
	return len(a.items)
}

// Indices returns the set indices in ascending order.
func (a *SparseArray) Indices() []uint32 {
	indices := make([]uint32, 0, len(a.items))
	for i := range a.items {
		indices = append(indices, i)
	}
	slices.Sort(indices)
	return indices
}

// IsDense reports whether every index below Length is set and no other.
func (a *SparseArray) IsDense() bool {
	if uint64(len(a.items)) != uint64(a.Length) {
		return false
	}
	idx, ok := a.maxIndex()
	return !ok || idx < a.Length
}

func (a *SparseArray) maxIndex() (uint32, bool) {
	var top uint32
	for i := range a.items {
		top = max(top, i)
	}
	return top, len(a.items) > 0
}
