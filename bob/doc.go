// Package bob encodes value graphs (scalars, maps, arrays and the links
// between them) into a compact tagged binary form.
//
// Repeated containers and strings longer than two UTF-16 code units are
// written once and referred to by index afterwards, so shared references and
// cycles survive a round trip:
//
//	m := map[string]any{"name": "demo"}
//	m["self"] = m
//	data, _ := bob.Marshal(m)
//	v, _ := bob.Unmarshal(data)
//	out := v.(map[string]any)
//	// out["self"] is out
//
// # Types
//
//	Go (encode)                          tag   Go (decode)
//	nil, nil pointer/slice/map           0x30  nil
//	Undefined                            0x00  Undefined
//	bool                                 T/F   bool
//	integers, floats                     0x44  float64
//	string                               0x24  string
//	slices, arrays                       0x5B  []any
//	maps with string keys                0x7B  map[string]any
//	*SparseArray (with holes)            0x2E  *SparseArray
//
// A *SparseArray with every index set is written as a dense array. One with
// no index set is written as a single Undefined at its last index, so an
// array holding only Undefined at that index decodes with no index set.
// Structs, channels and functions are rejected with *UnsupportedTypeError.
// Pointers are followed; a pointer loop that never passes through a
// container is rejected with *PointerCycleError.
//
// Map keys are written in sorted order, so equal maps encode to equal bytes.
package bob
