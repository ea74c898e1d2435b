// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package array

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind is the element type of an array. Kinds are a closed set of
// fixed-width numeric types, each with a fixed little-endian wire
// representation.
type Kind uint8

const (
	// Invalid is the zero Kind; it is never valid for an array.
	Invalid Kind = iota
	Uint8
	Int16
	Int32
	Int64
	Float32
	Float64

	maxKind
)

var kinds = [...]struct {
	name  string
	width int
}{
	Invalid: {"invalid", 0},
	Uint8:   {"uint8", 1},
	Int16:   {"int16", 2},
	Int32:   {"int32", 4},
	Int64:   {"int64", 8},
	Float32: {"float32", 4},
	Float64: {"float64", 8},
}

// Valid tells whether k is a supported element kind.
func (k Kind) Valid() bool { return k > Invalid && k < maxKind }

// Width returns the number of bytes occupied by one element of kind k.
func (k Kind) Width() int {
	if !k.Valid() {
		return 0
	}
	return kinds[k].width
}

// String returns the name of the kind, e.g., "float32".
func (k Kind) String() string {
	if k >= maxKind {
		return fmt.Sprintf("Kind(%d)", k)
	}
	return kinds[k].name
}

// ParseKind returns the kind named by s.
func ParseKind(s string) (Kind, error) {
	for k := Uint8; k < maxKind; k++ {
		if kinds[k].name == s {
			return k, nil
		}
	}
	return Invalid, fmt.Errorf("array: unknown element kind %q", s)
}

// get decodes the element stored at p.
func (k Kind) get(p []byte) float64 {
	switch k {
	case Uint8:
		return float64(p[0])
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(p)))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(p)))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(p)))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	}
	panic(k)
}

// put encodes v into p, converting it to the kind's type.
func (k Kind) put(p []byte, v float64) {
	switch k {
	case Uint8:
		p[0] = uint8(v)
	case Int16:
		binary.LittleEndian.PutUint16(p, uint16(int16(v)))
	case Int32:
		binary.LittleEndian.PutUint32(p, uint32(int32(v)))
	case Int64:
		binary.LittleEndian.PutUint64(p, uint64(int64(v)))
	case Float32:
		binary.LittleEndian.PutUint32(p, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(p, math.Float64bits(v))
	default:
		panic(k)
	}
}

// isZero tells whether the element stored at p compares equal to zero.
func (k Kind) isZero(p []byte) bool {
	switch k {
	case Float32, Float64:
		return k.get(p) == 0
	}
	for _, b := range p[:k.Width()] {
		if b != 0 {
			return false
		}
	}
	return true
}
