// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package region implements axis-aligned rectangular regions over
// integer index spaces of arbitrary dimensionality, together with the
// splitters used to partition them into chunks.
//
// Dimension 0 is the fastest-varying dimension: elements adjacent
// along dimension 0 are adjacent in memory. A run of elements along
// dimension 0 is called a line. The last dimension is the slowest
// (outermost) dimension.
package region

import (
	"fmt"
	"strings"
)

// A Region is a rectangle in an index space. Index holds the region's
// origin and Size its extent, per dimension. Regions with any zero
// size are empty: they contain no elements but still carry their
// origin and dimensionality.
type Region struct {
	Index []int
	Size  []int
}

// New returns a new region with the provided origin and size. The
// slices are copied. New panics if their lengths differ or if any
// size is negative.
func New(index, size []int) Region {
	if len(index) != len(size) {
		panic(fmt.Sprintf("region.New: dimension mismatch: %d != %d", len(index), len(size)))
	}
	r := Region{Index: make([]int, len(index)), Size: make([]int, len(size))}
	copy(r.Index, index)
	for i, s := range size {
		if s < 0 {
			panic(fmt.Sprintf("region.New: negative size %d in dimension %d", s, i))
		}
		r.Size[i] = s
	}
	return r
}

// Empty returns an empty region of dimensionality d, with its origin
// at zero.
func Empty(d int) Region {
	return Region{Index: make([]int, d), Size: make([]int, d)}
}

// Dim returns the dimensionality of the region.
func (r Region) Dim() int { return len(r.Size) }

// NumElements returns the number of elements contained in r.
func (r Region) NumElements() int {
	if len(r.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range r.Size {
		n *= s
	}
	return n
}

// IsEmpty tells whether r contains no elements.
func (r Region) IsEmpty() bool {
	return r.NumElements() == 0
}

// NumLines returns the number of lines (runs along dimension 0) in r.
func (r Region) NumLines() int {
	if r.IsEmpty() {
		return 0
	}
	return r.NumElements() / r.Size[0]
}

// Upper returns the (inclusive) upper corner of r. The upper corner
// of an empty region is not meaningful.
func (r Region) Upper() []int {
	upper := make([]int, len(r.Index))
	for i := range r.Index {
		upper[i] = r.Index[i] + r.Size[i] - 1
	}
	return upper
}

// Copy returns a deep copy of r.
func (r Region) Copy() Region {
	return New(r.Index, r.Size)
}

// Equal tells whether r and s have the same origin and size.
func (r Region) Equal(s Region) bool {
	if len(r.Index) != len(s.Index) || len(r.Size) != len(s.Size) {
		return false
	}
	for i := range r.Index {
		if r.Index[i] != s.Index[i] || r.Size[i] != s.Size[i] {
			return false
		}
	}
	return true
}

// Contains tells whether the index idx lies inside r.
func (r Region) Contains(idx []int) bool {
	if len(idx) != len(r.Index) {
		return false
	}
	for i := range idx {
		if idx[i] < r.Index[i] || idx[i] >= r.Index[i]+r.Size[i] {
			return false
		}
	}
	return true
}

// IsInside tells whether every element of s is also in r. Empty
// regions are inside every region of the same dimensionality.
func (r Region) IsInside(s Region) bool {
	if s.Dim() != r.Dim() {
		return false
	}
	if s.IsEmpty() {
		return true
	}
	for i := range s.Index {
		if s.Index[i] < r.Index[i] || s.Index[i]+s.Size[i] > r.Index[i]+r.Size[i] {
			return false
		}
	}
	return true
}

// Crop returns the intersection of r and s, and whether the two
// overlap at all. When they do not, the returned region is empty.
func Crop(r, s Region) (Region, bool) {
	if r.Dim() != s.Dim() || r.IsEmpty() || s.IsEmpty() {
		return Empty(r.Dim()), false
	}
	c := Empty(r.Dim())
	for i := range r.Index {
		lo, hi := max(r.Index[i], s.Index[i]), min(r.Index[i]+r.Size[i], s.Index[i]+s.Size[i])
		if lo >= hi {
			return Empty(r.Dim()), false
		}
		c.Index[i], c.Size[i] = lo, hi-lo
	}
	return c, true
}

// Union returns the bounding region of r and s. Empty regions are the
// identity of Union: the union of an empty region with r is r, and the
// union of two empty regions is empty.
func Union(r, s Region) Region {
	switch {
	case r.IsEmpty() && s.IsEmpty():
		return Empty(max(r.Dim(), s.Dim()))
	case r.IsEmpty():
		return s.Copy()
	case s.IsEmpty():
		return r.Copy()
	}
	u := Empty(r.Dim())
	for i := range r.Index {
		lo := min(r.Index[i], s.Index[i])
		hi := max(r.Index[i]+r.Size[i], s.Index[i]+s.Size[i])
		u.Index[i], u.Size[i] = lo, hi-lo
	}
	return u
}

// Offset returns the linear offset of idx in a dense, dimension-0
// contiguous layout of r. Offset does not check that idx is in r.
func (r Region) Offset(idx []int) int {
	var (
		off    int
		stride = 1
	)
	for i := range r.Index {
		off += (idx[i] - r.Index[i]) * stride
		stride *= r.Size[i]
	}
	return off
}

// Lines calls fn for each line of r, in layout order, with the index
// of the line's first element. The index slice is reused between
// calls. Iteration stops early if fn returns false.
func (r Region) Lines(fn func(start []int) bool) {
	if r.IsEmpty() {
		return
	}
	idx := make([]int, len(r.Index))
	copy(idx, r.Index)
	for {
		if !fn(idx) {
			return
		}
		d := 1
		for ; d < len(idx); d++ {
			idx[d]++
			if idx[d] < r.Index[d]+r.Size[d] {
				break
			}
			idx[d] = r.Index[d]
		}
		if d == len(idx) {
			return
		}
	}
}

// String returns a representation of r of the form
// [i0 i1 ...]+[s0 s1 ...].
func (r Region) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprint(r.Index))
	b.WriteString("+")
	b.WriteString(fmt.Sprint(r.Size))
	return b.String()
}

func min(x, y int) int {
	if x < y {
		return x
	}
	return y
}

func max(x, y int) int {
	if x > y {
		return x
	}
	return y
}
