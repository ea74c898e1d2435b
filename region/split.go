// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package region

import "github.com/grailbio/base/must"

// A Splitter partitions a region into disjoint, contiguous pieces.
// Splitters must be deterministic: calling Split for every i in
// [0, n) with the same n and region yields a set of regions whose
// union is exactly the input region.
type Splitter interface {
	// NumSplits returns the number of pieces that r is split into
	// when requested pieces are asked for. The returned value is at
	// most max(requested, 1), and it is smaller when r cannot be split
	// that finely without producing empty pieces.
	NumSplits(r Region, requested int) int

	// Split returns the i'th of n pieces of r. Callers must ensure
	// that 0 <= i < n.
	Split(i, n int, r Region) Region
}

// SlowDimension is the default Splitter. It divides the outermost
// dimension whose size is not 1 into contiguous slabs of
// ceil(extent/n) elements, the last slab absorbing the remainder.
var SlowDimension Splitter = slowDimension{}

type slowDimension struct{}

// axis returns the dimension along which r is split.
func (slowDimension) axis(r Region) int {
	axis := r.Dim() - 1
	for axis > 0 && r.Size[axis] == 1 {
		axis--
	}
	return axis
}

func (s slowDimension) NumSplits(r Region, requested int) int {
	if requested < 1 {
		requested = 1
	}
	if r.Dim() == 0 || r.IsEmpty() {
		return 1
	}
	extent := r.Size[s.axis(r)]
	per := ceilDiv(extent, requested)
	return ceilDiv(extent, per)
}

func (s slowDimension) Split(i, n int, r Region) Region {
	must.True(n > 0 && i >= 0 && i < n, "region.Split: piece ", i, " out of range [0, ", n, ")")
	piece := r.Copy()
	if r.Dim() == 0 || r.IsEmpty() {
		if i > 0 {
			return Empty(r.Dim())
		}
		return piece
	}
	axis := s.axis(r)
	extent := r.Size[axis]
	per := ceilDiv(extent, n)
	start := i * per
	if start >= extent {
		// More pieces were asked for than the region supports.
		piece.Index[axis] += extent
		piece.Size[axis] = 0
		return piece
	}
	piece.Index[axis] += start
	piece.Size[axis] = min(per, extent-start)
	return piece
}

// Regions returns every piece of r when it is split into the number
// of pieces that s supports for a request of n.
func Regions(s Splitter, r Region, n int) []Region {
	n = s.NumSplits(r, n)
	pieces := make([]Region, n)
	for i := range pieces {
		pieces[i] = s.Split(i, n, r)
	}
	return pieces
}

func ceilDiv(x, y int) int {
	return (x + y - 1) / y
}
