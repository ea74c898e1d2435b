// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package reduce

import (
	"context"

	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/region"
)

// Bound is an Accumulator that computes the smallest region
// containing every nonzero element it scans. Its identity is the
// empty region.
type Bound struct {
	r region.Region
}

// NewBound returns a fresh Bound accumulator.
func NewBound() Accumulator { return new(Bound) }

// Region returns the accumulated bounding region. It is empty if no
// nonzero element was scanned.
func (b *Bound) Region() region.Region { return b.r }

// Scan implements Accumulator. Each line is scanned for its first and
// last nonzero elements; lines without any contribute nothing.
func (b *Bound) Scan(ctx context.Context, data *array.Array, r region.Region) error {
	if r.IsEmpty() {
		return nil
	}
	var (
		found        bool
		lower, upper []int
		n            = r.Size[0]
		err          error
	)
	r.Lines(func(start []int) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		off := data.Region().Offset(start)
		first := -1
		for i := 0; i < n; i++ {
			if data.Truthy(off + i) {
				first = i
				break
			}
		}
		if first < 0 {
			return true
		}
		last := first
		for i := n - 1; i > first; i-- {
			if data.Truthy(off + i) {
				last = i
				break
			}
		}
		if !found {
			found = true
			lower = append([]int(nil), start...)
			upper = append([]int(nil), start...)
			lower[0] += first
			upper[0] += last
			return true
		}
		for d := 1; d < len(start); d++ {
			lower[d] = min(lower[d], start[d])
			upper[d] = max(upper[d], start[d])
		}
		lower[0] = min(lower[0], start[0]+first)
		upper[0] = max(upper[0], start[0]+last)
		return true
	})
	if err != nil || !found {
		return err
	}
	size := make([]int, len(lower))
	for d := range lower {
		size[d] = upper[d] - lower[d] + 1
	}
	b.r = region.Union(b.r, region.New(lower, size))
	return nil
}

// Merge implements Accumulator.
func (b *Bound) Merge(other Accumulator) {
	b.r = region.Union(b.r, other.(*Bound).r)
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
