// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package reduce

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/region"
)

// Statistics is an Accumulator that computes the count, minimum,
// maximum, sum and sum of squares of the elements it scans.
type Statistics struct {
	Count      int
	Min, Max   float64
	Sum, SumSq float64
}

// NewStatistics returns a fresh Statistics accumulator.
func NewStatistics() Accumulator {
	return &Statistics{Min: math.Inf(1), Max: math.Inf(-1)}
}

// Scan implements Accumulator.
func (s *Statistics) Scan(ctx context.Context, data *array.Array, r region.Region) error {
	var err error
	r.Lines(func(start []int) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		off := data.Region().Offset(start)
		for i := 0; i < r.Size[0]; i++ {
			v := data.Get(off + i)
			s.Count++
			s.Sum += v
			s.SumSq += v * v
			if v < s.Min {
				s.Min = v
			}
			if v > s.Max {
				s.Max = v
			}
		}
		return true
	})
	return err
}

// Merge implements Accumulator.
func (s *Statistics) Merge(other Accumulator) {
	o := other.(*Statistics)
	if o.Count == 0 {
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.SumSq += o.SumSq
	s.Min = math.Min(s.Min, o.Min)
	s.Max = math.Max(s.Max, o.Max)
}

// Mean returns the mean of the scanned elements, or NaN if none were
// scanned.
func (s *Statistics) Mean() float64 {
	if s.Count == 0 {
		return math.NaN()
	}
	return s.Sum / float64(s.Count)
}

// Variance returns the sample variance of the scanned elements.
func (s *Statistics) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	n := float64(s.Count)
	return (s.SumSq - s.Sum*s.Sum/n) / (n - 1)
}

// Sigma returns the sample standard deviation of the scanned
// elements.
func (s *Statistics) Sigma() float64 {
	return math.Sqrt(s.Variance())
}

func (s *Statistics) String() string {
	return fmt.Sprintf("count:%d min:%g max:%g mean:%g sigma:%g sum:%g",
		s.Count, s.Min, s.Max, s.Mean(), s.Sigma(), s.Sum)
}
