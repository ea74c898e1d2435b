// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package reduce

import (
	"context"
	"errors"
	"math"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/region"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func bound(t *testing.T, p int, data *array.Array, r region.Region) region.Region {
	t.Helper()
	acc, err := NewPool(p).Reduce(context.Background(), data, r, NewBound)
	assert.NoError(t, err)
	return acc.(*Bound).Region()
}

func TestBoundIdentity(t *testing.T) {
	data := array.New(array.Uint8, region.New([]int{0, 0, 0}, []int{8, 6, 5}))
	expect.True(t, bound(t, 4, data, data.Region()).IsEmpty())
	expect.True(t, bound(t, 4, data, region.Empty(3)).IsEmpty())
}

func TestBoundSingle(t *testing.T) {
	data := array.New(array.Uint8, region.New([]int{-3, 2, 0}, []int{8, 6, 5}))
	p := []int{1, 4, 3}
	data.Set(p, 1)
	for _, workers := range []int{1, 2, 3, 16} {
		got := bound(t, workers, data, data.Region())
		if want := region.New(p, []int{1, 1, 1}); !got.Equal(want) {
			t.Errorf("%d workers: got %v, want %v", workers, got, want)
		}
	}
}

func TestBoundLines(t *testing.T) {
	data := array.New(array.Float32, region.New([]int{0, 0}, []int{10, 4}))
	data.Set([]int{2, 1}, 1)
	data.Set([]int{7, 1}, 3)
	data.Set([]int{5, 3}, -1)
	got := bound(t, 2, data, data.Region())
	if want := region.New([]int{2, 1}, []int{6, 3}); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	// Restricting the scan to a sub-region only sees its elements.
	got = bound(t, 2, data, region.New([]int{0, 2}, []int{10, 2}))
	if want := region.New([]int{5, 3}, []int{1, 1}); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBoundAssociative(t *testing.T) {
	fz := fuzz.NewWithSeed(12345)
	data := array.New(array.Uint8, region.New([]int{0, 0, 0}, []int{9, 7, 11}))
	for i := 0; i < data.Len(); i++ {
		var v uint8
		fz.Fuzz(&v)
		if v < 8 {
			data.Put(i, 1)
		}
	}
	want := bound(t, 1, data, data.Region())
	for _, p := range []int{2, 3, 5, 7, 11, 64} {
		if got := bound(t, p, data, data.Region()); !got.Equal(want) {
			t.Errorf("%d workers: got %v, want %v", p, got, want)
		}
	}
	// Merging chunk bounds in any order yields the same result.
	pieces := region.Regions(region.SlowDimension, data.Region(), 5)
	for _, order := range [][]int{{0, 1, 2, 3, 4}, {4, 3, 2, 1, 0}, {2, 0, 4, 1, 3}} {
		acc := NewBound()
		for _, i := range order {
			part := NewBound()
			assert.NoError(t, part.Scan(context.Background(), data, pieces[i]))
			acc.Merge(part)
		}
		if got := acc.(*Bound).Region(); !got.Equal(want) {
			t.Errorf("order %v: got %v, want %v", order, got, want)
		}
	}
}

func TestStatistics(t *testing.T) {
	data := array.New(array.Float64, region.New([]int{0, 0}, []int{13, 17}))
	fz := fuzz.NewWithSeed(31415)
	var (
		sum, sumsq float64
		lo, hi     = math.Inf(1), math.Inf(-1)
	)
	for i := 0; i < data.Len(); i++ {
		var v int16
		fz.Fuzz(&v)
		x := float64(v) / 16
		data.Put(i, x)
		sum += x
		sumsq += x * x
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	acc, err := NewPool(4).Reduce(context.Background(), data, data.Region(), NewStatistics)
	assert.NoError(t, err)
	s := acc.(*Statistics)
	n := float64(data.Len())
	expect.EQ(t, s.Count, data.Len())
	expect.EQ(t, s.Min, lo)
	expect.EQ(t, s.Max, hi)
	if got, want := s.Mean(), sum/n; math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Variance(), (sumsq-sum*sum/n)/(n-1); math.Abs(got-want) > 1e-6 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStatisticsIdentity(t *testing.T) {
	s := NewStatistics().(*Statistics)
	s.Merge(NewStatistics())
	expect.EQ(t, s.Count, 0)
	expect.True(t, math.IsNaN(s.Mean()))
	expect.EQ(t, s.Variance(), 0.0)
}

type failingAcc struct{ err error }

func (f *failingAcc) Scan(ctx context.Context, _ *array.Array, r region.Region) error {
	if r.Index[0] == 0 {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (*failingAcc) Merge(Accumulator) {}

func TestReduceError(t *testing.T) {
	errScan := errors.New("scan failed")
	data := array.New(array.Uint8, region.New([]int{0}, []int{64}))
	_, err := NewPool(8).Reduce(context.Background(), data, data.Region(), func() Accumulator {
		return &failingAcc{errScan}
	})
	if got, want := err, errScan; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSlot(t *testing.T) {
	var s Slot
	_, ok := s.Get()
	expect.False(t, ok)
	s.Set(1)
	v, ok := s.Get()
	expect.True(t, ok)
	expect.EQ(t, v, 1)
	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		s.Set(2)
	}()
	s.Reset()
	s.Set(3)
	v, _ = s.Get()
	expect.EQ(t, v, 3)
}
