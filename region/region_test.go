// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package region

import (
	"fmt"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/testutil/expect"
)

// fuzzRegion returns a random region of between 1 and 4 dimensions
// whose sizes are small enough to enumerate.
func fuzzRegion(fz *fuzz.Fuzzer) Region {
	var (
		dim  uint8
		vals [8]int8
	)
	fz.Fuzz(&dim)
	fz.Fuzz(&vals)
	d := 1 + int(dim)%4
	r := Empty(d)
	for i := 0; i < d; i++ {
		r.Index[i] = int(vals[i])
		r.Size[i] = int(uint8(vals[d+i])) % 9
	}
	return r
}

// elements returns the indices of every element of r, formatted as
// strings.
func elements(r Region) []string {
	var elems []string
	r.Lines(func(start []int) bool {
		idx := append([]int(nil), start...)
		for i := 0; i < r.Size[0]; i++ {
			elems = append(elems, fmt.Sprint(idx))
			idx[0]++
		}
		return true
	})
	return elems
}

func TestNumElements(t *testing.T) {
	for _, c := range []struct {
		r     Region
		n     int
		lines int
	}{
		{New([]int{0, 0}, []int{10, 7}), 70, 7},
		{New([]int{3}, []int{0}), 0, 0},
		{New([]int{1, 2, 3}, []int{2, 3, 4}), 24, 12},
		{New([]int{1, 2}, []int{5, 0}), 0, 0},
		{Region{}, 0, 0},
	} {
		if got, want := c.r.NumElements(), c.n; got != want {
			t.Errorf("%v: got %v, want %v", c.r, got, want)
		}
		if got, want := c.r.NumLines(), c.lines; got != want {
			t.Errorf("%v: got %v, want %v", c.r, got, want)
		}
		if got, want := len(elements(c.r)), c.n; got != want {
			t.Errorf("%v: got %v, want %v", c.r, got, want)
		}
	}
}

func TestCrop(t *testing.T) {
	r := New([]int{0, 0}, []int{10, 10})
	c, ok := Crop(r, New([]int{5, -3}, []int{10, 5}))
	expect.True(t, ok)
	expect.True(t, c.Equal(New([]int{5, 0}, []int{5, 2})))

	_, ok = Crop(r, New([]int{10, 0}, []int{3, 3}))
	expect.False(t, ok)
	_, ok = Crop(r, New([]int{2, 2}, []int{0, 3}))
	expect.False(t, ok)
}

func TestUnion(t *testing.T) {
	var (
		a = New([]int{0, 5}, []int{2, 2})
		b = New([]int{4, 1}, []int{1, 1})
		e = New([]int{9, 9}, []int{0, 4})
	)
	expect.True(t, Union(a, b).Equal(New([]int{0, 1}, []int{5, 6})))
	expect.True(t, Union(a, e).Equal(a))
	expect.True(t, Union(e, b).Equal(b))
	expect.True(t, Union(e, e).IsEmpty())
}

func TestOffset(t *testing.T) {
	r := New([]int{1, 2, 3}, []int{2, 3, 4})
	var i int
	r.Lines(func(start []int) bool {
		if got, want := r.Offset(start), i*r.Size[0]; got != want {
			t.Errorf("%v: got %v, want %v", start, got, want)
		}
		i++
		return true
	})
	if got, want := i, r.NumLines(); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitExample(t *testing.T) {
	r := New([]int{0, 0}, []int{10, 7})
	n := SlowDimension.NumSplits(r, 4)
	if got, want := n, 4; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	sizes := []int{2, 2, 2, 1}
	for i := 0; i < n; i++ {
		piece := SlowDimension.Split(i, n, r)
		if got, want := piece.Size[1], sizes[i]; got != want {
			t.Errorf("piece %d: got %v, want %v", i, got, want)
		}
		if got, want := piece.Size[0], 10; got != want {
			t.Errorf("piece %d: got %v, want %v", i, got, want)
		}
	}
}

func TestSplitSkipsUnitDimensions(t *testing.T) {
	r := New([]int{0, 0, 0}, []int{4, 6, 1})
	pieces := Regions(SlowDimension, r, 3)
	if got, want := len(pieces), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, p := range pieces {
		if got, want := p.Size[1], 2; got != want {
			t.Errorf("piece %d: got %v, want %v", i, got, want)
		}
	}
}

func TestSplitInfeasible(t *testing.T) {
	r := New([]int{0}, []int{3})
	if got, want := SlowDimension.NumSplits(r, 100), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := SlowDimension.NumSplits(r, 0), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// 10 elements asked in 4 pieces: slabs of 3, so 4 pieces.
	r = New([]int{0}, []int{10})
	if got, want := SlowDimension.NumSplits(r, 4), 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// 10 elements asked in 6 pieces: slabs of 2, so only 5 pieces.
	if got, want := SlowDimension.NumSplits(r, 6), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := SlowDimension.NumSplits(Empty(2), 6), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	SlowDimension.Split(4, 4, New([]int{0}, []int{10}))
}

func TestSplitCoverage(t *testing.T) {
	fz := fuzz.NewWithSeed(31415)
	fz.NilChance(0)
	for iter := 0; iter < 500; iter++ {
		r := fuzzRegion(fz)
		var k uint8
		fz.Fuzz(&k)
		requested := 1 + int(k)%12
		n := SlowDimension.NumSplits(r, requested)
		if n > requested || n < 1 {
			t.Fatalf("%v: %d splits for a request of %d", r, n, requested)
		}
		want := make(map[string]bool)
		for _, e := range elements(r) {
			want[e] = true
		}
		got := make(map[string]int)
		for i := 0; i < n; i++ {
			piece := SlowDimension.Split(i, n, r)
			if !r.IsInside(piece) {
				t.Fatalf("%v: piece %v is not inside", r, piece)
			}
			if piece.IsEmpty() && !r.IsEmpty() {
				t.Fatalf("%v: piece %d of %d is empty", r, i, n)
			}
			for _, e := range elements(piece) {
				got[e]++
			}
		}
		if len(got) != len(want) {
			t.Fatalf("%v: pieces cover %d elements, want %d", r, len(got), len(want))
		}
		for e, count := range got {
			if !want[e] {
				t.Fatalf("%v: element %s is outside the region", r, e)
			}
			if count != 1 {
				t.Fatalf("%v: element %s is covered %d times", r, e, count)
			}
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	fz := fuzz.NewWithSeed(12345)
	fz.NilChance(0)
	for iter := 0; iter < 100; iter++ {
		r := fuzzRegion(fz)
		a, b := Regions(SlowDimension, r, 5), Regions(SlowDimension, r.Copy(), 5)
		if got, want := len(a), len(b); got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				t.Errorf("%v: piece %d: %v != %v", r, i, a[i], b[i])
			}
		}
	}
}
