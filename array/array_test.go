// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package array

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigarray/region"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func ramp(idx []int) float64 {
	v := 0
	for i, x := range idx {
		v = v*100 + x + i
	}
	return float64(v % 120)
}

func TestKinds(t *testing.T) {
	for k := Uint8; k < maxKind; k++ {
		parsed, err := ParseKind(k.String())
		assert.NoError(t, err)
		expect.EQ(t, parsed, k)
		a := New(k, region.New([]int{0}, []int{4}))
		a.Put(2, 42)
		expect.EQ(t, a.Get(2), 42.0)
		expect.True(t, a.Truthy(2))
		expect.False(t, a.Truthy(1))
	}
	_, err := ParseKind("complex128")
	expect.NotNil(t, err)
	expect.False(t, Invalid.Valid())
}

func TestExtractPaste(t *testing.T) {
	full := region.New([]int{-2, 3, 0}, []int{6, 5, 3})
	a := New(Int32, full)
	a.Fill(ramp)

	sub := region.New([]int{0, 4, 1}, []int{3, 2, 2})
	b, err := a.Extract(sub)
	assert.NoError(t, err)
	expect.True(t, b.Region().Equal(sub))
	sub.Lines(func(start []int) bool {
		idx := append([]int(nil), start...)
		for i := 0; i < sub.Size[0]; i++ {
			if got, want := b.At(idx), ramp(idx); got != want {
				t.Errorf("%v: got %v, want %v", idx, got, want)
			}
			idx[0]++
		}
		return true
	})

	c := New(Int32, full)
	assert.NoError(t, c.Paste(b, sub))
	full.Lines(func(start []int) bool {
		idx := append([]int(nil), start...)
		for i := 0; i < full.Size[0]; i++ {
			want := 0.0
			if sub.Contains(idx) {
				want = ramp(idx)
			}
			if got := c.At(idx); got != want {
				t.Errorf("%v: got %v, want %v", idx, got, want)
			}
			idx[0]++
		}
		return true
	})
}

func TestExtractOutside(t *testing.T) {
	a := New(Float32, region.New([]int{0, 0}, []int{4, 4}))
	_, err := a.Extract(region.New([]int{2, 2}, []int{4, 1}))
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
	b := New(Float64, region.New([]int{0, 0}, []int{4, 4}))
	err = a.Paste(b, b.Region())
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}

func TestCodec(t *testing.T) {
	fz := fuzz.NewWithSeed(12345)
	for k := Uint8; k < maxKind; k++ {
		a := New(k, region.New([]int{3, -1}, []int{7, 3}))
		for i := 0; i < a.Len(); i++ {
			var v int8
			fz.Fuzz(&v)
			a.Put(i, float64(v))
		}
		p, err := Marshal(a)
		assert.NoError(t, err)
		b, err := Unmarshal(p, k)
		assert.NoError(t, err)
		expect.True(t, Equal(a, b), "kind ", k)

		_, err = Unmarshal(p, otherKind(k))
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("%v: got %v, want invalid", k, err)
		}
	}
}

func TestCodecEmpty(t *testing.T) {
	a := New(Float32, region.Empty(3))
	p, err := Marshal(a)
	assert.NoError(t, err)
	b, err := Unmarshal(p, Invalid)
	assert.NoError(t, err)
	expect.EQ(t, b.Len(), 0)
	expect.True(t, b.Region().IsEmpty())
}

func TestCodecCorrupt(t *testing.T) {
	a := New(Float64, region.New([]int{0}, []int{16}))
	a.Fill(ramp)
	p, err := Marshal(a)
	assert.NoError(t, err)
	p[len(p)-10] ^= 0xff
	_, err = Unmarshal(p, Float64)
	if !errors.Is(errors.Integrity, err) {
		t.Errorf("got %v, want integrity error", err)
	}
	_, err = Unmarshal(p[:3], Float64)
	if !errors.Is(errors.Integrity, err) {
		t.Errorf("got %v, want integrity error", err)
	}
}

func TestCodecNegativeSize(t *testing.T) {
	// Six elements, as the product of the sizes claims.
	a := &Array{
		kind:   Float64,
		region: region.Region{Index: []int{0, 0}, Size: []int{-2, -3}},
		data:   make([]byte, 6*Float64.Width()),
	}
	p, err := Marshal(a)
	assert.NoError(t, err)
	_, err = Unmarshal(p, Float64)
	if !errors.Is(errors.Integrity, err) {
		t.Errorf("got %v, want integrity error", err)
	}
}

func otherKind(k Kind) Kind {
	if k == Float64 {
		return Uint8
	}
	return k + 1
}
