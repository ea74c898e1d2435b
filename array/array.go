// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package array implements dense N-dimensional arrays of fixed-width
// numeric elements laid out over a region. Arrays are the unit of data
// that bigarray sources produce and that ranks exchange with each
// other.
//
// Elements are stored in their little-endian wire representation,
// with dimension 0 contiguous, so that lines of elements can be
// extracted, pasted and transmitted without conversion.
package array

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigarray/region"
)

// An Array stores one element of a fixed Kind for every index of its
// region.
type Array struct {
	kind   Kind
	region region.Region
	data   []byte
}

// New returns a zero-valued array of kind k covering r.
func New(k Kind, r region.Region) *Array {
	if !k.Valid() {
		panic(fmt.Sprintf("array.New: invalid kind %v", k))
	}
	return &Array{
		kind:   k,
		region: r.Copy(),
		data:   make([]byte, r.NumElements()*k.Width()),
	}
}

// Kind returns the element kind of the array.
func (a *Array) Kind() Kind { return a.kind }

// Region returns the region covered by the array. The returned value
// must not be modified.
func (a *Array) Region() region.Region { return a.region }

// Len returns the number of elements in the array.
func (a *Array) Len() int { return len(a.data) / a.kind.Width() }

// Bytes returns the array's underlying storage.
func (a *Array) Bytes() []byte { return a.data }

// Get returns the i'th element in layout order.
func (a *Array) Get(i int) float64 {
	w := a.kind.Width()
	return a.kind.get(a.data[i*w : (i+1)*w])
}

// Put sets the i'th element in layout order to v, converted to the
// array's kind.
func (a *Array) Put(i int, v float64) {
	w := a.kind.Width()
	a.kind.put(a.data[i*w:(i+1)*w], v)
}

// Truthy tells whether the i'th element in layout order is nonzero.
func (a *Array) Truthy(i int) bool {
	w := a.kind.Width()
	return !a.kind.isZero(a.data[i*w : (i+1)*w])
}

// At returns the element at index idx, which must be inside the
// array's region.
func (a *Array) At(idx []int) float64 {
	return a.Get(a.region.Offset(idx))
}

// Set sets the element at index idx, which must be inside the
// array's region.
func (a *Array) Set(idx []int, v float64) {
	a.Put(a.region.Offset(idx), v)
}

// Fill sets every element of the array to fn(idx).
func (a *Array) Fill(fn func(idx []int) float64) {
	a.FillRegion(a.region, fn)
}

// FillRegion sets every element of r, which must be inside the
// array's region, to fn(idx). The index passed to fn must not be
// retained.
func (a *Array) FillRegion(r region.Region, fn func(idx []int) float64) {
	idx := make([]int, r.Dim())
	r.Lines(func(start []int) bool {
		copy(idx, start)
		off := a.region.Offset(start)
		for i := 0; i < r.Size[0]; i++ {
			idx[0] = start[0] + i
			a.Put(off+i, fn(idx))
		}
		return true
	})
}

// Extract returns a new array containing the elements of a in region
// r. Extract fails if r is not inside a's region.
func (a *Array) Extract(r region.Region) (*Array, error) {
	if !a.region.IsInside(r) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("array.Extract: region %v is not inside %v", r, a.region))
	}
	b := New(a.kind, r)
	copyLines(b, a, r)
	return b, nil
}

// Paste copies the elements of src in region r into a. Paste fails
// if the kinds differ, or if r is not inside both regions.
func (a *Array) Paste(src *Array, r region.Region) error {
	if src.kind != a.kind {
		return errors.E(errors.Invalid,
			fmt.Sprintf("array.Paste: kind mismatch: %v != %v", src.kind, a.kind))
	}
	if !src.region.IsInside(r) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("array.Paste: region %v is not inside source %v", r, src.region))
	}
	if !a.region.IsInside(r) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("array.Paste: region %v is not inside destination %v", r, a.region))
	}
	copyLines(a, src, r)
	return nil
}

// Equal tells whether a and b have the same kind, region and
// contents.
func Equal(a, b *Array) bool {
	if a.kind != b.kind || !a.region.Equal(b.region) || len(a.data) != len(b.data) {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}

// copyLines copies region r, line by line, from src to dst.
func copyLines(dst, src *Array, r region.Region) {
	if r.IsEmpty() {
		return
	}
	w := dst.kind.Width()
	n := r.Size[0] * w
	r.Lines(func(start []int) bool {
		d, s := dst.region.Offset(start)*w, src.region.Offset(start)*w
		copy(dst.data[d:d+n], src.data[s:s+n])
		return true
	})
}

// String returns a short description of the array.
func (a *Array) String() string {
	return fmt.Sprintf("array(%v %v)", a.kind, a.region)
}
