// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stream

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/region"
)

// A Source is an upstream collaborator that can produce any
// sub-region of its dataset on demand. Sources follow a synchronous
// pull contract: after Compute returns successfully, data for the
// region passed to the most recent call to Request is valid, and it
// remains valid until the next call to Request.
type Source interface {
	// FullExtent returns the region covered by the whole dataset.
	FullExtent() region.Region
	// Request sets the region to be produced by the next Compute.
	Request(r region.Region)
	// Compute (re)computes the requested region, blocking until it is
	// available. Sources signal a cooperative abort by returning an
	// error of kind errors.Canceled.
	Compute(ctx context.Context) error
}

// A DataSource is a Source whose computed data can be read.
type DataSource interface {
	Source
	// Data returns an array covering (at least) the region that was
	// last computed.
	Data() *array.Array
}

// ArraySource is a DataSource backed by an in-memory array.
type ArraySource struct {
	a   *array.Array
	req region.Region
}

// NewArraySource returns a source that serves regions of a.
func NewArraySource(a *array.Array) *ArraySource {
	return &ArraySource{a: a, req: a.Region()}
}

// FullExtent implements Source.
func (s *ArraySource) FullExtent() region.Region { return s.a.Region() }

// Request implements Source.
func (s *ArraySource) Request(r region.Region) { s.req = r }

// Compute implements Source. It fails if the requested region is not
// inside the array.
func (s *ArraySource) Compute(ctx context.Context) error {
	if !s.a.Region().IsInside(s.req) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("stream.ArraySource: requested region %v outside of %v", s.req, s.a.Region()))
	}
	return nil
}

// Data implements DataSource.
func (s *ArraySource) Data() *array.Array { return s.a }

// FuncSource is a DataSource that computes each element of the
// requested region from its index. It materializes only the
// requested region.
type FuncSource struct {
	kind   array.Kind
	extent region.Region
	fn     func(idx []int) float64

	req  region.Region
	data *array.Array

	computes, elements int64
}

// NewFuncSource returns a source of elements of kind k over extent,
// computed by fn.
func NewFuncSource(k array.Kind, extent region.Region, fn func(idx []int) float64) *FuncSource {
	return &FuncSource{kind: k, extent: extent.Copy(), fn: fn, req: extent.Copy()}
}

// FullExtent implements Source.
func (s *FuncSource) FullExtent() region.Region { return s.extent }

// Request implements Source.
func (s *FuncSource) Request(r region.Region) { s.req = r.Copy() }

// Compute implements Source.
func (s *FuncSource) Compute(ctx context.Context) error {
	if !s.extent.IsInside(s.req) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("stream.FuncSource: requested region %v outside of %v", s.req, s.extent))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data := array.New(s.kind, s.req)
	data.Fill(s.fn)
	s.data = data
	atomic.AddInt64(&s.computes, 1)
	atomic.AddInt64(&s.elements, int64(s.req.NumElements()))
	return nil
}

// Data implements DataSource.
func (s *FuncSource) Data() *array.Array { return s.data }

// Stats returns the number of calls to Compute and the total number
// of elements computed so far.
func (s *FuncSource) Stats() (computes, elements int64) {
	return atomic.LoadInt64(&s.computes), atomic.LoadInt64(&s.elements)
}
