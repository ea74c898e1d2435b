// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stream

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/reduce"
	"github.com/grailbio/bigarray/region"
)

// ReduceSink is a Sink that reduces every chunk of a pass with a
// threaded reducer, and publishes the merged result when the pass
// completes.
type ReduceSink struct {
	src    DataSource
	pool   *reduce.Pool
	newAcc func() reduce.Accumulator

	acc    reduce.Accumulator
	output reduce.Slot
}

// NewReduceSink returns a sink that reduces the chunks computed by
// src on pool, with accumulators created by newAcc.
func NewReduceSink(src DataSource, pool *reduce.Pool, newAcc func() reduce.Accumulator) *ReduceSink {
	return &ReduceSink{src: src, pool: pool, newAcc: newAcc}
}

// NewBoundSink returns a sink that computes the bounding region of
// the nonzero elements of src.
func NewBoundSink(src DataSource, pool *reduce.Pool) *ReduceSink {
	return NewReduceSink(src, pool, reduce.NewBound)
}

// NewStatisticsSink returns a sink that computes summary statistics
// of the elements of src.
func NewStatisticsSink(src DataSource, pool *reduce.Pool) *ReduceSink {
	return NewReduceSink(src, pool, reduce.NewStatistics)
}

// BeforeStreamedGenerateData implements Sink.
func (s *ReduceSink) BeforeStreamedGenerateData(ctx context.Context) error {
	s.output.Reset()
	s.acc = s.newAcc()
	return nil
}

// StreamedGenerateData implements Sink.
func (s *ReduceSink) StreamedGenerateData(ctx context.Context, chunk int, r region.Region) error {
	part, err := s.pool.Reduce(ctx, s.src.Data(), r, s.newAcc)
	if err != nil {
		return err
	}
	s.acc.Merge(part)
	return nil
}

// AfterStreamedGenerateData implements Sink.
func (s *ReduceSink) AfterStreamedGenerateData(ctx context.Context) error {
	s.output.Set(s.acc)
	return nil
}

// Result returns the result of the last completed pass, and whether
// one is available.
func (s *ReduceSink) Result() (reduce.Accumulator, bool) {
	v, ok := s.output.Get()
	if !ok {
		return nil, false
	}
	return v.(reduce.Accumulator), true
}

// Partial returns the accumulation of the most recent pass, whether or
// not that pass completed. After a failed or aborted pass it holds the
// merged results of the chunks processed before the pass ended.
func (s *ReduceSink) Partial() reduce.Accumulator {
	return s.acc
}

// Bound returns the bounding region computed by the last completed
// pass of a sink created by NewBoundSink.
func (s *ReduceSink) Bound() (region.Region, bool) {
	acc, ok := s.Result()
	if !ok {
		return region.Region{}, false
	}
	return acc.(*reduce.Bound).Region(), true
}

// Statistics returns the statistics computed by the last completed
// pass of a sink created by NewStatisticsSink.
func (s *ReduceSink) Statistics() (*reduce.Statistics, bool) {
	acc, ok := s.Result()
	if !ok {
		return nil, false
	}
	return acc.(*reduce.Statistics), true
}

// Streamed returns a DataSource that computes requested regions of src
// in chunks: each requested region is divided into (up to) divisions
// chunks, each of which is computed by src in turn and copied into
// the returned source's output. This bounds the size of the regions
// that src is asked to produce. Streamed panics if divisions is not
// positive.
func Streamed(src DataSource, divisions int, opts ...Option) DataSource {
	if divisions <= 0 {
		panic("stream.Streamed: divisions <= 0")
	}
	return &streamed{src: src, divisions: divisions, opts: opts}
}

type streamed struct {
	src       DataSource
	divisions int
	opts      []Option

	req region.Region
	out *array.Array
}

func (s *streamed) FullExtent() region.Region { return s.src.FullExtent() }

func (s *streamed) Request(r region.Region) { s.req = r.Copy() }

func (s *streamed) Compute(ctx context.Context) error {
	s.out = nil
	view := &view{Source: s.src, extent: s.req}
	sink := &pasteSink{src: s.src, s: s}
	opts := append([]Option{Divisions(s.divisions)}, s.opts...)
	outcome, err := New(sink, view, opts...).Run(ctx)
	switch {
	case err != nil:
		return err
	case outcome == Aborted:
		return errors.E(errors.Canceled, "stream: streamed computation aborted")
	}
	return nil
}

func (s *streamed) Data() *array.Array { return s.out }

// A view restricts the full extent of a source.
type view struct {
	Source
	extent region.Region
}

func (v *view) FullExtent() region.Region { return v.extent }

// PasteSink copies each chunk into the output of a streamed source.
type pasteSink struct {
	src DataSource
	s   *streamed
}

func (p *pasteSink) BeforeStreamedGenerateData(ctx context.Context) error { return nil }

func (p *pasteSink) StreamedGenerateData(ctx context.Context, chunk int, r region.Region) error {
	data := p.src.Data()
	if p.s.out == nil {
		p.s.out = array.New(data.Kind(), p.s.req)
	}
	return p.s.out.Paste(data, r)
}

func (p *pasteSink) AfterStreamedGenerateData(ctx context.Context) error { return nil }
