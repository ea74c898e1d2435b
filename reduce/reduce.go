// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package reduce implements threaded reductions over array regions.
// A region is split into as many pieces as there are workers; each
// worker scans its piece into a private accumulator without locking,
// and the per-worker accumulators are then merged under a single lock.
package reduce

import (
	"context"
	"runtime"
	"sync"

	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/region"
	"golang.org/x/sync/errgroup"
)

// An Accumulator represents the partial result of a reduction. A
// freshly created accumulator is the identity of the reduction.
//
// Merge must be associative and commutative so that the result of a
// reduction does not depend on how the region was divided among
// workers.
type Accumulator interface {
	// Scan accumulates the elements of data in region r, which is
	// inside data's region.
	Scan(ctx context.Context, data *array.Array, r region.Region) error
	// Merge folds the partial result other into the receiver. Other is
	// an accumulator created by the same factory.
	Merge(other Accumulator)
}

// A Pool runs reductions over a fixed number of workers.
type Pool struct {
	p        int
	splitter region.Splitter
	limiter  *limiter.Limiter
}

// NewPool returns a pool with p workers. If p <= 0, the pool is sized
// to runtime.GOMAXPROCS.
func NewPool(p int) *Pool {
	if p <= 0 {
		p = runtime.GOMAXPROCS(0)
	}
	pool := &Pool{
		p:        p,
		splitter: region.SlowDimension,
		limiter:  limiter.New(),
	}
	pool.limiter.Release(p)
	return pool
}

// WithSplitter sets the splitter used to divide regions among
// workers.
func (p *Pool) WithSplitter(s region.Splitter) *Pool {
	p.splitter = s
	return p
}

// NumWorkers returns the number of workers in the pool.
func (p *Pool) NumWorkers() int { return p.p }

// Reduce scans region r of data across the pool's workers and
// returns the merged result. Each worker's accumulator is created by
// newAcc. Reducing an empty region returns a fresh accumulator.
//
// Reductions running concurrently on the same pool share its
// workers. If any scan fails, the remaining scans are canceled and
// the first error is returned.
func (p *Pool) Reduce(ctx context.Context, data *array.Array, r region.Region, newAcc func() Accumulator) (Accumulator, error) {
	var (
		mu     sync.Mutex
		result = newAcc()
	)
	if r.IsEmpty() {
		return result, nil
	}
	n := p.splitter.NumSplits(r, p.p)
	log.Debug.Printf("reduce: scanning %v in %d pieces", r, n)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		piece := p.splitter.Split(i, n, r)
		g.Go(func() error {
			if err := p.limiter.Acquire(ctx, 1); err != nil {
				return err
			}
			defer p.limiter.Release(1)
			acc := newAcc()
			if err := acc.Scan(ctx, data, piece); err != nil {
				return err
			}
			mu.Lock()
			result.Merge(acc)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
