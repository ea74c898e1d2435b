// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/region"
	"github.com/grailbio/bigarray/stats"
	"github.com/grailbio/bigarray/stream"
)

// Network is an in-process transport for ranks that run as
// goroutines in the same process. Messages are copied on send, so
// ranks share no memory through the network.
type Network struct {
	size  int
	boxes []*mailbox
	stats *stats.Map

	mu    sync.Mutex
	fails map[[2]int]error
}

// NewNetwork returns a network connecting size ranks.
func NewNetwork(size int) *Network {
	if size <= 0 {
		panic(fmt.Sprintf("exchange.NewNetwork: invalid size %d", size))
	}
	n := &Network{
		size:  size,
		boxes: make([]*mailbox, size),
		stats: stats.NewMap(),
		fails: make(map[[2]int]error),
	}
	for i := range n.boxes {
		n.boxes[i] = newMailbox()
	}
	return n
}

// Size returns the number of ranks connected by the network.
func (n *Network) Size() int { return n.size }

// Transport returns the transport endpoint of the given rank.
func (n *Network) Transport(rank int) Transport {
	if rank < 0 || rank >= n.size {
		panic(fmt.Sprintf("exchange.Network.Transport: rank %d out of range [0, %d)", rank, n.size))
	}
	return &endpoint{n, rank}
}

// Fail causes every subsequent send from rank from to rank to to fail
// with err. A nil err restores the link.
func (n *Network) Fail(from, to int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.fails, [2]int{from, to})
		return
	}
	n.fails[[2]int{from, to}] = err
}

// Close fails every pending and future receive on the network.
func (n *Network) Close() {
	for _, box := range n.boxes {
		box.Close(errors.E(errors.Unavailable, "exchange: network closed"))
	}
}

// Stats returns the number of messages and bytes sent so far over
// the network.
func (n *Network) Stats() stats.Values {
	return n.stats.Snapshot()
}

// Pending returns the number of messages that were delivered to rank
// but not yet received.
func (n *Network) Pending(rank int) int {
	return n.boxes[rank].Pending()
}

type endpoint struct {
	n    *Network
	rank int
}

func (e *endpoint) Rank() int { return e.rank }

func (e *endpoint) Size() int { return e.n.size }

func (e *endpoint) Send(ctx context.Context, to int, tag uint64, p []byte) error {
	if to < 0 || to >= e.n.size || to == e.rank {
		return errors.E(errors.Invalid, fmt.Sprintf("exchange: rank %d cannot send to rank %d", e.rank, to))
	}
	e.n.mu.Lock()
	err := e.n.fails[[2]int{e.rank, to}]
	e.n.mu.Unlock()
	if err != nil {
		return err
	}
	q := make([]byte, len(p))
	copy(q, p)
	e.n.boxes[to].Put(e.rank, tag, q)
	e.n.stats.Int("messages").Add(1)
	e.n.stats.Int("bytes").Add(int64(len(p)))
	log.Debug.Printf("exchange: network: %d -> %d tag %x: %d bytes", e.rank, to, tag, len(p))
	return nil
}

func (e *endpoint) Recv(ctx context.Context, from int, tag uint64) ([]byte, error) {
	if from < 0 || from >= e.n.size || from == e.rank {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("exchange: rank %d cannot receive from rank %d", e.rank, from))
	}
	return e.n.boxes[e.rank].Take(ctx, from, tag)
}

// RunLocal runs one exchange pass over ranks that execute as
// goroutines connected by an in-process network. Rank i desires
// region desired[i] and computes its share with the source returned
// by source(i, len(desired)). RunLocal returns the result of every
// rank. If any rank fails, RunLocal returns the error of the rank
// that caused the pass to end.
func RunLocal(ctx context.Context, k array.Kind, desired []region.Region, source SourceFunc, opts ...Option) ([]*Result, error) {
	var (
		n       = len(desired)
		net     = NewNetwork(n)
		results = make([]*Result, n)
		errs    = make([]error, n)
		wg      sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = runRank(ctx, net.Transport(i), k, desired[i], source(i, n), opts)
			if errs[i] != nil && errors.Recover(errs[i]).Severity == errors.Fatal {
				// Release peers still waiting on this rank.
				net.Close()
			}
		}(i)
	}
	wg.Wait()
	var first error
	for _, err := range errs {
		switch {
		case err == nil:
		case err != ErrPeerAborted:
			return results, err
		case first == nil:
			first = err
		}
	}
	return results, first
}

func runRank(ctx context.Context, t Transport, k array.Kind, desired region.Region, src stream.DataSource, opts []Option) (*Result, error) {
	comm, topo, err := Join(ctx, t, k)
	if err != nil {
		return nil, err
	}
	return New(comm, topo, opts...).Run(ctx, desired, src)
}
