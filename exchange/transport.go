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
	"github.com/grailbio/base/sync/ctxsync"
)

// A Transport delivers byte messages between a fixed set of ranks,
// numbered 0 through Size()-1. Messages are matched by their sender
// and tag.
type Transport interface {
	// Rank returns the rank of the caller.
	Rank() int
	// Size returns the number of ranks.
	Size() int
	// Send delivers p to rank to under the given tag. Send does not
	// wait for the receiver to post a matching Recv. The caller may
	// not modify p after Send returns.
	Send(ctx context.Context, to int, tag uint64, p []byte) error
	// Recv blocks until a message sent by rank from under the given
	// tag is available, and returns it.
	Recv(ctx context.Context, from int, tag uint64) ([]byte, error)
}

type mailKey struct {
	from int
	tag  uint64
}

// A mailbox holds messages delivered to a rank until they are
// received.
type mailbox struct {
	mu   sync.Mutex
	cond *ctxsync.Cond
	msgs map[mailKey][][]byte
	err  error
}

func newMailbox() *mailbox {
	m := &mailbox{msgs: make(map[mailKey][][]byte)}
	m.cond = ctxsync.NewCond(&m.mu)
	return m
}

// Put delivers a message.
func (m *mailbox) Put(from int, tag uint64, p []byte) {
	m.mu.Lock()
	k := mailKey{from, tag}
	m.msgs[k] = append(m.msgs[k], p)
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Take removes and returns the oldest message with the given sender
// and tag, waiting for one to arrive if necessary.
func (m *mailbox) Take(ctx context.Context, from int, tag uint64) ([]byte, error) {
	k := mailKey{from, tag}
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.msgs[k]) == 0 {
		if m.err != nil {
			return nil, m.err
		}
		if err := m.cond.Wait(ctx); err != nil {
			return nil, err
		}
	}
	q := m.msgs[k]
	p := q[0]
	if len(q) == 1 {
		delete(m.msgs, k)
	} else {
		m.msgs[k] = q[1:]
	}
	return p, nil
}

// Close fails pending and future receives that have no matching
// message with err.
func (m *mailbox) Close(err error) {
	m.mu.Lock()
	m.err = err
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Pending returns the number of delivered messages that have not been
// received.
func (m *mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, q := range m.msgs {
		n += len(q)
	}
	return n
}

// Message tags are assigned by a Comm: every collective operation
// and every point-to-point phase consumes one sequence number, so
// that ranks that call them in the same order agree on tags without
// communicating.
const tagShift = 8

// A Comm is a communicator over a Transport. It sequences message
// tags and implements collective operations on top of point-to-point
// messages. Every rank must invoke the same collective operations in
// the same order. A Comm is not safe for concurrent use.
type Comm struct {
	t   Transport
	seq uint64
}

// NewComm returns a communicator over transport t.
func NewComm(t Transport) *Comm {
	return &Comm{t: t}
}

// Rank returns the caller's rank.
func (c *Comm) Rank() int { return c.t.Rank() }

// Size returns the number of ranks.
func (c *Comm) Size() int { return c.t.Size() }

// Transport returns the communicator's underlying transport.
func (c *Comm) Transport() Transport { return c.t }

// NextTag reserves the tag for the next collective step.
func (c *Comm) NextTag() uint64 {
	c.seq++
	return c.seq << tagShift
}

// AllGather sends p to every rank and returns the values contributed
// by all ranks, indexed by rank.
func (c *Comm) AllGather(ctx context.Context, p []byte) ([][]byte, error) {
	tag := c.NextTag()
	rank, size := c.Rank(), c.Size()
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		if err := c.t.Send(ctx, r, tag, p); err != nil {
			return nil, transportError(ctx, fmt.Sprintf("allgather: send to rank %d", r), err)
		}
	}
	out := make([][]byte, size)
	out[rank] = p
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		q, err := c.t.Recv(ctx, r, tag)
		if err != nil {
			return nil, transportError(ctx, fmt.Sprintf("allgather: receive from rank %d", r), err)
		}
		out[r] = q
	}
	return out, nil
}

// Broadcast distributes the root's value p to every rank. Ranks other
// than root ignore their argument and return the root's value.
func (c *Comm) Broadcast(ctx context.Context, root int, p []byte) ([]byte, error) {
	tag := c.NextTag()
	rank, size := c.Rank(), c.Size()
	if rank != root {
		q, err := c.t.Recv(ctx, root, tag)
		if err != nil {
			return nil, transportError(ctx, fmt.Sprintf("broadcast: receive from root %d", root), err)
		}
		return q, nil
	}
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		if err := c.t.Send(ctx, r, tag, p); err != nil {
			return nil, transportError(ctx, fmt.Sprintf("broadcast: send to rank %d", r), err)
		}
	}
	return p, nil
}

// Barrier returns after every rank has entered the barrier.
func (c *Comm) Barrier(ctx context.Context) error {
	_, err := c.AllGather(ctx, nil)
	return err
}

// transportError wraps a transport failure. Failures caused by the
// caller's context are reported as cancellations; all others are
// fatal to the pass.
func transportError(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return errors.E(errors.Canceled, "exchange: "+msg, err)
	}
	log.Error.Printf("exchange: %s: %v", msg, err)
	return errors.E(errors.Fatal, "exchange: "+msg, err)
}
