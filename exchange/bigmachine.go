// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/region"
	"github.com/grailbio/bigarray/stats"
	"github.com/grailbio/bigarray/stream"
	"github.com/grailbio/bigmachine"
	"golang.org/x/sync/errgroup"
)

// dialPolicy is the retry policy used when dialing peers.
var dialPolicy = retry.Backoff(time.Second, 5*time.Second, 1.5)

const maxDialRetries = 5

// A SourceFunc constructs the data source of a rank. Sources cannot
// be shipped to remote machines; instead they are registered by name
// in every binary, typically from an init function, and constructed
// on the machine that runs the rank.
type SourceFunc func(rank, size int) stream.DataSource

var (
	sourcesMu sync.Mutex
	sources   = make(map[string]SourceFunc)
)

// RegisterSource registers a source constructor under the given
// name. RegisterSource panics if the name is already registered.
func RegisterSource(name string, fn SourceFunc) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	if _, ok := sources[name]; ok {
		panic(fmt.Sprintf("exchange.RegisterSource: source %q already registered", name))
	}
	sources[name] = fn
}

func lookupSource(name string) (SourceFunc, bool) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	fn, ok := sources[name]
	return fn, ok
}

// JoinRequest is the argument to Rank.Join.
type JoinRequest struct {
	// Rank is the rank assigned to the machine.
	Rank int
	// Addrs holds the address of every rank's machine.
	Addrs []string
	// Kind is the element kind of the exchange.
	Kind array.Kind
}

// Message is the argument to Rank.Deliver.
type Message struct {
	From    int
	Tag     uint64
	Payload []byte
}

// ExchangeRequest is the argument to Rank.Exchange.
type ExchangeRequest struct {
	// Source names the registered source computed by the rank.
	Source string
	// Desired is the region desired by the rank.
	Desired region.Region
	// Divisions is the number of chunks in which the rank computes
	// its input. Values <= 1 compute the input at once.
	Divisions int
}

// ExchangeReply is the reply of Rank.Exchange.
type ExchangeReply struct {
	// Output is the encoded output array of the rank.
	Output []byte
	// Degraded lists the parts of the output that are missing.
	Degraded []region.Region
	// Stats holds the counters of the pass.
	Stats stats.Values
}

// Rank is the bigmachine service that runs one rank of an exchange.
// Peers deliver messages to each other by calling Rank.Deliver.
type Rank struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}

	b   *bigmachine.B
	box *mailbox

	mu       sync.Mutex
	exchange *Exchange
	sources  map[string]stream.DataSource
}

// Init implements bigmachine.Service.
func (r *Rank) Init(b *bigmachine.B) error {
	r.b = b
	r.box = newMailbox()
	r.sources = make(map[string]stream.DataSource)
	return nil
}

// Join dials every peer and performs the collective handshake of the
// exchange. The driver calls Join on every rank concurrently.
func (r *Rank) Join(ctx context.Context, req JoinRequest, _ *struct{}) error {
	machines := make([]*bigmachine.Machine, len(req.Addrs))
	for i, addr := range req.Addrs {
		if i == req.Rank {
			continue
		}
		m, err := dial(ctx, r.b, addr)
		if err != nil {
			return err
		}
		machines[i] = m
	}
	t := &machineTransport{rank: req.Rank, machines: machines, box: r.box}
	comm, topo, err := Join(ctx, t, req.Kind)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.exchange = New(comm, topo)
	r.mu.Unlock()
	log.Printf("exchange: machine %s joined as %v", req.Addrs[req.Rank], topo)
	return nil
}

// Deliver posts a message from a peer into the rank's mailbox.
func (r *Rank) Deliver(ctx context.Context, m Message, _ *struct{}) error {
	r.box.Put(m.From, m.Tag, m.Payload)
	return nil
}

// Exchange runs one pass of the exchange. The driver calls Exchange
// on every rank concurrently.
func (r *Rank) Exchange(ctx context.Context, req ExchangeRequest, reply *ExchangeReply) error {
	r.mu.Lock()
	x := r.exchange
	src, ok := r.sources[req.Source]
	r.mu.Unlock()
	if x == nil {
		return errors.E(errors.Precondition, "exchange: rank has not joined")
	}
	if !ok {
		fn, found := lookupSource(req.Source)
		if !found {
			return errors.E(errors.NotExist, fmt.Sprintf("exchange: source %q not registered", req.Source))
		}
		topo := x.Topology()
		src = fn(topo.Rank, topo.Size)
		r.mu.Lock()
		r.sources[req.Source] = src
		r.mu.Unlock()
	}
	if req.Divisions > 1 {
		src = stream.Streamed(src, req.Divisions)
	}
	res, err := x.Run(ctx, req.Desired, src)
	if err != nil {
		return err
	}
	reply.Output, err = array.Marshal(res.Output)
	if err != nil {
		return err
	}
	reply.Degraded = res.Degraded
	reply.Stats = res.Stats
	return nil
}

func dial(ctx context.Context, b *bigmachine.B, addr string) (*bigmachine.Machine, error) {
	for retries := 0; ; retries++ {
		m, err := b.Dial(ctx, addr)
		if err == nil {
			return m, nil
		}
		if retries >= maxDialRetries {
			return nil, errors.E(errors.Fatal, fmt.Sprintf("exchange: dial %s", addr), err)
		}
		log.Printf("exchange: dial %s: %v; retrying", addr, err)
		if err := retry.Wait(ctx, dialPolicy, retries); err != nil {
			return nil, err
		}
	}
}

// machineTransport is a Transport whose peers are bigmachine
// machines running the Rank service.
type machineTransport struct {
	rank     int
	machines []*bigmachine.Machine
	box      *mailbox
}

func (t *machineTransport) Rank() int { return t.rank }

func (t *machineTransport) Size() int { return len(t.machines) }

func (t *machineTransport) Send(ctx context.Context, to int, tag uint64, p []byte) error {
	return t.machines[to].Call(ctx, "Rank.Deliver", Message{From: t.rank, Tag: tag, Payload: p}, nil)
}

func (t *machineTransport) Recv(ctx context.Context, from int, tag uint64) ([]byte, error) {
	return t.box.Take(ctx, from, tag)
}

// A Cluster is a set of machines running the Rank service, joined in
// an exchange.
type Cluster struct {
	machines []*bigmachine.Machine
}

// StartCluster starts n machines on b, each running one rank, and
// joins them into an exchange of elements of kind k.
func StartCluster(ctx context.Context, b *bigmachine.B, n int, k array.Kind) (*Cluster, error) {
	machines, err := b.Start(ctx, n, bigmachine.Services{"Rank": &Rank{}})
	if err != nil {
		return nil, err
	}
	addrs := make([]string, n)
	for i, m := range machines {
		<-m.Wait(bigmachine.Running)
		if err := m.Err(); err != nil {
			return nil, errors.E(fmt.Sprintf("exchange: machine %s failed to start", m.Addr), err)
		}
		addrs[i] = m.Addr
	}
	log.Printf("exchange: started %d ranks", n)
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range machines {
		i, m := i, m
		g.Go(func() error {
			return m.Call(gctx, "Rank.Join", JoinRequest{Rank: i, Addrs: addrs, Kind: k}, nil)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Cluster{machines: machines}, nil
}

// Size returns the number of ranks in the cluster.
func (c *Cluster) Size() int { return len(c.machines) }

// Run performs one exchange pass across the cluster. Rank i desires
// region desired[i] of the named source, computed in the given number
// of chunks. Run returns every rank's output and the cluster-wide
// pass counters.
func (c *Cluster) Run(ctx context.Context, source string, desired []region.Region, divisions int) ([]*array.Array, stats.Values, error) {
	if len(desired) != len(c.machines) {
		return nil, nil, errors.E(errors.Invalid,
			fmt.Sprintf("exchange: %d desired regions for %d ranks", len(desired), len(c.machines)))
	}
	replies := make([]ExchangeReply, len(c.machines))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range c.machines {
		i, m := i, m
		g.Go(func() error {
			req := ExchangeRequest{Source: source, Desired: desired[i], Divisions: divisions}
			return m.Call(gctx, "Rank.Exchange", req, &replies[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	var (
		outputs = make([]*array.Array, len(replies))
		total   = make(stats.Values)
	)
	for i, reply := range replies {
		if len(reply.Degraded) > 0 {
			log.Error.Printf("exchange: rank %d: degraded regions %v", i, reply.Degraded)
		}
		out, err := array.Unmarshal(reply.Output, array.Invalid)
		if err != nil {
			return nil, nil, err
		}
		outputs[i] = out
		total.Merge(reply.Stats)
	}
	return outputs, total, nil
}
