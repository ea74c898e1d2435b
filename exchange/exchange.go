// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exchange implements distributed demand-driven computation
// over a fixed set of cooperating ranks. In each pass, every rank
// declares the region it wants; the union of these regions is
// divided among the ranks, each rank computes its share from a
// stream.DataSource, and the ranks exchange the overlaps so that each
// ends up with exactly the region it asked for.
//
// Ranks communicate over a Transport. Network connects ranks running
// in a single process; the Rank bigmachine service connects ranks
// running on separate machines.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/region"
	"github.com/grailbio/bigarray/stats"
	"github.com/grailbio/bigarray/stream"
	"golang.org/x/sync/errgroup"
)

// ErrPeerAborted is returned by ranks whose own computation succeeded
// when a peer failed or aborted its computation in the same pass.
var ErrPeerAborted = errors.E(errors.Canceled, "exchange: a peer rank ended the pass")

// agreementTimeout bounds how long a rank whose context was canceled
// spends telling its peers that it is leaving the pass.
const agreementTimeout = 30 * time.Second

// Rank computation statuses, exchanged after local computation.
const (
	rankOk byte = iota
	rankAborted
	rankFailed
)

// Message markers for point-to-point data.
const (
	msgMissing byte = iota
	msgData
)

// An Option configures an Exchange.
type Option func(x *Exchange)

// WithSplitter sets the splitter that divides the union of the
// desired regions among ranks. Every rank must use the same splitter.
func WithSplitter(s region.Splitter) Option {
	return func(x *Exchange) {
		x.splitter = s
	}
}

// Status configures the exchange to report pass progress to s.
func Status(s *status.Status) Option {
	return func(x *Exchange) {
		x.status = s.Group(fmt.Sprintf("bigarray exchange rank %d", x.topo.Rank))
	}
}

// Result is the outcome of an exchange pass on one rank.
type Result struct {
	// Output covers exactly the region desired by the rank.
	Output *array.Array
	// Plan is the plan followed by the pass.
	Plan *Plan
	// Degraded lists the parts of Output that could not be filled in,
	// because a peer could not extract them or because they could not
	// be decoded or pasted. They are left zero-valued.
	Degraded []region.Region
	// Stats counts the messages, bytes and broadcasts of the pass.
	Stats stats.Values
}

// An Exchange runs passes for one rank.
type Exchange struct {
	comm     *Comm
	topo     Topology
	splitter region.Splitter
	status   *status.Group
}

// New returns an exchange for the rank described by topo,
// communicating over comm. Comm and topo are as returned by Join.
func New(comm *Comm, topo Topology, opts ...Option) *Exchange {
	x := &Exchange{comm: comm, topo: topo, splitter: region.SlowDimension}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Topology returns the exchange's topology.
func (x *Exchange) Topology() Topology { return x.topo }

// Run performs one collective pass: every rank must call Run, and
// each obtains desired, computed in part by src and in part by its
// peers. Src is asked to compute only the rank's share of the union
// of all desired regions; wrap it with stream.Streamed to compute the
// share in chunks.
//
// If src fails or aborts on any rank, every rank ends the pass: the
// failing rank returns its error and the others return
// ErrPeerAborted. Transport failures are fatal. Data that could not
// be delivered is reported in Result.Degraded rather than failing
// the pass.
func (x *Exchange) Run(ctx context.Context, desired region.Region, src stream.DataSource) (*Result, error) {
	var (
		rank    = x.topo.Rank
		counter = stats.NewMap()
		task    *status.Task
	)
	if x.status != nil {
		task = x.status.Start()
		defer task.Done()
	}
	progress := func(format string, args ...interface{}) {
		if task != nil {
			task.Printf(format, args...)
		}
		log.Debug.Printf("exchange: rank %d: "+format, append([]interface{}{rank}, args...)...)
	}

	// Demand negotiation.
	progress("negotiating demand for %v", desired)
	p, err := encode(desired)
	if err != nil {
		return nil, err
	}
	all, err := x.comm.AllGather(ctx, p)
	if err != nil {
		return nil, err
	}
	outputs := make([]region.Region, len(all))
	for r, q := range all {
		if err := decode(q, &outputs[r]); err != nil {
			return nil, err
		}
		if outputs[r].Dim() != desired.Dim() {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("exchange: rank %d desires %d-dimensional region %v, rank %d desires %d dimensions",
					r, outputs[r].Dim(), outputs[r], rank, desired.Dim()))
		}
	}

	// Input assignment and local computation.
	plan := NewPlan(rank, outputs, x.splitter)
	input := plan.Inputs[rank]
	progress("computing %v", input)
	var computeErr error
	if !input.IsEmpty() {
		src.Request(input)
		computeErr = src.Compute(ctx)
	}
	if err := x.agree(ctx, computeErr); err != nil {
		return nil, err
	}

	res := &Result{Plan: plan}
	data := src.Data()
	if input.IsEmpty() {
		data = nil
	}

	// Extract the regions needed by each peer; identical regions share
	// one extraction.
	var (
		sends    = make([][]byte, len(outputs))
		payloads = make(map[string][]byte)
	)
	for r, sr := range plan.Send {
		if sr.IsEmpty() {
			continue
		}
		key := sr.String()
		if msg, ok := payloads[key]; ok {
			sends[r] = msg
			continue
		}
		msg, err := extract(data, sr)
		if err != nil {
			log.Error.Printf("exchange: rank %d: extracting %v for rank %d: %v", rank, sr, r, err)
			counter.Int("extractFailures").Add(1)
			msg = []byte{msgMissing}
		}
		payloads[key] = msg
		sends[r] = msg
	}

	// Broadcast when every peer receives the same buffer.
	bcast := len(outputs) > 1
	for r := range outputs {
		if r == rank {
			continue
		}
		if sends[r] == nil || len(payloads) != 1 {
			bcast = false
			break
		}
	}
	flag := []byte{0}
	if bcast {
		flag[0] = 1
	}
	flags, err := x.comm.AllGather(ctx, flag)
	if err != nil {
		return nil, err
	}
	for r, f := range flags {
		plan.Bcast[r] = len(f) == 1 && f[0] == 1
	}

	progress("exchanging: %d sends, %d receives", plan.NumSends(), plan.NumRecvs())
	recvs := make([][]byte, len(outputs))
	for r, b := range plan.Bcast {
		if !b {
			continue
		}
		var mine []byte
		if r == rank {
			for _, msg := range payloads {
				mine = msg
			}
			counter.Int("broadcasts").Add(1)
			counter.Int("bytes").Add(int64(len(mine)))
		}
		q, err := x.comm.Broadcast(ctx, r, mine)
		if err != nil {
			return nil, err
		}
		if r != rank {
			recvs[r] = q
			counter.Int("recv").Add(1)
		}
	}
	tag := x.comm.NextTag()
	g, gctx := errgroup.WithContext(ctx)
	t := x.comm.Transport()
	for r := range outputs {
		r := r
		if r == rank || plan.Bcast[r] || plan.Recv[r].IsEmpty() {
			continue
		}
		g.Go(func() error {
			q, err := t.Recv(gctx, r, tag)
			if err != nil {
				return transportError(gctx, fmt.Sprintf("receive from rank %d", r), err)
			}
			recvs[r] = q
			counter.Int("recv").Add(1)
			return nil
		})
	}
	if !plan.Bcast[rank] {
		for r := range outputs {
			r := r
			if sends[r] == nil {
				continue
			}
			g.Go(func() error {
				if err := t.Send(gctx, r, tag, sends[r]); err != nil {
					return transportError(gctx, fmt.Sprintf("send to rank %d", r), err)
				}
				counter.Int("sent").Add(1)
				counter.Int("bytes").Add(int64(len(sends[r])))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Assembly: own input first, then received slabs in rank order.
	progress("assembling %v", desired)
	res.Output = array.New(x.topo.Kind, desired)
	if local := plan.Local(); !local.IsEmpty() {
		if err := paste(res.Output, data, local); err != nil {
			log.Error.Printf("exchange: rank %d: pasting local input %v: %v", rank, local, err)
			res.Degraded = append(res.Degraded, local)
		}
	}
	for r, q := range recvs {
		if plan.Recv[r].IsEmpty() {
			continue
		}
		if err := x.assemble(res.Output, q, plan.Recv[r]); err != nil {
			log.Error.Printf("exchange: rank %d: slab %v from rank %d: %v", rank, plan.Recv[r], r, err)
			res.Degraded = append(res.Degraded, plan.Recv[r])
		}
	}
	res.Stats = counter.Snapshot()
	if len(res.Degraded) > 0 {
		log.Printf("exchange: rank %d: pass completed with %d degraded regions", rank, len(res.Degraded))
	}
	progress("done: %v", res.Stats)
	return res, nil
}

// agree all-gathers the outcome of each rank's local computation so
// that the pass either proceeds on every rank or ends on every rank.
func (x *Exchange) agree(ctx context.Context, computeErr error) error {
	st := rankOk
	switch {
	case ctx.Err() != nil:
		// A context canceled after a successful computation still
		// ends the pass on every rank.
		st = rankAborted
		if computeErr == nil {
			computeErr = ctx.Err()
		}
	case computeErr == nil:
	case errors.Is(errors.Canceled, computeErr):
		st = rankAborted
	default:
		st = rankFailed
	}
	actx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(context.Background(), agreementTimeout)
		defer cancel()
	}
	all, err := x.comm.AllGather(actx, []byte{st})
	if err != nil {
		if computeErr != nil {
			return errors.E("exchange: computing input", computeErr)
		}
		return err
	}
	switch st {
	case rankAborted:
		return errors.E(errors.Canceled, "exchange: computing input", computeErr)
	case rankFailed:
		return errors.E("exchange: computing input", computeErr)
	}
	for r, q := range all {
		if len(q) != 1 || q[0] != rankOk {
			log.Printf("exchange: rank %d: ending pass: rank %d did not compute its input", x.topo.Rank, r)
			return ErrPeerAborted
		}
	}
	return nil
}

// assemble pastes the slab carried by message q into out.
func (x *Exchange) assemble(out *array.Array, q []byte, r region.Region) error {
	if len(q) == 0 || q[0] == msgMissing {
		return errors.E(errors.NotExist, "peer could not extract the region")
	}
	slab, err := array.Unmarshal(q[1:], x.topo.Kind)
	if err != nil {
		return err
	}
	return out.Paste(slab, r)
}

func extract(data *array.Array, r region.Region) ([]byte, error) {
	if data == nil {
		return nil, errors.E(errors.NotExist, "no computed data")
	}
	slab, err := data.Extract(r)
	if err != nil {
		return nil, err
	}
	p, err := array.Marshal(slab)
	if err != nil {
		return nil, err
	}
	return append([]byte{msgData}, p...), nil
}

func paste(out, data *array.Array, r region.Region) error {
	if data == nil {
		return errors.E(errors.NotExist, "no computed data")
	}
	return out.Paste(data, r)
}
