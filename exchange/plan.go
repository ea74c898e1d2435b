// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exchange

import (
	"bytes"
	"fmt"

	"github.com/grailbio/bigarray/region"
)

// A Plan describes one rank's share of an exchange pass: which region
// each rank computes, and which regions the rank sends to and
// receives from each of its peers.
type Plan struct {
	// Rank is the rank for which the plan was computed.
	Rank int
	// Outputs holds the region desired by each rank.
	Outputs []region.Region
	// Union is the bounding region of all outputs.
	Union region.Region
	// Inputs holds the region computed by each rank. Inputs partition
	// Union; ranks beyond the number of feasible pieces are assigned
	// an empty region.
	Inputs []region.Region
	// Send holds, for each peer, the part of this rank's input that
	// the peer needs. It is empty for the rank itself and for peers
	// that need nothing.
	Send []region.Region
	// Recv holds, for each peer, the part of this rank's output that
	// is computed by the peer.
	Recv []region.Region
	// Bcast records, for each rank, whether it broadcasts a single
	// buffer to all of its peers. It is filled in during the pass.
	Bcast []bool
}

// NewPlan computes the plan of the given rank from the outputs
// desired by all ranks. The union of the outputs is divided among
// the ranks by splitter s.
func NewPlan(rank int, outputs []region.Region, s region.Splitter) *Plan {
	size := len(outputs)
	var d int
	for _, r := range outputs {
		if r.Dim() > d {
			d = r.Dim()
		}
	}
	p := &Plan{
		Rank:    rank,
		Outputs: outputs,
		Union:   region.Empty(d),
		Inputs:  make([]region.Region, size),
		Send:    make([]region.Region, size),
		Recv:    make([]region.Region, size),
		Bcast:   make([]bool, size),
	}
	for _, r := range outputs {
		p.Union = region.Union(p.Union, r)
	}
	n := s.NumSplits(p.Union, size)
	for r := range p.Inputs {
		if r < n {
			p.Inputs[r] = s.Split(r, n, p.Union)
		} else {
			p.Inputs[r] = region.Empty(d)
		}
	}
	for r := range outputs {
		if r == rank {
			p.Send[r], p.Recv[r] = region.Empty(d), region.Empty(d)
			continue
		}
		p.Send[r], _ = region.Crop(p.Inputs[rank], outputs[r])
		p.Recv[r], _ = region.Crop(outputs[rank], p.Inputs[r])
	}
	return p
}

// Local returns the part of this rank's output that it computes
// itself.
func (p *Plan) Local() region.Region {
	r, _ := region.Crop(p.Outputs[p.Rank], p.Inputs[p.Rank])
	return r
}

// NumSends returns the number of peers to which this rank sends
// data.
func (p *Plan) NumSends() int {
	var n int
	for _, r := range p.Send {
		if !r.IsEmpty() {
			n++
		}
	}
	return n
}

// NumRecvs returns the number of peers from which this rank receives
// data.
func (p *Plan) NumRecvs() int {
	var n int
	for _, r := range p.Recv {
		if !r.IsEmpty() {
			n++
		}
	}
	return n
}

func (p *Plan) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "plan for rank %d of %d: union %v\n", p.Rank, len(p.Outputs), p.Union)
	for r := range p.Outputs {
		fmt.Fprintf(&b, "\trank %d: output %v input %v send %v recv %v bcast %v\n",
			r, p.Outputs[r], p.Inputs[r], p.Send[r], p.Recv[r], p.Bcast[r])
	}
	return b.String()
}
