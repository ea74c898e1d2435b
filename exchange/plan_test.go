// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exchange

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigarray/region"
	"github.com/grailbio/testutil/expect"
)

func TestPlan(t *testing.T) {
	outputs := []region.Region{window(25, 5), window(8, 5), window(0, 5)}
	p := NewPlan(0, outputs, region.SlowDimension)
	expect.True(t, p.Union.Equal(window(0, 30)))
	for _, c := range []struct {
		got, want region.Region
	}{
		{p.Send[0], region.Empty(1)},
		{p.Send[1], window(8, 2)},
		{p.Send[2], window(0, 5)},
		{p.Recv[0], region.Empty(1)},
		{p.Recv[1], region.Empty(1)},
		{p.Recv[2], window(25, 5)},
	} {
		if !c.got.Equal(c.want) {
			t.Errorf("got %v, want %v", c.got, c.want)
		}
	}
	expect.EQ(t, p.NumSends(), 2)
	expect.EQ(t, p.NumRecvs(), 1)
	expect.True(t, p.Local().IsEmpty())
}

func TestPlanExtraRanks(t *testing.T) {
	outputs := []region.Region{window(0, 3), window(1, 1), window(2, 1), window(0, 1), window(1, 2)}
	p := NewPlan(4, outputs, region.SlowDimension)
	for r := 0; r < 3; r++ {
		if got, want := p.Inputs[r], window(r, 1); !got.Equal(want) {
			t.Errorf("rank %d: got %v, want %v", r, got, want)
		}
	}
	expect.True(t, p.Inputs[3].IsEmpty())
	expect.True(t, p.Inputs[4].IsEmpty())
	expect.EQ(t, p.NumSends(), 0)
	expect.EQ(t, p.NumRecvs(), 2)
}

// TestPlanSymmetric checks that the regions a rank sends are exactly
// the regions its peers expect to receive, and that every rank's
// output is covered by its local share and its receives.
func TestPlanSymmetric(t *testing.T) {
	fz := fuzz.NewWithSeed(271828)
	for iter := 0; iter < 200; iter++ {
		var size uint8
		fz.Fuzz(&size)
		n := int(size%6) + 1
		outputs := make([]region.Region, n)
		for i := range outputs {
			var lo, hi, w uint8
			fz.Fuzz(&lo)
			fz.Fuzz(&hi)
			fz.Fuzz(&w)
			outputs[i] = region.New([]int{int(lo % 40), int(hi % 5)}, []int{int(w%12) + 1, 3})
		}
		plans := make([]*Plan, n)
		for i := range plans {
			plans[i] = NewPlan(i, outputs, region.SlowDimension)
		}
		for i := range plans {
			covered := plans[i].Local().NumElements()
			for j := range plans {
				if !plans[i].Send[j].Equal(plans[j].Recv[i]) {
					t.Fatalf("send %d->%d %v != receive %v", i, j, plans[i].Send[j], plans[j].Recv[i])
				}
				covered += plans[i].Recv[j].NumElements()
			}
			if got, want := covered, outputs[i].NumElements(); got != want {
				t.Errorf("rank %d: covered %d of %d elements", i, got, want)
			}
		}
	}
}
