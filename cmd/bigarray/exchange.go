// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/exchange"
	"github.com/grailbio/bigarray/reduce"
	"github.com/grailbio/bigarray/region"
	"github.com/grailbio/bigarray/stats"
	"github.com/grailbio/bigarray/stream"
	"github.com/grailbio/bigmachine"
)

func exchangeCmd(cfg *exchange.Config, b *bigmachine.B, args []string) error {
	var (
		flags   = flag.NewFlagSet("exchange", flag.ExitOnError)
		nrank   = flags.Int("ranks", 4, "number of ranks")
		cluster = flags.Bool("cluster", false, "run ranks on bigmachine machines instead of goroutines")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: bigarray exchange [-ranks N] [-cluster]

Each rank asks for a slab of the dataset that straddles the input
slabs of its neighbors, so that every rank both sends and receives.`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}
	desired := windows(clusterShape, *nrank)
	ctx := context.Background()
	var (
		outputs []*array.Array
		total   stats.Values
		err     error
	)
	if *cluster {
		var c *exchange.Cluster
		c, err = exchange.StartCluster(ctx, b, *nrank, array.Float32)
		if err != nil {
			return err
		}
		outputs, total, err = c.Run(ctx, "bigarray.blob", desired, cfg.Divisions)
	} else {
		var results []*exchange.Result
		results, err = exchange.RunLocal(ctx, array.Float32, desired, func(rank, size int) stream.DataSource {
			return stream.Streamed(blob(clusterShape), cfg.Divisions)
		})
		total = make(stats.Values)
		for _, res := range results {
			if res == nil {
				continue
			}
			outputs = append(outputs, res.Output)
			total.Merge(res.Stats)
		}
	}
	if err != nil {
		return err
	}
	pool := cfg.Pool()
	for i, out := range outputs {
		acc, err := pool.Reduce(ctx, out, out.Region(), reduce.NewStatistics)
		if err != nil {
			return err
		}
		fmt.Printf("rank %d: %v: %v\n", i, out.Region(), acc)
	}
	fmt.Println("exchange:", total)
	return nil
}

// windows returns n slabs of extent, one per rank, each shifted by
// half a slab so that it straddles two ranks' inputs. Shifted slabs
// stay inside extent.
func windows(extent region.Region, n int) []region.Region {
	slabs := region.Regions(region.SlowDimension, extent, n)
	out := make([]region.Region, n)
	for i := range out {
		if i >= len(slabs) {
			out[i] = region.Empty(extent.Dim())
			continue
		}
		w := slabs[i].Copy()
		axis := extent.Dim() - 1
		shift := w.Size[axis] / 2
		if w.Index[axis]+w.Size[axis]+shift > extent.Index[axis]+extent.Size[axis] {
			shift = -shift
		}
		// A slab spanning the whole axis cannot move.
		if w.Index[axis]+shift < extent.Index[axis] {
			shift = 0
		}
		w.Index[axis] += shift
		out[i] = w
	}
	return out
}
