// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command bigarray runs streamed reductions and distributed exchanges
// over a synthetic dataset. It is used to exercise and demonstrate
// the bigarray runtime.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigarray/arrayconfig"
	"github.com/grailbio/bigarray/region"
)

func main() {
	log.AddFlags()
	must.Func = log.Fatal
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: bigarray [flags] command args...

Command bigarray runs passes over a synthetic dataset: a solid
ellipsoid of nonzero values centered in an otherwise zero array.

Available commands are:

	bound
		Stream the dataset and compute the bounding region of its
		nonzero elements.
	stats
		Stream the dataset and compute summary statistics.
	exchange
		Run a distributed exchange in which each rank asks for a
		window of the dataset.
	setup-ec2
		Configure EC2 so that exchanges can run on an EC2 cluster.
`)
		flag.PrintDefaults()
		os.Exit(2)
	}
	cfg := arrayconfig.Parse()
	// Workers run this same binary; Start does not return on them.
	b := cfg.Start()
	if flag.NArg() == 0 {
		flag.Usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", cmd)
		flag.Usage()
	case "bound":
		err = boundCmd(cfg, args)
	case "stats":
		err = statsCmd(cfg, args)
	case "exchange":
		err = exchangeCmd(cfg, b, args)
	case "setup-ec2":
		err = setupEC2Cmd(args)
	}
	b.Shutdown()
	must.Nil(err, cmd)
}

// parseShape parses a comma-separated list of dimension sizes into a
// region at the origin.
func parseShape(s string) (region.Region, error) {
	parts := strings.Split(s, ",")
	size := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return region.Region{}, fmt.Errorf("invalid shape %q: %v", s, err)
		}
		if n < 0 {
			return region.Region{}, fmt.Errorf("invalid shape %q: negative size", s)
		}
		size[i] = n
	}
	return region.New(make([]int, len(size)), size), nil
}
