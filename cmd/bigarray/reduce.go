// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigarray/exchange"
	"github.com/grailbio/bigarray/reduce"
	"github.com/grailbio/bigarray/stream"
)

func boundCmd(cfg *exchange.Config, args []string) error {
	sink, err := streamCmd(cfg, "bound", args, stream.NewBoundSink)
	if err != nil {
		return err
	}
	bound, _ := sink.Bound()
	fmt.Println("bound:", bound)
	return nil
}

func statsCmd(cfg *exchange.Config, args []string) error {
	sink, err := streamCmd(cfg, "stats", args, stream.NewStatisticsSink)
	if err != nil {
		return err
	}
	stats, _ := sink.Statistics()
	fmt.Println("statistics:", stats)
	return nil
}

func streamCmd(cfg *exchange.Config, name string, args []string, newSink func(stream.DataSource, *reduce.Pool) *stream.ReduceSink) (*stream.ReduceSink, error) {
	var (
		flags     = flag.NewFlagSet(name, flag.ExitOnError)
		shapeFlag = flags.String("shape", "512,512,128", "comma-separated dataset dimensions")
		verbose   = flags.Bool("status", false, "print pass status to stderr")
	)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: bigarray %s [-shape d0,d1,...] [-status]\n", name)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}
	extent, err := parseShape(*shapeFlag)
	if err != nil {
		return nil, err
	}
	src := blob(extent)
	sink := newSink(src, cfg.Pool())
	opts := cfg.StreamOptions()
	if *verbose {
		var (
			s       status.Status
			console status.Reporter
		)
		go console.Go(os.Stderr, &s)
		opts = append(opts, stream.Status(&s))
	}
	outcome, err := stream.New(sink, src, opts...).Run(context.Background())
	if err != nil {
		return nil, err
	}
	if outcome != stream.Completed {
		return nil, errors.E(errors.Canceled, fmt.Sprintf("%s pass %v", name, outcome))
	}
	computes, elements := src.Stats()
	log.Printf("%s: %d chunks, %d elements computed", name, computes, elements)
	return sink, nil
}
