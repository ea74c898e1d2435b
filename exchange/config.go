// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exchange

import (
	"fmt"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigarray/reduce"
	"github.com/grailbio/bigarray/stream"
	"github.com/grailbio/bigmachine"
)

// Config holds the runtime configuration of bigarray passes. It is
// provided by the "bigarray" configuration instance.
type Config struct {
	// Divisions is the number of chunks into which streamed passes
	// divide their input.
	Divisions int
	// Parallelism is the number of reducer workers. Zero sizes pools
	// to GOMAXPROCS.
	Parallelism int
	// System is the bigmachine system on which cluster exchanges run.
	// If nil, machines are local processes.
	System bigmachine.System
}

// Pool returns a reducer pool sized by the configuration.
func (c *Config) Pool() *reduce.Pool {
	return reduce.NewPool(c.Parallelism)
}

// StreamOptions returns the controller options implied by the
// configuration.
func (c *Config) StreamOptions() []stream.Option {
	return []stream.Option{stream.Divisions(c.Divisions)}
}

// Start starts a bigmachine instance on the configured system.
func (c *Config) Start() *bigmachine.B {
	system := c.System
	if system == nil {
		system = bigmachine.Local
	}
	return bigmachine.Start(system)
}

func init() {
	config.Register("bigarray", func(inst *config.Constructor) {
		cfg := new(Config)
		inst.IntVar(&cfg.Divisions, "divisions", 1, "number of chunks into which each pass is streamed")
		inst.IntVar(&cfg.Parallelism, "parallelism", 0, "number of reducer workers; 0 uses GOMAXPROCS")
		inst.InstanceVar(&cfg.System, "system", "", "the bigmachine system used for cluster exchanges")
		inst.Doc = "bigarray configures the bigarray runtime"
		inst.New = func() (interface{}, error) {
			if cfg.Divisions <= 0 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("bigarray: divisions must be positive, got %d", cfg.Divisions))
			}
			return cfg, nil
		}
	})
}
