// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package arrayconfig provides the bigarray runtime configuration
// from a shared profile. Arrayconfig uses the configuration
// mechanism in package github.com/grailbio/base/config, and reads a
// default profile from $HOME/.bigarray/config.
package arrayconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigarray/exchange"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
)

// Path determines the location of the bigarray profile read by
// Parse.
var Path = os.ExpandEnv("$HOME/.bigarray/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// the profile at Path and returns the "bigarray" instance as
// configured by the profile and any flags provided. Parse panics if
// the configuration is invalid.
func Parse() *exchange.Config {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	return Instance()
}

// Instance returns the "bigarray" configuration instance from the
// current profile, without parsing flags.
func Instance() *exchange.Config {
	var cfg *exchange.Config
	config.Must("bigarray", &cfg)
	return cfg
}
