// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package arrayconfig

import (
	"runtime"
	"testing"
)

func TestInstanceDefaults(t *testing.T) {
	cfg := Instance()
	if got, want := cfg.Divisions, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.Pool().NumWorkers(), runtime.GOMAXPROCS(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if cfg.System != nil {
		t.Errorf("unexpected system %v", cfg.System)
	}
	if got, want := len(cfg.StreamOptions()), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
