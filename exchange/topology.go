// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exchange

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigarray/array"
)

// Topology describes a rank's place in an exchange. It is fixed for
// the lifetime of the exchange.
type Topology struct {
	// Rank is the caller's rank.
	Rank int
	// Size is the number of ranks.
	Size int
	// Kind is the element kind shared by every rank.
	Kind array.Kind
}

func (t Topology) String() string {
	return fmt.Sprintf("rank %d/%d (%v)", t.Rank, t.Size, t.Kind)
}

type hello struct {
	Rank int
	Kind array.Kind
}

// Join performs the collective handshake that establishes the
// topology of an exchange. Every rank must call Join, with the same
// element kind, before its first pass. Join fails with an
// errors.Invalid error on every rank if the ranks disagree on the
// element kind.
func Join(ctx context.Context, t Transport, kind array.Kind) (*Comm, Topology, error) {
	if !kind.Valid() {
		return nil, Topology{}, errors.E(errors.Invalid, fmt.Sprintf("exchange: invalid element kind %v", kind))
	}
	comm := NewComm(t)
	p, err := encode(hello{t.Rank(), kind})
	if err != nil {
		return nil, Topology{}, err
	}
	all, err := comm.AllGather(ctx, p)
	if err != nil {
		return nil, Topology{}, err
	}
	for r, q := range all {
		var h hello
		if err := decode(q, &h); err != nil {
			return nil, Topology{}, err
		}
		switch {
		case h.Rank != r:
			return nil, Topology{}, errors.E(errors.Invalid,
				fmt.Sprintf("exchange: rank %d identifies as rank %d", r, h.Rank))
		case h.Kind != kind:
			return nil, Topology{}, errors.E(errors.Invalid,
				fmt.Sprintf("exchange: rank %d has element kind %v, rank %d has %v", r, h.Kind, t.Rank(), kind))
		}
	}
	topo := Topology{Rank: t.Rank(), Size: t.Size(), Kind: kind}
	log.Debug.Printf("exchange: joined as %v", topo)
	return comm, topo, nil
}

func encode(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(v); err != nil {
		return nil, errors.E("exchange: encode", err)
	}
	return b.Bytes(), nil
}

func decode(p []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(v); err != nil {
		return errors.E(errors.Integrity, "exchange: decode", err)
	}
	return nil
}
