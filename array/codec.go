// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package array

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigarray/region"
	"github.com/spaolacci/murmur3"
)

// header describes an encoded array. It is gob-encoded ahead of the
// array's raw element bytes.
type header struct {
	Kind  Kind
	Index []int
	Size  []int
	Len   int
}

// Marshal encodes the array a into its wire representation: the
// length of a gob-encoded header, the header, the raw little-endian
// elements, and a murmur3 checksum of everything that precedes it.
func Marshal(a *Array) ([]byte, error) {
	var hdr bytes.Buffer
	err := gob.NewEncoder(&hdr).Encode(header{
		Kind:  a.kind,
		Index: a.region.Index,
		Size:  a.region.Size,
		Len:   a.Len(),
	})
	if err != nil {
		return nil, errors.E(errors.Fatal, "array.Marshal", err)
	}
	p := make([]byte, 4, 4+hdr.Len()+len(a.data)+4)
	binary.LittleEndian.PutUint32(p, uint32(hdr.Len()))
	p = append(p, hdr.Bytes()...)
	p = append(p, a.data...)
	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], murmur3.Sum32(p))
	return append(p, sum[:]...), nil
}

// Unmarshal decodes an array encoded by Marshal. If want is not
// Invalid, the decoded array must be of that kind. Unmarshal returns
// an error of kind errors.Integrity if the checksum does not match.
func Unmarshal(p []byte, want Kind) (*Array, error) {
	if len(p) < 8 {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("array.Unmarshal: short message (%d bytes)", len(p)))
	}
	body, sum := p[:len(p)-4], binary.LittleEndian.Uint32(p[len(p)-4:])
	if got := murmur3.Sum32(body); got != sum {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("array.Unmarshal: computed checksum %x but expected checksum %x", got, sum))
	}
	n := int(binary.LittleEndian.Uint32(body))
	if n > len(body)-4 {
		return nil, errors.E(errors.Integrity, "array.Unmarshal: header overruns message")
	}
	var h header
	if err := gob.NewDecoder(bytes.NewReader(body[4 : 4+n])).Decode(&h); err != nil {
		return nil, errors.E(errors.Integrity, "array.Unmarshal: decode header", err)
	}
	if !h.Kind.Valid() {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("array.Unmarshal: invalid kind %v", h.Kind))
	}
	if want != Invalid && h.Kind != want {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("array.Unmarshal: received %v elements, expected %v", h.Kind, want))
	}
	if len(h.Index) != len(h.Size) {
		return nil, errors.E(errors.Integrity, "array.Unmarshal: malformed region")
	}
	for _, n := range h.Size {
		if n < 0 {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("array.Unmarshal: negative size in region %v+%v", h.Index, h.Size))
		}
	}
	r := region.Region{Index: h.Index, Size: h.Size}
	if h.Len != r.NumElements() {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("array.Unmarshal: %d elements for region %v", h.Len, r))
	}
	data := body[4+n:]
	if len(data) != h.Len*h.Kind.Width() {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("array.Unmarshal: %d data bytes, expected %d", len(data), h.Len*h.Kind.Width()))
	}
	a := &Array{kind: h.Kind, region: r, data: make([]byte, len(data))}
	copy(a.data, data)
	return a, nil
}
