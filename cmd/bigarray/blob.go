// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"github.com/grailbio/bigarray/array"
	"github.com/grailbio/bigarray/exchange"
	"github.com/grailbio/bigarray/region"
	"github.com/grailbio/bigarray/stream"
)

// clusterShape is the extent of the dataset served to cluster ranks,
// which cannot see the driver's flags.
var clusterShape = region.New([]int{0, 0, 0}, []int{128, 128, 32})

func init() {
	exchange.RegisterSource("bigarray.blob", func(rank, size int) stream.DataSource {
		return blob(clusterShape)
	})
}

// blob returns a source over extent whose elements are nonzero inside
// the ellipsoid inscribed in the middle half of the extent. Nonzero
// elements hold their squared normalized distance from the boundary.
func blob(extent region.Region) *stream.FuncSource {
	center := make([]float64, extent.Dim())
	radius := make([]float64, extent.Dim())
	for i := range center {
		center[i] = float64(extent.Index[i]) + float64(extent.Size[i])/2
		radius[i] = float64(extent.Size[i]) / 4
	}
	return stream.NewFuncSource(array.Float32, extent, func(idx []int) float64 {
		var d float64
		for i, x := range idx {
			if radius[i] == 0 {
				continue
			}
			v := (float64(x) + 0.5 - center[i]) / radius[i]
			d += v * v
		}
		if d >= 1 {
			return 0
		}
		return 1 - d
	})
}
