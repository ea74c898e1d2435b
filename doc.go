// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigarray processes N-dimensional arrays that are too large
	to materialize at once. The index domain of a dataset is split into
	rectangular chunks, and each chunk is pulled through an upstream
	computation, either one chunk after another on a single machine or
	across a fixed set of cooperating ranks.

	The work is divided among a few packages:

	Package region defines N-dimensional index rectangles and the
	splitters that cut them into disjoint pieces.

	Package array stores the elements of one region and encodes them
	for the wire.

	Package reduce scans a region with a pool of goroutines, each
	accumulating a disjoint piece, and merges the partial results.

	Package stream drives a source through a sequence of chunks,
	handing each finished chunk to a sink. Streams may be aborted
	between chunks and are reset on failure.

	Package exchange redistributes data among ranks: each rank
	declares the region it wants, the ranks agree on who computes what,
	and slabs are exchanged point to point, or broadcast when a rank
	serves the same slab to everyone. Ranks run as goroutines connected
	by an in-process network, or as bigmachine machines.

	Package arrayconfig reads the bigarray profile, and cmd/bigarray is
	a driver for bound, statistics and exchange passes.
*/
package bigarray
