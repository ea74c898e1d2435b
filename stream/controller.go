// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stream implements a demand-driven streaming controller.
// A Controller divides the full extent of its upstream Source into
// chunks, and for each chunk asks the upstream to compute exactly that
// chunk before handing it to a Sink. Only one chunk of the dataset is
// materialized at a time.
//
// A typical use reduces a dataset that does not fit in memory:
//
//	sink := stream.NewBoundSink(src, reduce.NewPool(0))
//	ctl := stream.New(sink, src, stream.Divisions(16))
//	if _, err := ctl.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
//	bound, _ := sink.Bound()
package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigarray/region"
)

// NotStreaming is the chunk index reported while a controller is
// idle.
const NotStreaming = -1

// Outcome describes how a call to Controller.Run ended.
type Outcome int

const (
	// Completed indicates that every chunk was processed and the
	// sink's after hook ran.
	Completed Outcome = iota
	// Skipped indicates that Run was called while the controller was
	// already streaming; nothing was done.
	Skipped
	// Aborted indicates that the pass was abandoned between chunks
	// because an abort was requested.
	Aborted
	// Failed indicates that the pass ended with an error.
	Failed
)

var outcomes = [...]string{
	Completed: "completed",
	Skipped:   "skipped",
	Aborted:   "aborted",
	Failed:    "failed",
}

// String returns the outcome's name.
func (o Outcome) String() string {
	return outcomes[o]
}

// A Sink consumes the chunks produced by a controller pass.
type Sink interface {
	// BeforeStreamedGenerateData is called once at the start of each
	// pass, before any chunk is computed.
	BeforeStreamedGenerateData(ctx context.Context) error
	// StreamedGenerateData is called for each chunk after every input
	// has computed region r.
	StreamedGenerateData(ctx context.Context, chunk int, r region.Region) error
	// AfterStreamedGenerateData is called once after every chunk of a
	// pass was processed. It is not called for failed or aborted
	// passes.
	AfterStreamedGenerateData(ctx context.Context) error
}

// State is a snapshot of a controller's streaming state.
type State struct {
	// Streaming is true while a pass is in progress.
	Streaming bool
	// Chunk is the index of the chunk being processed, or NotStreaming.
	Chunk int
	// NumChunks is the number of chunks in the current pass.
	NumChunks int
	// Divisions is the requested number of chunks.
	Divisions int
	// Aborted is set when an abort was requested during the pass.
	Aborted bool
}

// An Option configures a Controller.
type Option func(c *Controller)

// Divisions sets the number of chunks the controller attempts to
// divide its input into. The actual number may be smaller if the
// input's extent cannot be split that finely.
func Divisions(n int) Option {
	if n <= 0 {
		panic("stream.Divisions: n <= 0")
	}
	return func(c *Controller) {
		c.divisions = n
	}
}

// WithSplitter sets the splitter used to divide the input into
// chunks. The default is region.SlowDimension.
func WithSplitter(s region.Splitter) Option {
	return func(c *Controller) {
		c.splitter = s
	}
}

// Inputs adds upstream sources that are requested and computed
// alongside the primary input, for every chunk.
func Inputs(srcs ...Source) Option {
	return func(c *Controller) {
		c.inputs = append(c.inputs, srcs...)
	}
}

// Status configures the controller to report pass progress to the
// provided status.
func Status(s *status.Status) Option {
	return func(c *Controller) {
		c.status = s.Group("bigarray stream")
	}
}

// Eventer configures the controller with an Eventer that logs pass
// events.
func Eventer(e eventlog.Eventer) Option {
	return func(c *Controller) {
		c.eventer = e
	}
}

// A Controller streams the full extent of its primary input through
// a sink, chunk by chunk. A controller runs at most one pass at a
// time: Run called while a pass is in progress, for example from an
// upstream source in a cyclic graph, returns immediately.
type Controller struct {
	sink      Sink
	inputs    []Source
	splitter  region.Splitter
	divisions int
	status    *status.Group
	eventer   eventlog.Eventer

	mu      sync.Mutex
	state   State
	current region.Region
}

// New returns a controller that streams input through sink.
func New(sink Sink, input Source, opts ...Option) *Controller {
	c := &Controller{
		sink:      sink,
		inputs:    []Source{input},
		splitter:  region.SlowDimension,
		divisions: 1,
		eventer:   eventlog.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = State{Chunk: NotStreaming, Divisions: c.divisions}
	return c
}

// State returns a snapshot of the controller's streaming state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentRegion returns the region of the chunk being processed. It
// is only meaningful while streaming.
func (c *Controller) CurrentRegion() region.Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Abort requests that the current pass stop before its next chunk.
// Abort may be called from any goroutine, including from sources and
// sinks during a pass. It has no effect while the controller is idle.
func (c *Controller) Abort() {
	c.mu.Lock()
	if c.state.Streaming {
		c.state.Aborted = true
	}
	c.mu.Unlock()
}

// NumberOfInputRequestedRegions returns the number of chunks into
// which the primary input's full extent is divided.
func (c *Controller) NumberOfInputRequestedRegions() int {
	return c.splitter.NumSplits(c.inputs[0].FullExtent(), c.divisions)
}

// GenerateNthInputRequestedRegion computes the region of the given
// chunk and requests it from every input.
func (c *Controller) GenerateNthInputRequestedRegion(chunk, n int) region.Region {
	r := c.splitter.Split(chunk, n, c.inputs[0].FullExtent())
	c.mu.Lock()
	c.current = r
	c.mu.Unlock()
	log.Debug.Printf("stream: generating chunk %d of %d as %v", chunk, n, r)
	for _, in := range c.inputs {
		in.Request(r)
	}
	return r
}

// Run performs one streaming pass. The primary input's full extent is
// split into chunks; for each chunk, every input is asked to compute
// it and the sink is then handed the chunk.
//
// Run returns (Skipped, nil) if the controller is already streaming.
// If an abort is requested, through Abort, context cancellation, or
// an input or sink error of kind errors.Canceled, the pass stops
// before the next chunk and Run returns (Aborted, nil). Any other
// error ends the pass and is returned along with Failed. In both
// cases the sink's after hook is not called, and whatever the sink
// accumulated from earlier chunks is left as is. The controller is
// idle again when Run returns.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.state.Streaming {
		c.mu.Unlock()
		log.Debug.Printf("stream: run called while streaming; skipping")
		return Skipped, nil
	}
	c.state = State{Streaming: true, Chunk: NotStreaming, Divisions: c.divisions}
	c.mu.Unlock()
	defer c.reset()

	var task *status.Task
	if c.status != nil {
		task = c.status.Start()
		defer task.Done()
	}
	n := c.NumberOfInputRequestedRegions()
	c.mu.Lock()
	c.state.NumChunks = n
	c.mu.Unlock()
	c.eventer.Event("bigarray:streamStart",
		"extent", c.inputs[0].FullExtent().String(),
		"divisions", c.divisions,
		"chunks", n)

	if err := c.sink.BeforeStreamedGenerateData(ctx); err != nil {
		return c.fail(ctx, NotStreaming, err, "stream: before hook")
	}
	for chunk := 0; chunk < n; chunk++ {
		if c.aborted(ctx) {
			return c.abort(chunk)
		}
		c.mu.Lock()
		c.state.Chunk = chunk
		c.mu.Unlock()
		if task != nil {
			task.Printf("chunk %d/%d", chunk+1, n)
		}
		r := c.GenerateNthInputRequestedRegion(chunk, n)
		for i, in := range c.inputs {
			if err := in.Compute(ctx); err != nil {
				return c.fail(ctx, chunk, err, fmt.Sprintf("stream: computing input %d for chunk %d (%v)", i, chunk, r))
			}
		}
		if err := c.sink.StreamedGenerateData(ctx, chunk, r); err != nil {
			return c.fail(ctx, chunk, err, fmt.Sprintf("stream: processing chunk %d (%v)", chunk, r))
		}
	}
	if c.aborted(ctx) {
		return c.abort(n)
	}
	if err := c.sink.AfterStreamedGenerateData(ctx); err != nil {
		return c.fail(ctx, n, err, "stream: after hook")
	}
	c.eventer.Event("bigarray:streamDone", "chunks", n)
	return Completed, nil
}

func (c *Controller) aborted(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		c.state.Aborted = true
	}
	return c.state.Aborted
}

func (c *Controller) abort(chunk int) (Outcome, error) {
	log.Printf("stream: pass aborted before chunk %d", chunk)
	c.eventer.Event("bigarray:streamAbort", "chunk", chunk)
	return Aborted, nil
}

// fail ends a pass with err. Errors that signal an abort request end
// the pass as aborted instead.
func (c *Controller) fail(ctx context.Context, chunk int, err error, msg string) (Outcome, error) {
	if isAbort(ctx, err) {
		c.mu.Lock()
		c.state.Aborted = true
		c.mu.Unlock()
		return c.abort(chunk)
	}
	err = errors.E(msg, err)
	log.Error.Printf("stream: pass failed at chunk %d: %v", chunk, err)
	c.eventer.Event("bigarray:streamFail", "chunk", chunk, "error", err.Error())
	return Failed, err
}

func (c *Controller) reset() {
	c.mu.Lock()
	c.state = State{Chunk: NotStreaming, Divisions: c.divisions}
	c.current = region.Region{}
	c.mu.Unlock()
}

func isAbort(ctx context.Context, err error) bool {
	switch {
	case ctx.Err() != nil:
		return true
	case err == context.Canceled:
		return true
	}
	return errors.Is(errors.Canceled, err)
}
