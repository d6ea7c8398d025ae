// Package calque provides the streaming handler core the bot is assembled
// from: handlers connected by io.Pipe, each running in its own goroutine.
package calque

import (
	"context"
	"io"
	"runtime"
	"sync"
)

// ConcurrencyUnlimited disables concurrency limits.
const ConcurrencyUnlimited = 0

// ConcurrencyAuto limits handler goroutines to runtime.GOMAXPROCS(0) * CPUMultiplier.
const ConcurrencyAuto = -1

// DefaultCPUMultiplier is a conservative default for I/O bound model calls.
// On a 4-core system: 4 * 50 = 200 concurrent handlers.
const DefaultCPUMultiplier = 50

// FlowConfig configures flow concurrency.
//
// MaxConcurrent bounds the number of handler goroutines running at once
// across all executions of the flow. Use ConcurrencyUnlimited,
// ConcurrencyAuto, or a positive integer.
//
//	flow := calque.NewFlow(calque.FlowConfig{MaxConcurrent: calque.ConcurrencyAuto})
type FlowConfig struct {
	MaxConcurrent int
	CPUMultiplier int // used when MaxConcurrent = ConcurrencyAuto
}

// Flow is an ordered chain of handlers.
type Flow struct {
	handlers []Handler
	sem      chan struct{} // nil = unlimited
}

// NewFlow creates a flow with optional concurrency configuration.
//
//	flow := calque.NewFlow().
//		Use(prompt.Template(groundingPrompt, data)).
//		Use(ai.Agent(client))
func NewFlow(configs ...FlowConfig) *Flow {
	config := FlowConfig{MaxConcurrent: ConcurrencyUnlimited, CPUMultiplier: DefaultCPUMultiplier}
	if len(configs) > 0 {
		config = configs[0]
	}

	var sem chan struct{}
	switch {
	case config.MaxConcurrent == ConcurrencyAuto:
		multiplier := config.CPUMultiplier
		if multiplier <= 0 {
			multiplier = DefaultCPUMultiplier
		}
		sem = make(chan struct{}, runtime.GOMAXPROCS(0)*multiplier)
	case config.MaxConcurrent > 0:
		sem = make(chan struct{}, config.MaxConcurrent)
	}

	return &Flow{sem: sem}
}

// Use appends a handler to the chain. Handlers run in the order added.
func (f *Flow) Use(handler Handler) *Flow {
	f.handlers = append(f.handlers, handler)
	return f
}

// UseFunc appends a function as a handler.
func (f *Flow) UseFunc(fn HandlerFunc) *Flow {
	return f.Use(fn)
}

// ServeFlow runs the whole flow as a single handler so flows nest.
func (f *Flow) ServeFlow(req *Request, res *Response) error {
	return f.runWithStreaming(req.Context, req.Data, res.Data)
}

// Run executes the flow.
//
// input may be a string, []byte, io.Reader or InputConverter. output may be
// *string, *[]byte, *io.Reader, io.Writer, an OutputConverter, or nil to
// discard. Each handler runs in its own goroutine; data streams through
// io.Pipe so memory stays flat regardless of input size. The first handler
// error is returned; context cancellation aborts every stage.
//
//	var answer string
//	err := flow.Run(ctx, question, &answer)
func (f *Flow) Run(ctx context.Context, input any, output any) error {
	if len(f.handlers) == 0 {
		return copyInputToOutput(ctx, input, output)
	}

	reader, err := inputToReader(ctx, input)
	if err != nil {
		return err
	}
	return f.runWithStreaming(ctx, reader, output)
}

type stage struct {
	r *io.PipeReader
	w *io.PipeWriter
}

// runWithStreaming wires input → handler[0] → ... → handler[n-1] → output.
//
// A failing stage closes its own reader with the error so the upstream
// writer unblocks, and its writer with the error so downstream readers see
// it instead of a clean EOF.
func (f *Flow) runWithStreaming(ctx context.Context, input io.Reader, output any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	n := len(f.handlers)
	// stages[0] carries the input; stages[i+1] carries handler i's output.
	stages := make([]stage, n+1)
	for i := range stages {
		stages[i].r, stages[i].w = io.Pipe()
	}

	var (
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}
	abort := func(err error) {
		for _, s := range stages {
			s.r.CloseWithError(err)
			s.w.CloseWithError(err)
		}
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			abort(ctx.Err())
		case <-finished:
		}
	}()

	go func() {
		if _, err := io.Copy(stages[0].w, input); err != nil {
			stages[0].w.CloseWithError(err)
			return
		}
		stages[0].w.Close()
	}()

	var wg sync.WaitGroup
	for i, handler := range f.handlers {
		wg.Add(1)
		go func(in, out stage, h Handler) {
			defer wg.Done()

			if f.sem != nil {
				select {
				case f.sem <- struct{}{}:
					defer func() { <-f.sem }()
				case <-ctx.Done():
					fail(ctx.Err())
					in.r.CloseWithError(ctx.Err())
					out.w.CloseWithError(ctx.Err())
					return
				}
			}

			err := h.ServeFlow(&Request{Context: ctx, Data: in.r}, &Response{Data: out.w})
			if err != nil {
				fail(err)
				in.r.CloseWithError(err)
				out.w.CloseWithError(err)
				return
			}
			out.w.Close()
			// unread input would block the upstream writer forever
			_, _ = io.Copy(io.Discard, in.r)
		}(stages[i], stages[i+1], handler)
	}

	outputErr := readerToOutput(ctx, stages[n].r, output)
	if outputErr != nil {
		stages[n].r.CloseWithError(outputErr)
	} else {
		_, _ = io.Copy(io.Discard, stages[n].r)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return outputErr
}
