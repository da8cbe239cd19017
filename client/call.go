package client

import (
	"context"
	"sync"

	"pkt.systems/esclient/request"
)

// Handler receives the terminal result of a call. Exactly one of body and
// err is meaningful: body is the raw response on success, err is non-nil on
// failure. A RemoteError carries the raw error body in its Body field.
type Handler func(body []byte, err error)

// CallOption selects the options and completion protocol of one call.
type CallOption func(*callConfig)

type callConfig struct {
	opts    request.Options
	handler Handler
}

// WithOptions supplies per-call options rendered into the query string.
func WithOptions(opts request.Options) CallOption {
	return func(c *callConfig) {
		c.opts = c.opts.Merge(opts)
	}
}

// WithHandler dispatches the call immediately and delivers the result to h.
func WithHandler(h Handler) CallOption {
	return func(c *callConfig) {
		c.handler = h
	}
}

// WithOptionsAndHandler combines WithOptions and WithHandler.
func WithOptionsAndHandler(opts request.Options, h Handler) CallOption {
	return func(c *callConfig) {
		c.opts = c.opts.Merge(opts)
		c.handler = h
	}
}

func resolveCallOptions(args []CallOption) callConfig {
	var cfg callConfig
	for _, opt := range args {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// CallState is the lifecycle position of a Call.
type CallState int

const (
	// CallBuilt is a deferred call with no listeners.
	CallBuilt CallState = iota
	// CallArmed is a deferred call with at least one listener.
	CallArmed
	// CallDispatched means the request is in flight.
	CallDispatched
	// CallSucceeded means the data event fired.
	CallSucceeded
	// CallFailed means the error event fired.
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallBuilt:
		return "built"
	case CallArmed:
		return "armed"
	case CallDispatched:
		return "dispatched"
	case CallSucceeded:
		return "succeeded"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Call is one operation against the search engine.
//
// A call created without a handler is deferred: register listeners with
// OnData and OnError, then start it with Execute. Execute is rejecting:
// every call after the first returns ErrAlreadyDispatched and issues no
// request.
//
// A call created with a handler is dispatched immediately and sealed.
// Listener registrations on it are ignored and Execute returns
// ErrAlreadyDispatched. Done and Result work in both modes.
//
// Listeners fire at most once, in registration order, and only one of the
// data or error events fires. A listener registered after completion runs
// immediately on the caller's goroutine if its event is the one that fired.
type Call struct {
	client  *Client
	ctx     context.Context
	desc    request.Descriptor
	handler Handler

	mu       sync.Mutex
	state    CallState
	sealed   bool
	dataFns  []func([]byte)
	errorFns []func(error)
	body     []byte
	err      error
	done     chan struct{}
}

func newCall(c *Client, ctx context.Context, desc request.Descriptor, handler Handler) *Call {
	return &Call{
		client:  c,
		ctx:     ctx,
		desc:    desc,
		handler: handler,
		sealed:  handler != nil,
		done:    make(chan struct{}),
	}
}

// Descriptor returns the request the call dispatches.
func (call *Call) Descriptor() request.Descriptor {
	return call.desc
}

// CorrelationID returns the X-Correlation-Id sent with the request.
func (call *Call) CorrelationID() string {
	return CorrelationIDFromContext(call.ctx)
}

// State reports the current lifecycle position.
func (call *Call) State() CallState {
	call.mu.Lock()
	defer call.mu.Unlock()
	return call.state
}

// OnData registers fn for the successful raw response body.
func (call *Call) OnData(fn func(body []byte)) *Call {
	if fn == nil {
		return call
	}
	call.mu.Lock()
	if call.sealed {
		call.mu.Unlock()
		return call
	}
	switch call.state {
	case CallSucceeded:
		body := call.body
		call.mu.Unlock()
		fn(body)
		return call
	case CallFailed:
		call.mu.Unlock()
		return call
	case CallBuilt:
		call.state = CallArmed
	}
	call.dataFns = append(call.dataFns, fn)
	call.mu.Unlock()
	return call
}

// OnError registers fn for the terminal failure.
func (call *Call) OnError(fn func(err error)) *Call {
	if fn == nil {
		return call
	}
	call.mu.Lock()
	if call.sealed {
		call.mu.Unlock()
		return call
	}
	switch call.state {
	case CallFailed:
		err := call.err
		call.mu.Unlock()
		fn(err)
		return call
	case CallSucceeded:
		call.mu.Unlock()
		return call
	case CallBuilt:
		call.state = CallArmed
	}
	call.errorFns = append(call.errorFns, fn)
	call.mu.Unlock()
	return call
}

// Execute dispatches a deferred call. It never blocks on the network.
func (call *Call) Execute() error {
	call.mu.Lock()
	if call.sealed || call.state >= CallDispatched {
		call.mu.Unlock()
		return ErrAlreadyDispatched
	}
	call.state = CallDispatched
	call.mu.Unlock()
	go call.run()
	return nil
}

// Done is closed once the call reaches a terminal state and its handler or
// listeners have returned.
func (call *Call) Done() <-chan struct{} {
	return call.done
}

// Result blocks until the call completes and returns its outcome. It does
// not dispatch; a deferred call must be executed first.
func (call *Call) Result() ([]byte, error) {
	<-call.done
	call.mu.Lock()
	defer call.mu.Unlock()
	return call.body, call.err
}

// start dispatches a sealed call.
func (call *Call) start() {
	call.mu.Lock()
	call.state = CallDispatched
	call.mu.Unlock()
	go call.run()
}

func (call *Call) run() {
	body, err := call.client.dispatch(call.ctx, call.desc)
	call.complete(body, err)
}

func (call *Call) complete(body []byte, err error) {
	call.mu.Lock()
	if call.state != CallDispatched {
		call.mu.Unlock()
		return
	}
	if err != nil {
		call.state = CallFailed
		call.err = err
	} else {
		call.state = CallSucceeded
		call.body = body
	}
	dataFns, errorFns := call.dataFns, call.errorFns
	call.dataFns, call.errorFns = nil, nil
	call.mu.Unlock()
	defer close(call.done)

	if call.handler != nil {
		if err != nil {
			call.handler(nil, err)
		} else {
			call.handler(body, nil)
		}
		return
	}
	if err != nil {
		for _, fn := range errorFns {
			fn(err)
		}
		return
	}
	for _, fn := range dataFns {
		fn(body)
	}
}
