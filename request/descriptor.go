// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"errors"
	"sync"
)

// ErrDecoderSet is returned by SetDecoder when the descriptor already
// has a decoder.
var ErrDecoderSet = errors.New("reqflow/request: decoder already set")

// An Executable is the untyped view of a descriptor used by engines,
// event buses and hooks. Descriptor implements it.
//
// Engines call Decode after every successful round trip and Settle
// exactly once when the execution reaches a terminal state. Other code
// should not call either.
type Executable interface {
	// Plan returns the request plan. It is never nil.
	Plan() *Plan
	// Execution returns the execution state. It is never nil.
	Execution() *Execution
	// Decode decodes body and appends the decoded elements to the
	// descriptor's responses. It returns the number of elements
	// appended, or a KindDecode *Error.
	Decode(body []byte) (int, error)
	// Settle notifies the listener of the terminal outcome, success if
	// err is nil and failure otherwise, and closes Done. Only the first
	// call has any effect; it returns false on later calls.
	Settle(err error) bool
	// Done returns a channel which is closed once the descriptor is
	// settled.
	Done() <-chan struct{}
}

// A Listener is notified when a descriptor reaches a terminal state.
// Exactly one of its methods is called, exactly once, per descriptor.
//
// Listener methods run on an engine worker goroutine. They should
// return promptly.
type Listener[T any] interface {
	OnSuccess(d *Descriptor[T])
	OnFailure(d *Descriptor[T], err error)
}

// ListenerFuncs adapts a pair of functions to the Listener interface.
// Either function may be nil.
type ListenerFuncs[T any] struct {
	Success func(d *Descriptor[T])
	Failure func(d *Descriptor[T], err error)
}

// OnSuccess calls l.Success if it is not nil.
func (l ListenerFuncs[T]) OnSuccess(d *Descriptor[T]) {
	if l.Success != nil {
		l.Success(d)
	}
}

// OnFailure calls l.Failure if it is not nil.
func (l ListenerFuncs[T]) OnFailure(d *Descriptor[T], err error) {
	if l.Failure != nil {
		l.Failure(d, err)
	}
}

// A Descriptor describes one HTTP call together with its accumulated
// outcome: the plan, a decoder producing elements of type T, a listener
// notified of the terminal outcome, and the decoded responses.
//
// The caller configures the descriptor (plan fields, headers, form,
// decoder, listener) and then submits it to an engine. From then on the
// engine owns it until it is done; the caller reads the outcome from
// the listener callbacks or after Done is closed.
type Descriptor[T any] struct {
	plan      *Plan
	decoder   Decoder[T]
	listener  Listener[T]
	exec      *Execution
	responses []T
	settle    sync.Once
	done      chan struct{}
}

// New wraps NewWithContext using the background context.
func New[T any](method Method, url string) *Descriptor[T] {
	return NewWithContext[T](context.Background(), method, url)
}

// NewWithContext returns a new descriptor for the given method and URL.
// Like NewPlanWithContext, it never fails: an invalid method or URL is
// reported when the descriptor is executed.
func NewWithContext[T any](ctx context.Context, method Method, url string) *Descriptor[T] {
	return FromPlan[T](NewPlanWithContext(ctx, method, url))
}

// FromPlan returns a new descriptor executing plan p.
func FromPlan[T any](p *Plan) *Descriptor[T] {
	if p == nil {
		panic("reqflow/request: nil plan")
	}
	return &Descriptor[T]{
		plan: p,
		exec: NewExecution(p),
		done: make(chan struct{}),
	}
}

// SetDecoder sets the decoder. The decoder can only be set once; later
// calls return ErrDecoderSet. SetDecoder panics if dec is nil.
//
// A descriptor without a decoder decodes every body to no elements.
func (d *Descriptor[T]) SetDecoder(dec Decoder[T]) error {
	if dec == nil {
		panic("reqflow/request: nil decoder")
	}
	if d.decoder != nil {
		return ErrDecoderSet
	}
	d.decoder = dec
	return nil
}

// SetListener sets the listener notified of the terminal outcome.
func (d *Descriptor[T]) SetListener(l Listener[T]) {
	d.listener = l
}

// Plan returns the descriptor's plan. Configure the plan before the
// descriptor is submitted.
func (d *Descriptor[T]) Plan() *Plan {
	return d.plan
}

// Execution returns the descriptor's execution state.
func (d *Descriptor[T]) Execution() *Execution {
	return d.exec
}

// Responses returns a copy of the decoded elements accumulated so far.
func (d *Descriptor[T]) Responses() []T {
	rs := make([]T, len(d.responses))
	copy(rs, d.responses)
	return rs
}

// RetryCount returns the number of retries performed.
func (d *Descriptor[T]) RetryCount() int {
	return d.exec.RetryCount
}

// StatusCode returns the most recent HTTP status code, or zero.
func (d *Descriptor[T]) StatusCode() int {
	return d.exec.StatusCode
}

// LastError returns the error which ended the most recent attempt, or
// nil if it succeeded or no attempt was made yet.
func (d *Descriptor[T]) LastError() error {
	return d.exec.Err
}

// Canceled reports whether the descriptor's context is done.
func (d *Descriptor[T]) Canceled() bool {
	return d.plan.Canceled()
}

// Decode implements Executable.
func (d *Descriptor[T]) Decode(body []byte) (int, error) {
	if d.decoder == nil {
		return 0, nil
	}
	ts, err := d.decoder.Decode(body)
	if err != nil {
		return 0, NewError(d.plan, KindDecode, 0, err)
	}
	d.responses = append(d.responses, ts...)
	return len(ts), nil
}

// Settle implements Executable.
func (d *Descriptor[T]) Settle(err error) bool {
	settled := false
	d.settle.Do(func() {
		settled = true
		defer close(d.done)
		if d.listener == nil {
			return
		}
		if err == nil {
			d.listener.OnSuccess(d)
		} else {
			d.listener.OnFailure(d, err)
		}
	})
	return settled
}

// Done implements Executable.
func (d *Descriptor[T]) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the descriptor is done or ctx is done. It returns
// the terminal error of the descriptor (nil on success), or the
// context's error.
func (d *Descriptor[T]) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.exec.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
