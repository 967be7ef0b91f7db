// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// An Execution represents the state of a single Plan execution.
//
// The Execution is updated by the engine as the execution progresses,
// for example when a response becomes available or when a retry is
// needed. Only one engine operation owns an Execution at any time, so
// the engine updates it without locking. Other goroutines should read
// it only from engine callbacks (hooks, listeners, bus handlers) or
// after the owning descriptor is done.
//
// Hooks may set values on an Execution using SetValue and read them
// back using Value. They should treat the exported fields as read-only.
type Execution struct {
	// Plan specifies the plan being executed. It is never nil.
	Plan *Plan
	// Start is the time the execution started. It is zero until the
	// engine dispatches the first attempt.
	Start time.Time
	// End is the time the execution reached a terminal state. It is
	// zero until then.
	End time.Time
	// RetryCount is the number of retries performed so far. It is zero
	// during the initial attempt, one during the first retry, and so
	// on. It never exceeds Plan.MaxRetries.
	RetryCount int
	// AttemptTimeouts counts the attempts which ended in a timeout.
	AttemptTimeouts int
	// Request is the HTTP request of the current or most recent attempt.
	// It is nil if the attempt was served from cache.
	Request *http.Request
	// StatusCode is the HTTP status of the most recent response. It is
	// zero until the first response arrives.
	StatusCode int
	// Header holds the headers of the most recent response.
	Header http.Header
	// Body is the complete body of the most recent response.
	Body []byte
	// Err is the error which ended the most recent attempt, or the
	// error which ended the execution. Whenever Err is non-nil it has
	// type *Error.
	Err error
	// FromCache indicates the most recent response was served from the
	// engine's response cache.
	FromCache bool
	// Latency is the duration of the most recent attempt.
	Latency time.Duration

	data    context.Context
	claimed atomic.Bool
}

// NewExecution returns a new Execution for plan p.
func NewExecution(p *Plan) *Execution {
	return &Execution{Plan: p}
}

// Claim marks the execution as owned by an engine. It returns true the
// first time it is called and false thereafter, so an execution can
// only ever be submitted once.
func (e *Execution) Claim() bool {
	return e.claimed.CompareAndSwap(false, true)
}

// Claimed reports whether the execution has been claimed.
func (e *Execution) Claimed() bool {
	return e.claimed.Load()
}

// MaxRetries returns the retry budget of the plan, never negative.
func (e *Execution) MaxRetries() int {
	if e.Plan == nil || e.Plan.MaxRetries < 0 {
		return 0
	}
	return e.Plan.MaxRetries
}

// Duration returns End minus Start for an ended execution, the time
// elapsed since Start for a running one, and zero before it starts.
func (e *Execution) Duration() time.Duration {
	if !e.Started() {
		return time.Duration(0)
	} else if !e.Ended() {
		return time.Since(e.Start)
	}
	return e.End.Sub(e.Start)
}

// Started reports whether Start is set.
func (e *Execution) Started() bool {
	return e.Start != (time.Time{})
}

// Ended reports whether End is set.
func (e *Execution) Ended() bool {
	return e.End != (time.Time{})
}

// Kind returns the kind of Err.
func (e *Execution) Kind() Kind {
	return KindOf(e.Err)
}

// Timeout indicates whether Err currently contains a timeout.
//
// Note that Timeout may return false even if AttemptTimeouts > 0, if
// the most recent attempt did not end in a timeout.
func (e *Execution) Timeout() bool {
	return e.Kind() == KindTimeout
}

// SetValue attaches a hook-private value to the execution. Keys follow
// the rules of context.WithValue; use an unexported key type.
func (e *Execution) SetValue(key, value interface{}) {
	ctx := e.data
	if ctx == nil {
		ctx = context.Background()
	}
	e.data = context.WithValue(ctx, key, value)
}

// Value returns the value stored under key by SetValue, or nil.
func (e *Execution) Value(key interface{}) interface{} {
	ctx := e.data
	if ctx == nil {
		return nil
	}
	return ctx.Value(key)
}
