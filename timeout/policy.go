// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"time"

	"github.com/gogama/reqflow/request"
)

// A Policy sets the timeout of each attempt in a descriptor execution,
// the initial attempt as well as every retry.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	// Timeout returns the timeout for the next attempt of execution e.
	// A non-positive result means the attempt never times out.
	Timeout(e *request.Execution) time.Duration
}

// The PolicyFunc type is an adapter to allow the use of ordinary
// functions as timeout policies.
type PolicyFunc func(e *request.Execution) time.Duration

// Timeout returns f(e).
func (f PolicyFunc) Timeout(e *request.Execution) time.Duration {
	return f(e)
}

// DefaultPolicy uses the plan's own Timeout for every attempt, falling
// back to request.DefaultTimeout if the plan's value is not positive.
var DefaultPolicy Policy = PolicyFunc(planTimeout)

// Infinite is a built-in timeout policy which never times out.
var Infinite Policy = Fixed(1<<63 - 1)

// Fixed constructs a timeout policy which returns d for every attempt,
// ignoring the plan's Timeout.
func Fixed(d time.Duration) Policy {
	return steps{d}
}

// Adaptive constructs a timeout policy which lengthens the timeout
// after attempts which timed out.
//
// The usual timeout applies to the initial attempt and to any retry
// whose preceding attempt did not time out. If the preceding attempt
// did time out, the n-th timeout of the execution selects after[n-1],
// and the last element of after once n exceeds len(after).
//
// For example, with
//
//	p := Adaptive(200*time.Millisecond, time.Second, 10*time.Second)
//
// attempts get 200 milliseconds, except one following a first timeout,
// which gets 1 second, and one following any later timeout, which gets
// 10 seconds.
func Adaptive(usual time.Duration, after ...time.Duration) Policy {
	p := make(steps, 1, 1+len(after))
	p[0] = usual
	return append(p, after...)
}

type steps []time.Duration

func (p steps) Timeout(e *request.Execution) time.Duration {
	if !e.Timeout() {
		return p[0]
	}
	i := e.AttemptTimeouts
	if i > len(p)-1 {
		i = len(p) - 1
	}
	return p[i]
}

func planTimeout(e *request.Execution) time.Duration {
	if e.Plan == nil || e.Plan.Timeout <= 0 {
		return request.DefaultTimeout
	}
	return e.Plan.Timeout
}
