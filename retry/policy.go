// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"time"

	"github.com/gogama/reqflow/request"
)

// A Policy controls if and how retries are done in a descriptor
// execution. After every failed attempt, a Policy decides whether a
// retry should be done and, if so, how long to wait before retrying.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	Decider
	Waiter
}

// DefaultPolicy is the retry policy used by an engine with no policy
// configured. It composes DefaultDecider with DefaultWaiter, so it
// retries retryable failures within the plan's budget, immediately.
var DefaultPolicy Policy = policy{DefaultDecider, DefaultWaiter}

// Never is a policy that never retries.
var Never Policy = policy{Times(0), DefaultWaiter}

type policy struct {
	decider Decider
	waiter  Waiter
}

// NewPolicy composes a Decider and a Waiter into a retry Policy.
func NewPolicy(d Decider, w Waiter) Policy {
	if d == nil {
		panic("reqflow/retry: nil decider")
	}
	if w == nil {
		panic("reqflow/retry: nil waiter")
	}
	return policy{decider: d, waiter: w}
}

func (p policy) Decide(e *request.Execution) bool {
	return p.decider.Decide(e)
}

func (p policy) Wait(e *request.Execution) time.Duration {
	return p.waiter.Wait(e)
}
