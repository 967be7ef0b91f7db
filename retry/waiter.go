// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gogama/reqflow/request"
)

// A Waiter specifies how long to wait before retrying a failed attempt.
//
// Implementations of Waiter must be safe for concurrent use by multiple
// goroutines.
//
// An engine only consults the Waiter after the policy's Decider has
// allowed the retry. When Wait is called, e.RetryCount still holds the
// count of retries done before the one being scheduled.
type Waiter interface {
	Wait(e *request.Execution) time.Duration
}

// DefaultWaiter retries immediately. Retries are linear: each one is
// dispatched as soon as the previous attempt has failed.
var DefaultWaiter = NewFixedWaiter(0)

// NewFixedWaiter constructs a Waiter that always returns d.
func NewFixedWaiter(d time.Duration) Waiter {
	if d < 0 {
		d = 0
	}
	return fixedWaiter(d)
}

type fixedWaiter time.Duration

func (w fixedWaiter) Wait(_ *request.Execution) time.Duration {
	return time.Duration(w)
}

// NewExpWaiter constructs a Waiter doubling the wait after every retry,
// starting at base and never exceeding max:
//
//	ceil := min(base * 2**e.RetryCount, max)
//
// If src is nil, Wait returns ceil. Otherwise the wait is a random
// duration in [0, ceil) drawn from src ("full jitter").
//
// NewExpWaiter panics if base is not positive or max is less than base.
func NewExpWaiter(base, max time.Duration, src rand.Source) Waiter {
	if base < 1 {
		panic("reqflow/retry: base must be positive")
	}
	if max < base {
		panic("reqflow/retry: max must be at least base")
	}
	w := &expWaiter{base: base, max: max}
	if src != nil {
		w.rand = rand.New(src)
	}
	return w
}

type expWaiter struct {
	base time.Duration
	max  time.Duration
	lock sync.Mutex
	rand *rand.Rand
}

func (w *expWaiter) Wait(e *request.Execution) time.Duration {
	ceil := w.base
	for i := 0; i < e.RetryCount && ceil < w.max; i++ {
		if ceil > w.max/2 {
			ceil = w.max
			break
		}
		ceil *= 2
	}
	if ceil > w.max {
		ceil = w.max
	}
	if w.rand == nil {
		return ceil
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	return time.Duration(w.rand.Int64N(int64(ceil)))
}
