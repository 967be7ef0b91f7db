// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"time"

	"github.com/gogama/reqflow/request"
)

// A Decider decides if a retry should be done after a failed attempt.
//
// Implementations of Decider must be safe for concurrent use by
// multiple goroutines.
//
// Use the built-in deciders Budget and Retryable, the constructors
// Times, Kinds, StatusCode and Before, or implement your own Decider.
// Use DeciderFunc to convert an ordinary function into a Decider, and
// to compose deciders logically using DeciderFunc.And and DeciderFunc.Or.
type Decider interface {
	Decide(e *request.Execution) bool
}

// DeciderFunc adapts a plain function into a Decider and adds the
// combinators And and Or. The function must be safe for concurrent use.
type DeciderFunc func(e *request.Execution) bool

// DefaultDecider retries while the plan's retry budget lasts
// (Budget) and the last attempt failed with a retryable error kind
// (Retryable): a timeout, a connection error, or a 5XX response.
var DefaultDecider = Budget.And(Retryable)

// Budget is a decider that allows a retry while the execution's retry
// count is below the plan's MaxRetries.
var Budget DeciderFunc = budget

// Retryable is a decider that allows a retry if the current error
// has a kind which is retryable by default (see request.Kind.Retryable).
var Retryable DeciderFunc = retryable

// Decide reports f(e).
func (f DeciderFunc) Decide(e *request.Execution) bool {
	return f(e)
}

// And returns a decider allowing a retry only when both f and g allow
// it. g is not consulted when f refuses.
func (f DeciderFunc) And(g DeciderFunc) DeciderFunc {
	return func(e *request.Execution) bool {
		return f(e) && g(e)
	}
}

// Or returns a decider allowing a retry when f or g allows it. g is not
// consulted when f allows.
func (f DeciderFunc) Or(g DeciderFunc) DeciderFunc {
	return func(e *request.Execution) bool {
		return f(e) || g(e)
	}
}

// Times constructs a retry decider which allows up to n retries. The
// returned decider returns true while e.RetryCount is less than n.
//
// An engine never retries beyond the plan's MaxRetries, whatever the
// decider says, so Times can only tighten the plan's budget.
func Times(n int) DeciderFunc {
	return func(e *request.Execution) bool {
		return e.RetryCount < n
	}
}

// Kinds constructs a retry decider which allows a retry if the current
// error has one of the given kinds. Use it to opt into retrying kinds
// which are terminal by default, for example:
//
//	retry.Budget.And(retry.Retryable.Or(retry.Kinds(request.KindClient)))
func Kinds(ks ...request.Kind) DeciderFunc {
	ks2 := make([]request.Kind, len(ks))
	copy(ks2, ks)
	return func(e *request.Execution) bool {
		k := e.Kind()
		for _, x := range ks2 {
			if k == x {
				return true
			}
		}
		return false
	}
}

// Before allows retries while less than d has elapsed since the
// execution started.
func Before(d time.Duration) DeciderFunc {
	return func(e *request.Execution) bool {
		return e.Duration() < d
	}
}

// StatusCode allows a retry when the latest attempt got one of the
// given status codes.
func StatusCode(ss ...int) DeciderFunc {
	ss2 := make([]int, len(ss))
	copy(ss2, ss)
	return func(e *request.Execution) bool {
		for _, s := range ss2 {
			if e.StatusCode == s {
				return true
			}
		}
		return false
	}
}

func budget(e *request.Execution) bool {
	return e.RetryCount < e.MaxRetries()
}

func retryable(e *request.Execution) bool {
	return e.Kind().Retryable()
}
