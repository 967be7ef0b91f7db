// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package retry provides policies deciding whether a failed attempt of
// a descriptor execution is retried, and how long to wait first.
//
// A Policy pairs a Decider with a Waiter. NewPolicy assembles one from
// parts:
//
//	decider := retry.Budget.
//	               And(retry.Before(10 * time.Second)).
//	               And(retry.Retryable.Or(retry.StatusCode(429)))
//	waiter := retry.NewExpWaiter(100*time.Millisecond, 2*time.Second, nil)
//	policy := retry.NewPolicy(decider, waiter)
//
// DefaultPolicy retries timeouts, connection errors and 5XX responses
// immediately, up to the plan's MaxRetries.
package retry
