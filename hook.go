// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"fmt"

	"github.com/gogama/reqflow/request"
)

// A Phase identifies a point inside an engine's attempt loop at which
// hooks run. Unlike bus events, hooks run synchronously on the worker
// goroutine executing the descriptor, so they see the execution while
// it is being updated and may store values on it with SetValue.
type Phase int

const (
	// BeforeExecutionStart runs once per descriptor, before its initial
	// attempt. The execution's Start is still zero.
	BeforeExecutionStart Phase = iota
	// BeforeAttempt runs before every attempt which goes to the network.
	// The execution's Request is set to the request about to be sent.
	// It is built afresh from the plan for every attempt, so hooks may
	// change it without affecting the plan or later attempts.
	BeforeAttempt
	// AfterAttemptTimeout runs after an attempt timed out. The
	// execution's AttemptTimeouts has already been incremented.
	AfterAttemptTimeout
	// AfterAttempt runs after every attempt, whether it went to the
	// network or was served from the cache, and whether it succeeded
	// or not. It runs before the retry policy is consulted.
	AfterAttempt
	// AfterExecutionEnd runs once per descriptor, after its execution
	// reached a terminal state and End was set, and before the listener
	// is called.
	AfterExecutionEnd
	phaseSentinel

	numPhases = int(phaseSentinel)
)

var phaseNames = []string{
	"BeforeExecutionStart",
	"BeforeAttempt",
	"AfterAttemptTimeout",
	"AfterAttempt",
	"AfterExecutionEnd",
}

// Phases returns all hook phases in the order in which they occur.
func Phases() []Phase {
	return []Phase{
		BeforeExecutionStart,
		BeforeAttempt,
		AfterAttemptTimeout,
		AfterAttempt,
		AfterExecutionEnd,
	}
}

// Name returns the name of the phase.
func (ph Phase) Name() string {
	if ph < 0 || ph >= phaseSentinel {
		return fmt.Sprintf("Phase(%d)", int(ph))
	}
	return phaseNames[int(ph)]
}

// String returns the name of the phase.
func (ph Phase) String() string {
	return ph.Name()
}

// A HookGroup is a group of hook chains, one per phase, which can be
// installed in an Engine.
//
// Hooks must not be added to a group while an engine using it is
// executing descriptors.
type HookGroup struct {
	hooks [][]Hook
}

// PushBack adds a hook to the back of the chain for phase ph.
func (g *HookGroup) PushBack(ph Phase, h Hook) {
	if h == nil {
		panic("reqflow: nil hook")
	}
	if ph < 0 || ph >= phaseSentinel {
		panic(fmt.Sprintf("reqflow: invalid phase %d", int(ph)))
	}
	if g.hooks == nil {
		g.hooks = make([][]Hook, numPhases)
	}
	g.hooks[ph] = append(g.hooks[ph], h)
}

// Len returns the number of hooks in the chain for phase ph.
func (g *HookGroup) Len(ph Phase) int {
	if g == nil || int(ph) >= len(g.hooks) || ph < 0 {
		return 0
	}
	return len(g.hooks[ph])
}

func (g *HookGroup) run(ph Phase, e *request.Execution) {
	if g == nil {
		return
	}
	i := int(ph)
	if i < len(g.hooks) {
		for _, h := range g.hooks[i] {
			h.RunHook(ph, e)
		}
	}
}

// A Hook runs at a designated phase of a descriptor execution.
type Hook interface {
	RunHook(Phase, *request.Execution)
}

// The HookFunc type is an adapter to allow the use of ordinary
// functions as hooks.
type HookFunc func(Phase, *request.Execution)

// RunHook calls f(ph, e).
func (f HookFunc) RunHook(ph Phase, e *request.Execution) {
	f(ph, e)
}
