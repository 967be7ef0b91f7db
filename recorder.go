// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"sync"

	"github.com/gogama/reqflow/request"
)

// A Recorder is a hook which remembers the most recent finished
// execution and counts executions and attempts. It is meant for
// debugging and tests.
//
// Install it with Install. The zero value is ready to use.
type Recorder struct {
	lock       sync.Mutex
	last       *request.Execution
	executions int
	attempts   int
	failures   int
}

// Install adds the recorder to the AfterAttempt and AfterExecutionEnd
// chains of g.
func (r *Recorder) Install(g *HookGroup) {
	g.PushBack(AfterAttempt, r)
	g.PushBack(AfterExecutionEnd, r)
}

// RunHook implements Hook.
func (r *Recorder) RunHook(ph Phase, e *request.Execution) {
	r.lock.Lock()
	defer r.lock.Unlock()
	switch ph {
	case AfterAttempt:
		r.attempts++
	case AfterExecutionEnd:
		r.executions++
		if e.Err != nil {
			r.failures++
		}
		r.last = e
	}
}

// Last returns the most recently finished execution, or nil.
func (r *Recorder) Last() *request.Execution {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.last
}

// Executions returns the number of finished executions.
func (r *Recorder) Executions() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.executions
}

// Failures returns the number of finished executions which failed.
func (r *Recorder) Failures() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.failures
}

// Attempts returns the number of attempts made, including attempts
// served from the cache.
func (r *Recorder) Attempts() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.attempts
}
