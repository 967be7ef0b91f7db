// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import "fmt"

// An Event identifies a lifecycle transition of a descriptor. Events
// are published on a Bus; subscribe to them to observe or extend the
// engine.
type Event int

const (
	// Ready is published when a descriptor has been submitted and is
	// waiting for its initial attempt.
	//
	// The engine which owns the descriptor consumes Ready to dispatch
	// the attempt. Other subscribers only observe it.
	Ready Event = iota
	// Retrying is published after a failed attempt when the retry policy
	// allows another one. The execution's RetryCount has already been
	// incremented and its Err holds the error of the failed attempt.
	Retrying
	// Succeeded is published once, after the descriptor's listener has
	// been told of its success.
	Succeeded
	// Failed is published once, after the descriptor's listener has been
	// told of its failure. The execution's Err holds the terminal error.
	Failed
	// eventSentinel provides the total number of events typed as an
	// Event.
	eventSentinel

	// numEvents provides the total number of events as an int.
	numEvents = int(eventSentinel)
)

var eventNames = []string{
	"Ready",
	"Retrying",
	"Succeeded",
	"Failed",
}

// Events returns a slice containing all lifecycle events in the order
// in which they can occur for a descriptor.
func Events() []Event {
	return []Event{
		Ready,
		Retrying,
		Succeeded,
		Failed,
	}
}

// Terminal reports whether evt ends a descriptor's lifecycle.
func (evt Event) Terminal() bool {
	return evt == Succeeded || evt == Failed
}

// Name returns the name of the event.
func (evt Event) Name() string {
	if !evt.valid() {
		return fmt.Sprintf("Event(%d)", int(evt))
	}
	return eventNames[int(evt)]
}

// String returns the name of the event.
func (evt Event) String() string {
	return evt.Name()
}

func (evt Event) valid() bool {
	return evt >= 0 && evt < eventSentinel
}
