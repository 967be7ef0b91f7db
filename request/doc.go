// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package request contains the core value types of reqflow: Plan (what
HTTP call to make), Form (its ordered form body), Decoder (how to turn a
response body into typed elements), Descriptor (a plan plus decoder,
listener and decoded responses), and Execution (the mutable state of a
descriptor while an engine runs it).

Create a descriptor, configure it, and submit it to an engine:

	d := request.New[Item](request.POST, "https://example.com/items")
	d.Plan().PutForm("name", "widget")
	d.Plan().PutFormArray("tags", "blue", "small")
	_ = d.Plan().SetHeader("X-Api-Key", key)
	_ = d.SetDecoder(request.JSON[Item]())
	d.SetListener(request.ListenerFuncs[Item]{
		Success: func(d *request.Descriptor[Item]) { ... },
		Failure: func(d *request.Descriptor[Item], err error) { ... },
	})
	err := engine.Submit(d)

Construction never fails. A descriptor with a malformed URL is accepted,
and the engine fails it with a KindInvalidURL error without sending
anything.

Every failure reported by an engine is an *Error whose Kind tells
retryable failures (timeouts, connection errors, 5XX responses) from
terminal ones (invalid URL, 4XX responses, TLS and decode errors,
cancellation).
*/
package request
