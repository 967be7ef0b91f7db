// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package reqflow executes declarative HTTP request descriptors with
retries, timeouts, optional response caching and a lifecycle event bus.

Describe a call with a descriptor from package request, then submit it
to an Engine:

	d := request.New[Item](request.POST, "https://api.example.com/items/search")
	d.Plan().PutForm("q", "hello world")
	d.Plan().PutFormArray("tags", "x", "y")
	d.Plan().MaxRetries = 3
	_ = d.SetDecoder(request.JSON[Item]())
	d.SetListener(request.ListenerFuncs[Item]{
		Success: func(d *request.Descriptor[Item]) { use(d.Responses()) },
		Failure: func(d *request.Descriptor[Item], err error) { log.Print(err) },
	})

	engine := &reqflow.Engine{}
	defer engine.Close()
	err := engine.Submit(d)

The listener is called exactly once, on an engine worker goroutine.
To wait instead, use Engine.Do, or the generic helpers Get, PostForm,
PutForm and Delete:

	d, err := reqflow.Get(ctx, engine, "https://api.example.com/items", request.JSON[Item]())

Every descriptor goes through the lifecycle events Ready, Retrying (zero
or more times), then Succeeded or Failed. Subscribe to them on the
engine's Bus:

	bus := reqflow.NewBus()
	sub, err := bus.Subscribe(reqflow.HandlerFunc(
		func(evt reqflow.Event, x request.Executable) {
			log.Printf("%s %s", evt, x.Plan().URL)
		}), reqflow.Succeeded, reqflow.Failed)
	engine := &reqflow.Engine{Bus: bus}

For control over how requests are sent, set the engine's HTTPDoer (for
example an *http.Client) and, for plans marked Secure, its TLSDoer. For
control over retries and timeouts, set RetryPolicy and TimeoutPolicy
using packages retry and timeout:

	engine := &reqflow.Engine{
		RetryPolicy:   retry.NewPolicy(retry.DefaultDecider, retry.NewExpWaiter(50*time.Millisecond, time.Second, nil)),
		TimeoutPolicy: timeout.Adaptive(time.Second, 5*time.Second),
	}

To hook into the details of each execution, install hooks:

	hooks := &reqflow.HookGroup{}
	hooks.PushBack(reqflow.BeforeAttempt, reqflow.HookFunc(
		func(_ reqflow.Phase, e *request.Execution) {
			e.Request.Header.Set("X-Retry-Count", strconv.Itoa(e.RetryCount))
		}))
	engine := &reqflow.Engine{Hooks: hooks}
*/
package reqflow
