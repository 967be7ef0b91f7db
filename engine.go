// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gogama/reqflow/cache"
	"github.com/gogama/reqflow/request"
	"github.com/gogama/reqflow/retry"
	"github.com/gogama/reqflow/timeout"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrClosed is returned by Submit after the engine has been closed.
	ErrClosed = errors.New("reqflow: engine closed")
	// ErrInFlight is returned by Submit when the descriptor has already
	// been submitted, to this or any other engine.
	ErrInFlight = errors.New("reqflow: descriptor already submitted")
)

var discard = slog.New(slog.DiscardHandler)

// An HTTPDoer implements a Do method in the same manner as the standard
// library http.Client from the net/http package.
type HTTPDoer interface {
	// Do sends an HTTP request and returns an HTTP response following
	// policy (such as redirects, cookies, auth) configured on the
	// HTTPDoer.
	//
	// The Do method must follow the contract documented on the
	// standard library http.Client from the net/http package.
	Do(r *http.Request) (*http.Response, error)
}

// An Engine executes descriptors. Its zero value is a valid
// configuration.
//
// The zero value engine uses http.DefaultClient as the HTTPDoer,
// timeout.DefaultPolicy and retry.DefaultPolicy, a private event bus,
// no hooks, no cache, no rate limit and no concurrency limit.
//
// Submitting a descriptor publishes Ready on the engine's bus. The
// engine consumes its own Ready and Retrying events and runs every
// attempt on a worker goroutine, so neither Submit nor event delivery
// ever waits on the network. Each descriptor goes through:
//
//	Ready -> Executing -> Succeeded
//	                   -> Failed
//	                   -> Retrying -> Ready ...
//
// A failed attempt is retried while the retry policy allows it: by
// default while RetryCount is below the plan's MaxRetries and the
// failure was a timeout, a connection error or a 5XX status. When the
// descriptor settles, its listener is called exactly once and then
// Succeeded or Failed is published.
//
// An Engine is safe for concurrent use by multiple goroutines. Its
// exported fields must not be changed after the first call to Submit.
type Engine struct {
	// HTTPDoer sends the requests of plans which are not Secure, and of
	// Secure plans if TLSDoer is nil.
	//
	// If HTTPDoer is nil, http.DefaultClient from the standard net/http
	// package is used.
	HTTPDoer HTTPDoer
	// TLSDoer sends the requests of Secure plans. Use it to plug in a
	// client with a dedicated TLS configuration.
	//
	// If TLSDoer is nil, Secure plans use HTTPDoer.
	TLSDoer HTTPDoer
	// RetryPolicy decides when to retry failed attempts and how long
	// to wait after a failed attempt before retrying.
	//
	// If RetryPolicy is nil, retry.DefaultPolicy is used.
	RetryPolicy retry.Policy
	// TimeoutPolicy specifies how to set timeouts on individual
	// attempts.
	//
	// If TimeoutPolicy is nil, timeout.DefaultPolicy is used.
	TimeoutPolicy timeout.Policy
	// Hooks holds hooks run synchronously at designated phases of every
	// execution.
	//
	// If Hooks is nil, no hooks are run.
	Hooks *HookGroup
	// Bus carries the lifecycle events. Several engines and any number
	// of observers may share one bus; each engine only executes the
	// descriptors submitted to it.
	//
	// If Bus is nil, the engine creates a private bus, which it closes
	// in Close.
	Bus *Bus
	// Cache is consulted before, and filled after, the attempts of
	// plans with ForceCache set.
	//
	// If Cache is nil, ForceCache has no effect.
	Cache cache.Cache
	// Limiter limits the rate of attempts, including attempts served
	// from the cache.
	//
	// If Limiter is nil, attempts are not rate limited.
	Limiter *rate.Limiter
	// Concurrency is the maximum number of attempts in progress at once.
	// Descriptors waiting for a slot stay dispatched; they do not block
	// event delivery.
	//
	// If Concurrency is zero or negative, attempts are not limited.
	Concurrency int
	// Clock supplies the time for execution timestamps, attempt
	// timeouts and retry waits.
	//
	// If Clock is nil, the system clock is used.
	Clock clock.Clock
	// Logger receives the engine's structured logs.
	//
	// If Logger is nil, logs are discarded.
	Logger *slog.Logger

	once    sync.Once
	initErr error
	bus     *Bus
	ownBus  bool
	sub     *Subscription
	sem     *semaphore.Weighted
	clock   clock.Clock
	logger  *slog.Logger

	lock    sync.Mutex
	closed  bool
	flights map[*request.Execution]*flight
	wg      sync.WaitGroup
}

type flight struct {
	wait time.Duration
}

func (eng *Engine) init() {
	eng.once.Do(func() {
		eng.logger = eng.Logger
		if eng.logger == nil {
			eng.logger = discard
		}
		eng.clock = eng.Clock
		if eng.clock == nil {
			eng.clock = clock.New()
		}
		if eng.Concurrency > 0 {
			eng.sem = semaphore.NewWeighted(int64(eng.Concurrency))
		}
		eng.flights = make(map[*request.Execution]*flight)
		eng.bus = eng.Bus
		if eng.bus == nil {
			eng.bus = &Bus{Logger: eng.logger}
			eng.ownBus = true
		}
		eng.sub, eng.initErr = eng.bus.Subscribe(HandlerFunc(eng.handle), Ready, Retrying)
	})
}

// Submit hands descriptor x to the engine and publishes Ready. It
// returns as soon as the event is published; the outcome is reported
// to the descriptor's listener, on the bus, and through x.Done.
//
// Submit returns ErrInFlight if x was submitted before, and ErrClosed
// if the engine has been closed. If Bus was already closed when the
// engine first used it, Submit returns ErrBusClosed.
func (eng *Engine) Submit(x request.Executable) error {
	if x == nil {
		panic("reqflow: nil executable")
	}
	eng.init()
	if eng.initErr != nil {
		return eng.initErr
	}
	e := x.Execution()
	eng.lock.Lock()
	if eng.closed {
		eng.lock.Unlock()
		return ErrClosed
	}
	if !e.Claim() {
		eng.lock.Unlock()
		return ErrInFlight
	}
	eng.flights[e] = &flight{}
	eng.wg.Add(1)
	eng.lock.Unlock()

	p := x.Plan()
	eng.logger.Debug("descriptor submitted", planAttrs(p)...)
	if err := eng.bus.Publish(Ready, x); err != nil {
		eng.logger.Warn("bus closed, dispatching directly", append(planAttrs(p), "error", err)...)
		go eng.run(x, false)
	}
	return nil
}

// Do submits x and waits until it settles or ctx is done. It returns
// the terminal error of x, nil on success, or the error from Submit or
// ctx.
//
// Canceling ctx only stops the wait. To cancel the execution, cancel
// the context of x's plan.
func (eng *Engine) Do(ctx context.Context, x request.Executable) error {
	if err := eng.Submit(x); err != nil {
		return err
	}
	select {
	case <-x.Done():
		return x.Execution().Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight returns the number of submitted descriptors which have not
// yet settled.
func (eng *Engine) InFlight() int {
	eng.lock.Lock()
	defer eng.lock.Unlock()
	return len(eng.flights)
}

// Close stops accepting submissions, waits for every in-flight
// descriptor to settle, and detaches the engine from its bus. If the
// engine created its own bus, Close also closes it.
//
// Close must not be called from a listener, hook or bus handler.
func (eng *Engine) Close() error {
	eng.init()
	eng.lock.Lock()
	if eng.closed {
		eng.lock.Unlock()
		return nil
	}
	eng.closed = true
	eng.lock.Unlock()

	eng.wg.Wait()
	if eng.sub != nil {
		eng.sub.Cancel()
		<-eng.sub.Done()
	}
	if eng.ownBus {
		return eng.bus.Close()
	}
	return nil
}

// CloseIdleConnections invokes the same method on the engine's doers,
// if they have one.
func (eng *Engine) CloseIdleConnections() {
	for _, doer := range []HTTPDoer{eng.doer(false), eng.TLSDoer} {
		if ic, ok := doer.(interface{ CloseIdleConnections() }); ok {
			ic.CloseIdleConnections()
		}
	}
}

func (eng *Engine) handle(evt Event, x request.Executable) {
	eng.lock.Lock()
	_, ok := eng.flights[x.Execution()]
	eng.lock.Unlock()
	if !ok {
		return
	}
	switch evt {
	case Ready:
		go eng.run(x, false)
	case Retrying:
		go eng.run(x, true)
	}
}

func (eng *Engine) run(x request.Executable, retrying bool) {
	p, e := x.Plan(), x.Execution()
	ctx := p.Context()

	if retrying {
		if d := eng.retryWait(e); d > 0 {
			t := eng.clock.Timer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				eng.fail(x, request.NewError(p, request.KindCanceled, 0, ctx.Err()))
				return
			}
		}
	} else {
		eng.Hooks.run(BeforeExecutionStart, e)
		e.Start = eng.clock.Now()
	}

	if err := p.Err(); err != nil {
		eng.fail(x, err)
		return
	}
	if ctx.Err() != nil {
		eng.fail(x, request.NewError(p, request.KindCanceled, 0, ctx.Err()))
		return
	}
	if eng.sem != nil {
		if err := eng.sem.Acquire(ctx, 1); err != nil {
			eng.fail(x, request.NewError(p, request.KindCanceled, 0, err))
			return
		}
		defer eng.sem.Release(1)
	}
	if eng.Limiter != nil {
		if err := eng.Limiter.Wait(ctx); err != nil {
			eng.fail(x, request.NewError(p, request.KindCanceled, 0, err))
			return
		}
	}

	e.Request = nil
	e.StatusCode = 0
	e.Header = nil
	e.Body = nil
	e.Err = nil
	e.FromCache = false
	e.Latency = 0

	if eng.fromCache(x) {
		eng.Hooks.run(AfterAttempt, e)
		eng.complete(x)
		return
	}

	eng.attempt(x)
	if e.Timeout() {
		e.AttemptTimeouts++
		eng.Hooks.run(AfterAttemptTimeout, e)
	}
	eng.Hooks.run(AfterAttempt, e)

	if e.Err == nil {
		eng.toCache(x)
		eng.complete(x)
		return
	}
	if ctx.Err() != nil {
		eng.fail(x, request.NewError(p, request.KindCanceled, 0, ctx.Err()))
		return
	}
	eng.retryOrFail(x)
}

func (eng *Engine) attempt(x request.Executable) {
	p, e := x.Plan(), x.Execution()
	ctx, cancel := eng.attemptContext(p.Context(), eng.timeoutPolicy().Timeout(e))
	defer cancel()

	e.Request = p.ToRequest(ctx)
	eng.Hooks.run(BeforeAttempt, e)
	start := eng.clock.Now()
	resp, err := eng.doer(p.Secure).Do(e.Request)
	if err == nil {
		e.StatusCode = resp.StatusCode
		e.Header = resp.Header
		e.Body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
	}
	e.Latency = eng.clock.Since(start)

	switch {
	case err != nil:
		kind := request.Classify(err)
		if kind == request.KindCanceled && p.Context().Err() == nil {
			kind = request.KindTimeout
		}
		e.Err = request.NewError(p, kind, 0, err)
	case e.StatusCode >= 400:
		e.Err = request.NewError(p, request.StatusKind(e.StatusCode), e.StatusCode, nil)
	}
	eng.logger.Debug("attempt finished",
		append(planAttrs(p),
			"retry", e.RetryCount,
			"status", e.StatusCode,
			"latency", e.Latency,
			"kind", e.Kind().String())...)
}

func (eng *Engine) attemptContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return eng.clock.WithTimeout(parent, d)
}

func (eng *Engine) fromCache(x request.Executable) bool {
	p, e := x.Plan(), x.Execution()
	if !p.ForceCache || eng.Cache == nil {
		return false
	}
	ent, ok, err := eng.Cache.Get(p.Context(), p.CacheKey())
	if err != nil {
		eng.logger.Warn("cache lookup failed", append(planAttrs(p), "error", err)...)
		return false
	}
	if !ok {
		return false
	}
	e.FromCache = true
	e.StatusCode = ent.StatusCode
	e.Header = ent.Header
	e.Body = ent.Body
	eng.logger.Debug("served from cache", planAttrs(p)...)
	return true
}

func (eng *Engine) toCache(x request.Executable) {
	p, e := x.Plan(), x.Execution()
	if !p.ForceCache || eng.Cache == nil {
		return
	}
	ent := cache.Entry{
		StatusCode: e.StatusCode,
		Header:     e.Header,
		Body:       e.Body,
		Stored:     eng.clock.Now(),
	}
	if err := eng.Cache.Set(p.Context(), p.CacheKey(), ent); err != nil {
		eng.logger.Warn("cache store failed", append(planAttrs(p), "error", err)...)
	}
}

func (eng *Engine) complete(x request.Executable) {
	e := x.Execution()
	if _, err := x.Decode(e.Body); err != nil {
		eng.fail(x, err)
		return
	}
	eng.finish(x, Succeeded)
}

func (eng *Engine) retryOrFail(x request.Executable) {
	p, e := x.Plan(), x.Execution()
	policy := eng.retryPolicy()
	if e.RetryCount >= e.MaxRetries() || !policy.Decide(e) {
		eng.finish(x, Failed)
		return
	}
	wait := policy.Wait(e)
	eng.lock.Lock()
	if f := eng.flights[e]; f != nil {
		f.wait = wait
	}
	eng.lock.Unlock()
	e.RetryCount++
	eng.logger.Warn("retrying",
		append(planAttrs(p),
			"retry", e.RetryCount,
			"wait", wait,
			"error", e.Err)...)
	if err := eng.bus.Publish(Retrying, x); err != nil {
		eng.logger.Warn("bus closed, dispatching directly", append(planAttrs(p), "error", err)...)
		go eng.run(x, true)
	}
}

func (eng *Engine) retryWait(e *request.Execution) time.Duration {
	eng.lock.Lock()
	defer eng.lock.Unlock()
	if f := eng.flights[e]; f != nil {
		return f.wait
	}
	return 0
}

func (eng *Engine) fail(x request.Executable, err error) {
	x.Execution().Err = err
	eng.finish(x, Failed)
}

func (eng *Engine) finish(x request.Executable, evt Event) {
	p, e := x.Plan(), x.Execution()
	e.End = eng.clock.Now()
	eng.Hooks.run(AfterExecutionEnd, e)

	if evt == Succeeded {
		eng.logger.Debug("descriptor succeeded",
			append(planAttrs(p),
				"retry", e.RetryCount,
				"status", e.StatusCode,
				"from_cache", e.FromCache)...)
	} else {
		eng.logger.Error("descriptor failed",
			append(planAttrs(p),
				"retry", e.RetryCount,
				"status", e.StatusCode,
				"kind", e.Kind().String(),
				"error", e.Err)...)
	}

	eng.settle(x, e.Err)
	if err := eng.bus.Publish(evt, x); err != nil {
		eng.logger.Debug("terminal event not published", append(planAttrs(p), "event", evt.Name(), "error", err)...)
	}

	eng.lock.Lock()
	delete(eng.flights, e)
	eng.lock.Unlock()
	eng.wg.Done()
}

func (eng *Engine) settle(x request.Executable, err error) {
	defer func() {
		if r := recover(); r != nil {
			eng.logger.Error("listener panicked", append(planAttrs(x.Plan()), "panic", r)...)
		}
	}()
	x.Settle(err)
}

func (eng *Engine) doer(secure bool) HTTPDoer {
	if secure && eng.TLSDoer != nil {
		return eng.TLSDoer
	}
	if eng.HTTPDoer == nil {
		return http.DefaultClient
	}
	return eng.HTTPDoer
}

func (eng *Engine) retryPolicy() retry.Policy {
	if eng.RetryPolicy == nil {
		return retry.DefaultPolicy
	}
	return eng.RetryPolicy
}

func (eng *Engine) timeoutPolicy() timeout.Policy {
	if eng.TimeoutPolicy == nil {
		return timeout.DefaultPolicy
	}
	return eng.TimeoutPolicy
}

func planAttrs(p *request.Plan) []any {
	attrs := []any{"request_id", p.ID(), "method", string(p.Method)}
	if p.URL != nil {
		attrs = append(attrs, "url", p.URL.Redacted())
	}
	return attrs
}
