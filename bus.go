// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gogama/reqflow/request"
)

// ErrBusClosed is returned by Publish and Subscribe after the bus has
// been closed.
var ErrBusClosed = errors.New("reqflow: bus closed")

// A Handler handles a lifecycle event delivered by a Bus.
//
// Until a terminal event (Succeeded or Failed) is delivered, the engine
// may be updating the execution of x concurrently, so handlers of Ready
// and Retrying should only read x's plan.
type Handler interface {
	HandleEvent(evt Event, x request.Executable)
}

// The HandlerFunc type is an adapter to allow the use of ordinary
// functions as bus handlers.
type HandlerFunc func(Event, request.Executable)

// HandleEvent calls f(evt, x).
func (f HandlerFunc) HandleEvent(evt Event, x request.Executable) {
	f(evt, x)
}

// A Bus delivers lifecycle events from publishers to subscribers.
//
// Every subscription has its own mailbox: an unbounded FIFO queue
// drained by a dedicated goroutine. Publish only enqueues, so it never
// waits for a handler, and a slow subscriber never delays the others.
// Publish enqueues into all matching mailboxes atomically, so every
// subscriber observes the events of one descriptor in the order they
// were published.
//
// The zero value is an empty bus ready to use. A Bus is safe for
// concurrent use by multiple goroutines, and may be shared by several
// engines.
type Bus struct {
	// Logger receives handler panics. If nil, they are discarded.
	Logger *slog.Logger

	lock   sync.Mutex
	subs   []*Subscription
	closed bool
}

type delivery struct {
	evt Event
	x   request.Executable
}

// NewBus returns a new, empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h to receive events of the given types. With no
// event types, h receives every event.
//
// Each call creates a separate subscription with its own mailbox, so h
// is never called concurrently with itself for the same subscription.
// Subscribe panics if h is nil or an event type is invalid.
func (b *Bus) Subscribe(h Handler, evts ...Event) (*Subscription, error) {
	if h == nil {
		panic("reqflow: nil handler")
	}
	var mask uint32
	for _, evt := range evts {
		if !evt.valid() {
			panic("reqflow: invalid event " + evt.Name())
		}
		mask |= 1 << uint(evt)
	}
	if mask == 0 {
		mask = 1<<uint(numEvents) - 1
	}
	s := &Subscription{
		bus:     b,
		handler: h,
		mask:    mask,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.lock)
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.subs = append(b.subs, s)
	go s.loop()
	return s, nil
}

// Publish delivers evt for x to every subscription interested in evt.
// It returns ErrBusClosed if the bus has been closed, and panics if x
// is nil or evt is invalid.
func (b *Bus) Publish(evt Event, x request.Executable) error {
	if x == nil {
		panic("reqflow: nil executable")
	}
	if !evt.valid() {
		panic("reqflow: invalid event " + evt.Name())
	}
	d := delivery{evt: evt, x: x}
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, s := range b.subs {
		if s.mask&(1<<uint(evt)) != 0 {
			s.enqueue(d)
		}
	}
	return nil
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.subs)
}

// Close stops the bus. Events already enqueued are still delivered;
// Close returns once every mailbox has been drained. Later calls to
// Publish and Subscribe return ErrBusClosed.
//
// Close must not be called from a handler.
func (b *Bus) Close() error {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.lock.Unlock()
	for _, s := range subs {
		s.stop()
	}
	for _, s := range subs {
		<-s.done
	}
	return nil
}

func (b *Bus) remove(s *Subscription) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for i, t := range b.subs {
		if t == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) logger() *slog.Logger {
	if b.Logger == nil {
		return discard
	}
	return b.Logger
}

// A Subscription is a handler's registration on a Bus.
type Subscription struct {
	bus     *Bus
	handler Handler
	mask    uint32

	lock    sync.Mutex
	cond    *sync.Cond
	queue   []delivery
	stopped bool
	done    chan struct{}
}

// Cancel removes the subscription from its bus. Events already in the
// mailbox are still delivered; Done is closed once they have been.
func (s *Subscription) Cancel() {
	s.bus.remove(s)
	s.stop()
}

// Done returns a channel which is closed once the subscription has been
// canceled and its mailbox drained.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Pending returns the number of events waiting in the mailbox.
func (s *Subscription) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.queue)
}

func (s *Subscription) enqueue(d delivery) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.stopped {
		return
	}
	s.queue = append(s.queue, d)
	s.cond.Signal()
}

func (s *Subscription) stop() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stopped = true
	s.cond.Signal()
}

func (s *Subscription) loop() {
	defer close(s.done)
	for {
		s.lock.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.lock.Unlock()
			return
		}
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		s.lock.Unlock()
		s.deliver(d)
	}
}

func (s *Subscription) deliver(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.logger().Error("event handler panicked",
				"event", d.evt.Name(),
				"request_id", d.x.Plan().ID(),
				"panic", r)
		}
	}()
	s.handler.HandleEvent(d.evt, d.x)
}
