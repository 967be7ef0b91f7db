// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"context"

	"github.com/gogama/reqflow/request"
)

// Submitter is the interface that wraps the basic Submit method.
//
// Submit hands a descriptor over for asynchronous execution and returns
// without waiting for the outcome. Engine implements Submitter, and any
// other implementation must settle every descriptor it accepts exactly
// once.
type Submitter interface {
	Submit(x request.Executable) error
}

// Doer is the interface that wraps the basic Do method.
//
// Do submits a descriptor and waits until it settles or ctx is done,
// returning the descriptor's terminal error. Engine implements Doer.
//
// Any Submitter can be used to emulate a Doer via the Do function.
type Doer interface {
	Do(ctx context.Context, x request.Executable) error
}

// IdleCloser is the interface that wraps the basic CloseIdleConnections
// method.
//
// If the underlying transport supports it, CloseIdleConnections closes
// connections sitting idle in a "keep-alive" state. It does not
// interrupt connections currently in use.
type IdleCloser interface {
	CloseIdleConnections()
}

// Executor is the interface that groups the basic Submit, Do and
// CloseIdleConnections methods.
//
// Any Submitter can be converted into an Executor via the Inflate
// function.
type Executor interface {
	Submitter
	Doer
	IdleCloser
}

// Do uses s to submit x and waits until x settles or ctx is done. If s
// is also a Doer, its Do method is used.
func Do(ctx context.Context, s Submitter, x request.Executable) error {
	if d, ok := s.(Doer); ok {
		return d.Do(ctx, x)
	}
	if err := s.Submit(x); err != nil {
		return err
	}
	select {
	case <-x.Done():
		return x.Execution().Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get uses s to execute a GET to url, decoding the response with dec,
// which may be nil. The descriptor's context is ctx.
//
// The returned descriptor is never nil; it holds the decoded responses
// on success and the execution state in any case.
func Get[T any](ctx context.Context, s Submitter, url string, dec request.Decoder[T]) (*request.Descriptor[T], error) {
	return call(ctx, s, request.GET, url, nil, dec)
}

// PostForm uses s to execute a POST to url with form, which may be nil,
// as the URL-encoded body, decoding the response with dec.
func PostForm[T any](ctx context.Context, s Submitter, url string, form *request.Form, dec request.Decoder[T]) (*request.Descriptor[T], error) {
	return call(ctx, s, request.POST, url, form, dec)
}

// PutForm uses s to execute a PUT to url with form, which may be nil,
// as the URL-encoded body, decoding the response with dec.
func PutForm[T any](ctx context.Context, s Submitter, url string, form *request.Form, dec request.Decoder[T]) (*request.Descriptor[T], error) {
	return call(ctx, s, request.PUT, url, form, dec)
}

// Delete uses s to execute a DELETE to url, decoding the response with
// dec, which may be nil.
func Delete[T any](ctx context.Context, s Submitter, url string, dec request.Decoder[T]) (*request.Descriptor[T], error) {
	return call(ctx, s, request.DELETE, url, nil, dec)
}

func call[T any](ctx context.Context, s Submitter, method request.Method, url string, form *request.Form, dec request.Decoder[T]) (*request.Descriptor[T], error) {
	d := request.NewWithContext[T](ctx, method, url)
	if form != nil {
		*d.Plan().Form() = *form.Clone()
	}
	if dec != nil {
		_ = d.SetDecoder(dec)
	}
	return d, Do(ctx, s, d)
}

// Inflate converts any non-nil Submitter into an Executor.
func Inflate(s Submitter) Executor {
	if s == nil {
		panic("reqflow: nil submitter")
	}
	if e, ok := s.(Executor); ok {
		return e
	}
	return inflated{s}
}

type inflated struct {
	s Submitter
}

func (i inflated) Submit(x request.Executable) error {
	return i.s.Submit(x)
}

func (i inflated) Do(ctx context.Context, x request.Executable) error {
	return Do(ctx, i.s, x)
}

func (i inflated) CloseIdleConnections() {
	if ic, ok := i.s.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
}
