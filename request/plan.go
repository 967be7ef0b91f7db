// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	urlpkg "net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

// A Method is an HTTP request method supported by a Plan.
type Method string

// Supported methods.
const (
	GET    Method = "GET"
	POST   Method = "POST"
	PUT    Method = "PUT"
	DELETE Method = "DELETE"
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case GET, POST, PUT, DELETE:
		return true
	default:
		return false
	}
}

// HasBody reports whether requests using m carry the encoded form as
// their body.
func (m Method) HasBody() bool {
	return m == POST || m == PUT
}

const (
	// DefaultTimeout is the attempt timeout of a new Plan.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxRetries is the retry budget of a new Plan.
	DefaultMaxRetries = 5

	nilCtxMsg = "reqflow/request: nil context"
)

var template, _ = http.NewRequest("GET", "", nil)

// A Plan describes one logical HTTP request: what to send, and how
// patiently to send it.
//
// A Plan may result in several HTTP request attempts if failed attempts
// are retried. Every attempt is built afresh from the plan's current
// state by ToRequest, so nothing is cached from a previous attempt.
//
// A Plan is configured by its creator before it is submitted for
// execution and must not be changed afterward.
//
// Construction never fails. If the method or URL given to NewPlan is
// unusable, the plan records the problem and reports it from Err; an
// engine fails such a plan immediately, without contacting the server
// and without retrying.
type Plan struct {
	// Method specifies the HTTP method. An empty string means GET.
	Method Method
	// URL specifies the absolute URL to access. It is nil if the URL
	// given at construction was invalid.
	URL *urlpkg.URL
	// Timeout is the timeout for each individual attempt. NewPlan sets
	// it to DefaultTimeout.
	Timeout time.Duration
	// MaxRetries is the maximum number of attempts made after the
	// initial attempt fails. NewPlan sets it to DefaultMaxRetries.
	// Negative values are treated as zero.
	MaxRetries int
	// Secure selects the engine's TLS transport for this plan.
	Secure bool
	// ForceCache directs the engine to serve the plan from its response
	// cache when possible, and to store the response afterward.
	ForceCache bool

	id     string
	rawURL string
	header http.Header
	form   Form
	err    error
	ctx    context.Context
}

// NewPlan wraps NewPlanWithContext using the background context.
func NewPlan(method Method, url string) *Plan {
	return NewPlanWithContext(context.Background(), method, url)
}

// NewPlanWithContext returns a new Plan given a context, a method and an
// absolute URL.
//
// The context controls the whole plan execution: canceling it stops
// the execution at the next opportunity and fails the plan with a
// KindCanceled error.
//
// If the method is not supported, or the URL is not an absolute http
// or https URL, the returned plan is invalid and Err reports why.
func NewPlanWithContext(ctx context.Context, method Method, url string) *Plan {
	if ctx == nil {
		panic(nilCtxMsg)
	}
	if method == "" {
		method = GET
	}
	p := &Plan{
		Method:     method,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		id:         uuid.NewString(),
		rawURL:     url,
		header:     make(http.Header),
		ctx:        ctx,
	}
	if !method.Valid() {
		p.err = NewError(p, KindInvalidRequest, 0, errors.Errorf("unsupported method %q", string(method)))
		return p
	}
	u, err := parseURL(url)
	if err != nil {
		p.err = NewError(p, KindInvalidURL, 0, err)
		return p
	}
	p.URL = u
	return p
}

func parseURL(url string) (*urlpkg.URL, error) {
	u, err := urlpkg.ParseRequestURI(url)
	if err != nil {
		if ue, ok := err.(*urlpkg.Error); ok {
			return nil, ue.Err
		}
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	u.Host = removeEmptyPort(u.Host)
	return u, nil
}

// ID returns the unique identifier assigned to the plan when it was
// created.
func (p *Plan) ID() string {
	return p.id
}

// Err returns the construction error of an invalid plan, or nil. The
// error is always an *Error of kind KindInvalidURL or
// KindInvalidRequest.
func (p *Plan) Err() error {
	return p.err
}

// Context returns the plan's context, which is never nil.
func (p *Plan) Context() context.Context {
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of p with its context changed to
// ctx, which must be non-nil. The copy shares nothing mutable with p
// and receives a new ID.
func (p *Plan) WithContext(ctx context.Context) *Plan {
	if ctx == nil {
		panic(nilCtxMsg)
	}
	p2 := new(Plan)
	*p2 = *p
	p2.ctx = ctx
	p2.id = uuid.NewString()
	p2.header = p.header.Clone()
	p2.form = *p.form.Clone()
	if p.URL != nil {
		u := *p.URL
		p2.URL = &u
	}
	return p2
}

// Canceled reports whether the plan's context is done.
func (p *Plan) Canceled() bool {
	return p.Context().Err() != nil
}

// Header returns a snapshot of the request headers. Changing the
// returned header does not change the plan.
func (p *Plan) Header() http.Header {
	return p.header.Clone()
}

// SetHeader sets the header entry key to value, replacing any existing
// values. It returns an error if key or value is not a valid header
// field name or value.
func (p *Plan) SetHeader(key, value string) error {
	if err := validHeader(key, value); err != nil {
		return err
	}
	if p.header == nil {
		p.header = make(http.Header)
	}
	p.header.Set(key, value)
	return nil
}

// AddHeader adds value to the header entry key. It returns an error if
// key or value is not a valid header field name or value.
func (p *Plan) AddHeader(key, value string) error {
	if err := validHeader(key, value); err != nil {
		return err
	}
	if p.header == nil {
		p.header = make(http.Header)
	}
	p.header.Add(key, value)
	return nil
}

func validHeader(key, value string) error {
	if !httpguts.ValidHeaderFieldName(key) {
		return errors.Errorf("reqflow/request: invalid header name %q", key)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return errors.Errorf("reqflow/request: invalid value for header %q", key)
	}
	return nil
}

// SetBasicAuth sets the plan's Authorization header to use HTTP Basic
// Authentication with the provided username and password.
func (p *Plan) SetBasicAuth(username, password string) {
	if p.header == nil {
		p.header = make(http.Header)
	}
	p.header.Set("Authorization", "Basic "+basicAuth(username, password))
}

// Form returns the plan's form. Fields set on it are encoded into the
// request body of POST and PUT plans.
func (p *Plan) Form() *Form {
	return &p.form
}

// PutForm sets the scalar form field key to value.
func (p *Plan) PutForm(key, value string) {
	p.form.Set(key, value)
}

// PutFormArray sets the array form field key to values.
func (p *Plan) PutFormArray(key string, values ...string) {
	p.form.SetArray(key, values...)
}

// Body returns the encoded request body. It is nil for methods which
// carry no body (GET and DELETE), and nil if the form is empty.
func (p *Plan) Body() []byte {
	if !p.Method.HasBody() {
		return nil
	}
	return p.form.Encode()
}

// CacheKey returns the key under which responses to the plan are
// cached: the method and URL, plus the body if there is one.
func (p *Plan) CacheKey() string {
	var b strings.Builder
	b.WriteString(string(p.Method))
	b.WriteByte(' ')
	if p.URL != nil {
		b.WriteString(p.URL.String())
	} else {
		b.WriteString(p.rawURL)
	}
	if body := p.Body(); len(body) > 0 {
		b.WriteByte('\n')
		b.Write(body)
	}
	return b.String()
}

// ToRequest creates an HTTP request corresponding to the plan. The
// context of the new request is set to ctx, which may not be nil.
//
// Every call builds a new request with its own header copy and body
// reader, so a request attempt never observes another attempt's state.
// ToRequest panics if the plan is invalid.
func (p *Plan) ToRequest(ctx context.Context) *http.Request {
	if p.err != nil {
		panic("reqflow/request: invalid plan: " + p.err.Error())
	}
	r := template.WithContext(ctx)
	r.Method = string(p.Method)
	u := *p.URL
	r.URL = &u
	r.Header = p.header.Clone()
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Host = u.Host
	if body := p.Body(); len(body) > 0 {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		r.ContentLength = int64(len(body))
		if r.Header.Get("Content-Type") == "" {
			r.Header.Set("Content-Type", FormContentType)
		}
	}
	return r
}

// basicAuth is lifted verbatim from net/http/client.go.
func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

// hasPort is lifted verbatim from net/http/http.go
//
// Given a string of the form "host", "host:port", or "[ipv6::address]:port",
// return true if the string includes a port.
func hasPort(s string) bool { return strings.LastIndex(s, ":") > strings.LastIndex(s, "]") }

// removeEmptyPort is lifted verbatim from net/http/http.go
//
// removeEmptyPort strips the empty port in ":port" to ""
// as mandated by RFC 3986 Section 6.2.3.
func removeEmptyPort(host string) string {
	if hasPort(host) {
		return strings.TrimSuffix(host, ":")
	}
	return host
}
