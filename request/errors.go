// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gogama/reqflow/transient"
)

// A Kind classifies the error which ended a request attempt, or which
// ended the whole descriptor execution.
type Kind int

const (
	// KindNone is the kind of a nil error.
	KindNone Kind = iota
	// KindInvalidURL indicates the descriptor URL could not be parsed
	// as an absolute http or https URL. It is detected at construction
	// time and never retried.
	KindInvalidURL
	// KindInvalidRequest indicates the descriptor is unusable for a
	// reason other than its URL, for example an unsupported method.
	KindInvalidRequest
	// KindEncoding indicates a form value could not be encoded. The
	// form encoder never produces it (see Form.Encode), but custom
	// hooks may report it.
	KindEncoding
	// KindTimeout indicates the attempt timed out.
	KindTimeout
	// KindConnection indicates the connection could not be established
	// or was lost (refused, reset, unexpected EOF, network error).
	KindConnection
	// KindServer indicates the server answered with a 5XX status.
	KindServer
	// KindClient indicates the server answered with a 4XX status.
	KindClient
	// KindTLS indicates a TLS handshake or certificate failure.
	KindTLS
	// KindDecode indicates the response body could not be decoded.
	KindDecode
	// KindCanceled indicates the descriptor's context was canceled.
	KindCanceled
	// KindTransport is any other transport failure.
	KindTransport
	kindSentinel
)

var kindNames = []string{
	"None",
	"InvalidURL",
	"InvalidRequest",
	"Encoding",
	"Timeout",
	"Connection",
	"Server",
	"Client",
	"TLS",
	"Decode",
	"Canceled",
	"Transport",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if k < 0 || k >= kindSentinel {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Retryable reports whether an error of kind k is retried by the
// default retry policy: timeouts, connection errors and server errors.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindConnection || k == KindServer
}

// An Error is the error type reported for every failed attempt and
// every failed descriptor execution.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Op is the HTTP method, formatted as in net/url.Error ("Get").
	Op string
	// URL is the request URL with any password redacted, or the raw URL
	// string if it could not be parsed.
	URL string
	// StatusCode is the HTTP status code for KindServer and KindClient
	// errors, and zero otherwise.
	StatusCode int
	// Err is the underlying cause. It may be nil for status errors.
	Err error
}

func (err *Error) Error() string {
	var msg string
	switch {
	case err.Err != nil:
		msg = err.Err.Error()
	case err.StatusCode != 0:
		msg = fmt.Sprintf("status %d %s", err.StatusCode, http.StatusText(err.StatusCode))
	default:
		msg = err.Kind.String()
	}
	if err.Op == "" && err.URL == "" {
		return fmt.Sprintf("reqflow: %s: %s", err.Kind, msg)
	}
	return fmt.Sprintf("%s %q: %s: %s", err.Op, err.URL, err.Kind, msg)
}

// Unwrap returns the underlying cause.
func (err *Error) Unwrap() error {
	return err.Err
}

// Timeout reports whether the error is a timeout.
func (err *Error) Timeout() bool {
	return err.Kind == KindTimeout
}

// Retryable reports whether the error kind is retryable by default.
func (err *Error) Retryable() bool {
	return err.Kind.Retryable()
}

// KindOf returns the kind of err. If err is, or wraps, an *Error, its
// Kind is returned. Otherwise err is classified with Classify.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// Classify maps a raw transport error, as returned by an HTTP doer, to
// an error Kind.
//
// Context cancellation maps to KindCanceled, and a context deadline or
// any error reporting Timeout() maps to KindTimeout. Refused and reset
// connections, unexpected EOFs and net dial or lookup errors map to
// KindConnection. Certificate and handshake failures map to KindTLS.
// Everything else maps to KindTransport.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if isTLS(err) {
		return KindTLS
	}
	switch transient.Categorize(err) {
	case transient.Timeout:
		return KindTimeout
	case transient.ConnRefused, transient.ConnReset, transient.Dropped, transient.Unreachable:
		return KindConnection
	}
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return KindConnection
	}
	return KindTransport
}

func isTLS(err error) bool {
	var (
		certErr     *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	return errors.As(err, &certErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}

// StatusKind returns KindServer for 5XX status codes, KindClient for
// 4XX status codes, and KindNone otherwise.
func StatusKind(statusCode int) Kind {
	switch {
	case statusCode >= 500:
		return KindServer
	case statusCode >= 400:
		return KindClient
	default:
		return KindNone
	}
}

// NewError builds an *Error for plan p. If err already is an *Error
// it is returned unchanged.
func NewError(p *Plan, kind Kind, statusCode int, err error) *Error {
	var e *Error
	if errors.As(err, &e) && statusCode == 0 {
		return e
	}
	e = &Error{
		Kind:       kind,
		StatusCode: statusCode,
		Err:        err,
	}
	if p != nil {
		e.Op = errorOp(string(p.Method))
		e.URL = redactRaw(p.rawURL)
		if p.URL != nil {
			e.URL = p.URL.Redacted()
		}
	}
	return e
}

// errorOp is lifted from net/http/client.go (urlErrorOp).
func errorOp(method string) string {
	if method == "" {
		return "Get"
	}
	return method[:1] + strings.ToLower(method[1:])
}

// redactRaw masks the password of a URL which may not parse, the way
// url.URL.Redacted does for one which does.
func redactRaw(raw string) string {
	i := strings.Index(raw, "://")
	if i < 0 {
		return raw
	}
	start := i + 3
	end := len(raw)
	if j := strings.IndexAny(raw[start:], "/?#"); j >= 0 {
		end = start + j
	}
	at := strings.LastIndex(raw[start:end], "@")
	if at < 0 {
		return raw
	}
	userinfo := raw[start : start+at]
	colon := strings.Index(userinfo, ":")
	if colon < 0 {
		return raw
	}
	return raw[:start+colon+1] + "xxxxx" + raw[start+at:]
}
