// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transient

import (
	"errors"
	"io"
	"syscall"
)

// A Category tells whether a transport error is worth another attempt,
// and why. Not is the only non-transient category.
type Category int

const (
	// Not is the category of nil and of every error which a new attempt
	// is unlikely to cure.
	Not Category = iota
	// Timeout is the category of errors reporting Timeout() == true
	// anywhere in their chain. The server may be briefly slow, or a
	// longer attempt timeout may be needed.
	Timeout
	// ConnRefused is the category of ECONNREFUSED. A service which is
	// starting or restarting refuses connections for a short while.
	ConnRefused
	// ConnReset is the category of ECONNRESET: the peer reset an
	// established connection.
	ConnReset
	// Dropped is the category of connections which went away without a
	// reset: the response ended early (io.EOF, io.ErrUnexpectedEOF) or
	// the write side broke (EPIPE).
	Dropped
	// Unreachable is the category of EHOSTUNREACH and ENETUNREACH,
	// typical of a route which is being reconfigured.
	Unreachable
)

var categoryNames = [...]string{
	Not:         "Not",
	Timeout:     "Timeout",
	ConnRefused: "ConnRefused",
	ConnReset:   "ConnReset",
	Dropped:     "Dropped",
	Unreachable: "Unreachable",
}

// String returns the name of the category.
func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "Category(?)"
	}
	return categoryNames[c]
}

var errnoCategories = map[syscall.Errno]Category{
	syscall.ECONNREFUSED: ConnRefused,
	syscall.ECONNRESET:   ConnReset,
	syscall.EPIPE:        Dropped,
	syscall.EHOSTUNREACH: Unreachable,
	syscall.ENETUNREACH:  Unreachable,
}

// Categorize returns the category of err, looking through wrapped
// causes. A timeout anywhere in the chain wins over every other
// category. Temporary() is never consulted.
func Categorize(err error) Category {
	if err == nil {
		return Not
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return Timeout
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if c, ok := errnoCategories[errno]; ok {
			return c
		}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return Dropped
	}
	return Not
}
