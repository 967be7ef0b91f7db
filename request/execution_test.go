// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecution(t *testing.T) {
	t.Run("Claim", func(t *testing.T) {
		e := NewExecution(NewPlan(GET, "http://example.com"))
		assert.False(t, e.Claimed())
		assert.True(t, e.Claim())
		assert.True(t, e.Claimed())
		assert.False(t, e.Claim())
	})
	t.Run("MaxRetries", func(t *testing.T) {
		p := NewPlan(GET, "http://example.com")
		e := NewExecution(p)
		assert.Equal(t, DefaultMaxRetries, e.MaxRetries())
		p.MaxRetries = 0
		assert.Equal(t, 0, e.MaxRetries())
		p.MaxRetries = -3
		assert.Equal(t, 0, e.MaxRetries())
		assert.Equal(t, 0, (&Execution{}).MaxRetries())
	})
	t.Run("Duration", func(t *testing.T) {
		e := Execution{}
		assert.False(t, e.Started())
		assert.Equal(t, time.Duration(0), e.Duration())
		e.Start = time.Now().Add(-time.Second)
		assert.True(t, e.Started())
		assert.False(t, e.Ended())
		assert.GreaterOrEqual(t, e.Duration(), time.Second)
		e.End = e.Start.Add(3 * time.Second)
		assert.True(t, e.Ended())
		assert.Equal(t, 3*time.Second, e.Duration())
	})
	t.Run("Kind", func(t *testing.T) {
		e := Execution{}
		assert.Equal(t, KindNone, e.Kind())
		assert.False(t, e.Timeout())
		e.Err = syscall.ETIMEDOUT
		assert.True(t, e.Timeout())
		e.Err = &Error{Kind: KindServer, StatusCode: 502}
		assert.Equal(t, KindServer, e.Kind())
		assert.False(t, e.Timeout())
	})
	t.Run("Value", func(t *testing.T) {
		type key string
		e := Execution{}
		assert.Nil(t, e.Value(key("a")))
		e.SetValue(key("a"), 1)
		e.SetValue(key("b"), "two")
		assert.Equal(t, 1, e.Value(key("a")))
		assert.Equal(t, "two", e.Value(key("b")))
		e.SetValue(key("a"), 3)
		assert.Equal(t, 3, e.Value(key("a")))
		assert.Nil(t, e.Value(key("c")))
	})
}
