// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package cache defines the response cache consulted by an engine for
// descriptors with ForceCache set, together with an in-memory
// implementation.
//
// Package sqlitecache provides a persistent implementation.
package cache

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// An Entry is a cached response.
type Entry struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Stored is the time the entry was stored.
	Stored time.Time
}

// A Cache stores responses by key. The engine uses request.Plan.CacheKey
// as the key.
//
// Get reports a miss with ok == false and a nil error. Errors indicate
// the cache itself failed; the engine logs them and proceeds as on a
// miss.
//
// Implementations must be safe for concurrent use by multiple
// goroutines.
type Cache interface {
	Get(ctx context.Context, key string) (e Entry, ok bool, err error)
	Set(ctx context.Context, key string, e Entry) error
}

// Memory is an in-memory Cache. The zero value is an empty cache whose
// entries never expire.
type Memory struct {
	// TTL is the time an entry stays valid after being stored. Zero or
	// negative means entries never expire.
	TTL time.Duration
	// Clock supplies the current time. If nil, the system clock is used.
	Clock clock.Clock

	lock    sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns an in-memory cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{TTL: ttl}
}

// Get returns the entry stored for key, if it exists and has not
// expired.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.lock.RLock()
	e, ok := m.entries[key]
	m.lock.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if m.expired(e) {
		m.lock.Lock()
		if cur, ok := m.entries[key]; ok && cur.Stored.Equal(e.Stored) {
			delete(m.entries, key)
		}
		m.lock.Unlock()
		return Entry{}, false, nil
	}
	return clone(e), true, nil
}

// Set stores e under key, replacing any previous entry. If e.Stored is
// zero it is set to the current time.
func (m *Memory) Set(_ context.Context, key string, e Entry) error {
	e = clone(e)
	if e.Stored.IsZero() {
		e.Stored = m.clock().Now()
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]Entry)
	}
	m.entries[key] = e
	return nil
}

// Len returns the number of entries held, including expired entries not
// yet evicted.
func (m *Memory) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.entries)
}

// Purge removes every entry.
func (m *Memory) Purge() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.entries = nil
}

func (m *Memory) expired(e Entry) bool {
	return m.TTL > 0 && m.clock().Since(e.Stored) >= m.TTL
}

func (m *Memory) clock() clock.Clock {
	if m.Clock == nil {
		return clock.New()
	}
	return m.Clock
}

func clone(e Entry) Entry {
	e.Header = e.Header.Clone()
	if e.Body != nil {
		e.Body = append([]byte(nil), e.Body...)
	}
	return e
}
