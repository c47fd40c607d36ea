// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stmtcache implements the session-side cache of prepared statement
// handles. Releasing a statement files its handle here keyed by SQL text and
// tag; preparing the same text again reuses the idle handle instead of
// parsing it anew. A release with the evict flag set discards the handle,
// which is how stale metadata is kept from being served twice.
package stmtcache

import (
	"fmt"
	"sync"
)

// DefaultCapacity bounds the number of idle handles kept per cache when the
// session does not choose one.
const DefaultCapacity = 20

type key struct {
	sql string
	tag string
}

// CachedStatement is one idle prepared statement held by the cache.
type CachedStatement struct {
	// Name is the canonical cursor name assigned when the handle was first
	// prepared.
	Name string
	// SQL and Tag form the cache key.
	SQL string
	Tag string
	// Handle is the backend's statement payload; the cache never touches it.
	Handle any
	// Uses counts how many times the handle has been served from the cache.
	Uses int
}

// Cache holds idle prepared statement handles for reuse. Safe for concurrent
// use.
type Cache struct {
	// Mutex to protect the fields
	mu sync.Mutex

	capacity int
	// Map from (sql, tag) to the idle statement
	idle map[key]*CachedStatement
	// Keys of idle statements, oldest first, for capacity eviction
	order []key

	// lastUsedID is the last id of the cursor name that we handed out.
	lastUsedID int

	hits      int
	misses    int
	evictions int
}

// Stats contains statistics about the statement cache.
type Stats struct {
	// IdleStatements is the number of handles currently idle in the cache.
	IdleStatements int `json:"idle_statements"`
	// Hits and Misses count cache lookups; Evictions counts handles dropped
	// for capacity or by explicit eviction.
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Evictions int `json:"evictions"`
	// Statements contains details about each idle statement.
	Statements []StatementStats `json:"statements"`
}

// StatementStats contains statistics for a single idle statement.
type StatementStats struct {
	// Name is the canonical cursor name of the statement.
	Name string `json:"name"`
	// Query is the SQL text of the statement.
	Query string `json:"query"`
	// Tag is the cache tag, when one was used.
	Tag string `json:"tag,omitempty"`
	// Uses is how many times the handle has been served from the cache.
	Uses int `json:"uses"`
}

// New creates a statement cache holding at most capacity idle handles; zero
// selects DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		idle:     make(map[key]*CachedStatement),
	}
}

// NextName hands out the next canonical cursor name.
func (c *Cache) NextName() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := fmt.Sprintf("cur%d", c.lastUsedID)
	c.lastUsedID++
	return name
}

// Get removes and returns the idle statement for (sql, tag), if one is
// cached.
func (c *Cache) Get(sql, tag string) (*CachedStatement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{sql: sql, tag: tag}
	cs, ok := c.idle[k]
	if !ok {
		c.misses++
		return nil, false
	}
	delete(c.idle, k)
	c.removeFromOrder(k)
	c.hits++
	cs.Uses++
	return cs, true
}

// Put files a statement as idle under its SQL text and tag. When the cache
// is over capacity, or an idle statement with the same key already exists,
// the displaced statement is returned so the caller can destroy its handle.
func (c *Cache) Put(cs *CachedStatement) (displaced *CachedStatement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{sql: cs.SQL, tag: cs.Tag}
	if prev, ok := c.idle[k]; ok {
		c.idle[k] = cs
		c.evictions++
		return prev
	}
	c.idle[k] = cs
	c.order = append(c.order, k)
	if len(c.idle) <= c.capacity {
		return nil
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	displaced = c.idle[oldest]
	delete(c.idle, oldest)
	c.evictions++
	return displaced
}

// Drop discards the idle statement for (sql, tag), returning it for handle
// destruction. Used when a handle is released with the evict flag: any idle
// sibling prepared from the same text carries the same stale metadata.
func (c *Cache) Drop(sql, tag string) (*CachedStatement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{sql: sql, tag: tag}
	cs, ok := c.idle[k]
	if !ok {
		return nil, false
	}
	delete(c.idle, k)
	c.removeFromOrder(k)
	c.evictions++
	return cs, true
}

// Len reports the number of idle statements.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.idle)
}

// Drain removes every idle statement, calling destroy on each.
func (c *Cache) Drain(destroy func(*CachedStatement)) {
	c.mu.Lock()
	drained := make([]*CachedStatement, 0, len(c.idle))
	for k, cs := range c.idle {
		drained = append(drained, cs)
		delete(c.idle, k)
	}
	c.order = c.order[:0]
	c.mu.Unlock()

	if destroy == nil {
		return
	}
	for _, cs := range drained {
		destroy(cs)
	}
}

// Stats returns statistics about the cache's current state.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		IdleStatements: len(c.idle),
		Hits:           c.hits,
		Misses:         c.misses,
		Evictions:      c.evictions,
		Statements:     make([]StatementStats, 0, len(c.idle)),
	}
	for _, k := range c.order {
		cs := c.idle[k]
		stats.Statements = append(stats.Statements, StatementStats{
			Name:  cs.Name,
			Query: cs.SQL,
			Tag:   cs.Tag,
			Uses:  cs.Uses,
		})
	}
	return stats
}

// removeFromOrder drops k from the eviction order. Callers hold the mutex.
func (c *Cache) removeFromOrder(k key) {
	for i := range c.order {
		if c.order[i] == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
