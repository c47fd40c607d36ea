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

package stmtcache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutRoundTrip(t *testing.T) {
	c := New(4)

	_, ok := c.Get("SELECT 1", "")
	assert.False(t, ok)

	c.Put(&CachedStatement{Name: "cur0", SQL: "SELECT 1", Handle: "h0"})
	require.Equal(t, 1, c.Len())

	cs, ok := c.Get("SELECT 1", "")
	require.True(t, ok)
	assert.Equal(t, "cur0", cs.Name)
	assert.Equal(t, "h0", cs.Handle)
	assert.Equal(t, 1, cs.Uses)
	assert.Equal(t, 0, c.Len())

	// The handle is out of the cache now, so a second lookup misses.
	_, ok = c.Get("SELECT 1", "")
	assert.False(t, ok)
}

func TestTagSeparatesEntries(t *testing.T) {
	c := New(4)
	c.Put(&CachedStatement{Name: "cur0", SQL: "SELECT 1", Tag: "reporting"})
	c.Put(&CachedStatement{Name: "cur1", SQL: "SELECT 1"})

	_, ok := c.Get("SELECT 1", "other")
	assert.False(t, ok)

	cs, ok := c.Get("SELECT 1", "reporting")
	require.True(t, ok)
	assert.Equal(t, "cur0", cs.Name)

	cs, ok = c.Get("SELECT 1", "")
	require.True(t, ok)
	assert.Equal(t, "cur1", cs.Name)
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := New(2)

	require.Nil(t, c.Put(&CachedStatement{Name: "cur0", SQL: "SELECT 0"}))
	require.Nil(t, c.Put(&CachedStatement{Name: "cur1", SQL: "SELECT 1"}))

	displaced := c.Put(&CachedStatement{Name: "cur2", SQL: "SELECT 2"})
	require.NotNil(t, displaced)
	assert.Equal(t, "cur0", displaced.Name)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("SELECT 0", "")
	assert.False(t, ok)
	_, ok = c.Get("SELECT 1", "")
	assert.True(t, ok)
}

func TestPutReplacesSameKey(t *testing.T) {
	c := New(4)
	c.Put(&CachedStatement{Name: "cur0", SQL: "SELECT 1"})

	displaced := c.Put(&CachedStatement{Name: "cur1", SQL: "SELECT 1"})
	require.NotNil(t, displaced)
	assert.Equal(t, "cur0", displaced.Name)

	cs, ok := c.Get("SELECT 1", "")
	require.True(t, ok)
	assert.Equal(t, "cur1", cs.Name)
}

func TestDrop(t *testing.T) {
	c := New(4)
	c.Put(&CachedStatement{Name: "cur0", SQL: "SELECT 1"})

	cs, ok := c.Drop("SELECT 1", "")
	require.True(t, ok)
	assert.Equal(t, "cur0", cs.Name)
	assert.Equal(t, 0, c.Len())

	_, ok = c.Drop("SELECT 1", "")
	assert.False(t, ok)
}

func TestDrain(t *testing.T) {
	c := New(4)
	c.Put(&CachedStatement{Name: "cur0", SQL: "SELECT 0"})
	c.Put(&CachedStatement{Name: "cur1", SQL: "SELECT 1"})

	var destroyed []string
	c.Drain(func(cs *CachedStatement) {
		destroyed = append(destroyed, cs.Name)
	})
	assert.Equal(t, 0, c.Len())
	assert.ElementsMatch(t, []string{"cur0", "cur1"}, destroyed)
}

func TestNextName(t *testing.T) {
	c := New(4)
	assert.Equal(t, "cur0", c.NextName())
	assert.Equal(t, "cur1", c.NextName())
	assert.Equal(t, "cur2", c.NextName())
}

func TestStats(t *testing.T) {
	c := New(2)

	_, _ = c.Get("SELECT 1", "")
	c.Put(&CachedStatement{Name: "cur0", SQL: "SELECT 1"})
	cs, ok := c.Get("SELECT 1", "")
	require.True(t, ok)
	c.Put(cs)
	c.Put(&CachedStatement{Name: "cur1", SQL: "SELECT 2", Tag: "reporting"})

	stats := c.Stats()
	assert.Equal(t, 2, stats.IdleStatements)
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 0, stats.Evictions)
	require.Len(t, stats.Statements, 2)
	assert.Equal(t, "cur0", stats.Statements[0].Name)
	assert.Equal(t, "SELECT 1", stats.Statements[0].Query)
	assert.Equal(t, 1, stats.Statements[0].Uses)
	assert.Equal(t, "reporting", stats.Statements[1].Tag)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(8)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sql := fmt.Sprintf("SELECT %d", i%4)
			for j := 0; j < 100; j++ {
				if cs, ok := c.Get(sql, ""); ok {
					c.Put(cs)
				} else {
					c.Put(&CachedStatement{Name: c.NextName(), SQL: sql})
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 4)
}
