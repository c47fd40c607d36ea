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

// Package refcount provides the shared-ownership counter used by sessions,
// variables, and object types. Every AddRef must be paired with exactly one
// Release on every exit path, including error paths.
package refcount

import "sync/atomic"

// Count tracks shared ownership of a resource. Init establishes the first
// reference; the destroy callback runs when the last reference is released.
type Count struct {
	refs    atomic.Int32
	destroy func()
}

// Init sets the counter to one reference. destroy may be nil.
func (c *Count) Init(destroy func()) {
	c.refs.Store(1)
	c.destroy = destroy
}

// AddRef acquires an additional reference.
func (c *Count) AddRef() {
	if c.refs.Add(1) <= 1 {
		panic("refcount: AddRef on a released resource")
	}
}

// Release drops one reference, destroying the resource when none remain.
func (c *Count) Release() {
	n := c.refs.Add(-1)
	switch {
	case n == 0:
		if c.destroy != nil {
			c.destroy()
		}
	case n < 0:
		panic("refcount: Release of a released resource")
	}
}

// Refs returns the current reference count.
func (c *Count) Refs() int32 {
	return c.refs.Load()
}
