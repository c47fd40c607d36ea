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

package refcount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountLifecycle(t *testing.T) {
	destroyed := 0
	var c Count
	c.Init(func() { destroyed++ })
	require.Equal(t, int32(1), c.Refs())

	c.AddRef()
	c.AddRef()
	assert.Equal(t, int32(3), c.Refs())

	c.Release()
	c.Release()
	assert.Equal(t, 0, destroyed, "resource destroyed while references remain")

	c.Release()
	assert.Equal(t, 1, destroyed)
	assert.Equal(t, int32(0), c.Refs())
}

func TestCountNilDestroy(t *testing.T) {
	var c Count
	c.Init(nil)
	assert.NotPanics(t, func() { c.Release() })
}

func TestCountMisuse(t *testing.T) {
	var c Count
	c.Init(nil)
	c.Release()

	assert.Panics(t, func() { c.AddRef() }, "AddRef after final Release must panic")
	assert.Panics(t, func() { c.Release() }, "double final Release must panic")
}

func TestCountReinit(t *testing.T) {
	destroyed := 0
	var c Count
	c.Init(func() { destroyed++ })
	c.Release()
	require.Equal(t, 1, destroyed)

	// A released counter may be initialized again for a fresh resource.
	c.Init(func() { destroyed++ })
	require.Equal(t, int32(1), c.Refs())
	c.Release()
	assert.Equal(t, 2, destroyed)
}
