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

package command

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/fakecalldb"
)

const walkthroughScript = `
backend:
  driver: fake
catalog:
  - sql: select id, word from words
    columns:
      - {name: id, type: int}
      - {name: word, type: varchar, size: 16}
    rows:
      - [1, alpha]
      - [2, beta]
      - [3, gamma]
      - [4, delta]
      - [5, epsilon]
  - sql: insert into words (id, word) values (:id, :word)
    iteration_errors:
      1: 1
steps:
  - name: walk
    sql: select id, word from words
    scrollable: true
    scroll:
      - {mode: first}
      - {mode: relative, offset: 2}
      - {mode: prior}
      - {mode: last}
      - {mode: absolute, offset: 4}
  - name: load
    sql: insert into words (id, word) values (:id, :word)
    batch_errors: true
    rows:
      - {id: 10, word: kappa}
      - {id: 10, word: kappa}
      - {id: 11, word: lambda}
`

func TestLoadScript(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/walk.yaml", []byte(walkthroughScript), 0o644))

	script, err := loadScript(fs, "/walk.yaml")
	require.NoError(t, err)
	assert.Equal(t, driverFake, script.Backend.Driver)
	require.Len(t, script.Catalog, 2)
	assert.Len(t, script.Catalog[0].Columns, 2)
	assert.Len(t, script.Catalog[0].Rows, 5)
	assert.Equal(t, map[uint32]uint32{1: 1}, script.Catalog[1].IterationErrors)
	require.Len(t, script.Steps, 2)
	assert.True(t, script.Steps[0].Scrollable)
	assert.Len(t, script.Steps[0].Scroll, 5)
	assert.Len(t, script.Steps[1].Rows, 3)

	t.Run("missing file", func(t *testing.T) {
		_, err := loadScript(fs, "/absent.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read script file")
	})

	t.Run("no steps", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/empty.yaml", []byte("seed: []\n"), 0o644))
		_, err := loadScript(fs, "/empty.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has no steps")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte(":\n  - ["), 0o644))
		_, err := loadScript(fs, "/bad.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse script file")
	})
}

func TestRunStepsFake(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/walk.yaml", []byte(walkthroughScript), 0o644))
	script, err := loadScript(fs, "/walk.yaml")
	require.NoError(t, err)

	db, err := buildFakeDB(script.Catalog)
	require.NoError(t, err)
	sess := db.NewSession(calldb.APIModern)
	t.Cleanup(sess.Release)

	results, err := runSteps(ctx, sess, script.Steps, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	walk := results[0]
	assert.Equal(t, "walk", walk.Name)
	require.NotNil(t, walk.Statement)
	assert.True(t, walk.Statement.Info.IsQuery)
	require.Len(t, walk.Statement.Columns, 2)
	assert.Equal(t, calldb.TypeNativeInt, walk.Statement.Columns[0].DataType)
	assert.Len(t, walk.Statement.Rows, 5)
	assert.False(t, walk.Statement.Truncated)

	// Each scroll repositions the cursor and the following fetch lands on
	// the repositioned row.
	require.Len(t, walk.Scrolls, 5)
	assert.Equal(t, []any{1, "alpha"}, walk.Scrolls[0].Row)   // first
	assert.Equal(t, []any{3, "gamma"}, walk.Scrolls[1].Row)   // relative +2 from row 1
	assert.Equal(t, []any{2, "beta"}, walk.Scrolls[2].Row)    // prior
	assert.Equal(t, []any{5, "epsilon"}, walk.Scrolls[3].Row) // last
	assert.Equal(t, []any{4, "delta"}, walk.Scrolls[4].Row)   // absolute 4

	load := results[1]
	assert.Equal(t, "load", load.Name)
	require.NotNil(t, load.Statement)
	assert.True(t, load.Statement.Info.IsDML)
	assert.Equal(t, uint64(2), load.Statement.RowsAffected)
	require.Len(t, load.BatchErrors, 1)
	assert.Equal(t, uint32(1), load.BatchErrors[0].RowOffset)
	assert.Equal(t, uint32(calldb.ServerErrUniqueViolation), load.BatchErrors[0].Error.Code)
}

func TestRunStepsFakeBatchFailureWithoutCollection(t *testing.T) {
	ctx := context.Background()
	db := fakecalldb.New(t)
	db.AddQuery("insert into words (id) values (:id)", &fakecalldb.ExpectedResult{
		IterationErrors: map[uint32]uint32{0: 1},
	})
	sess := db.NewSession(calldb.APIModern)
	t.Cleanup(sess.Release)

	steps := []StepSpec{{
		Name: "load",
		SQL:  "insert into words (id) values (:id)",
		Rows: []map[string]any{{"id": 1}, {"id": 2}},
	}}
	results, err := runSteps(ctx, sess, steps, 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load failed")
	assert.Empty(t, results)
}

func TestRunStepsSQLite(t *testing.T) {
	ctx := context.Background()
	sess := newSQLiteSession(t)

	_, err := executeStatement(ctx, sess,
		"create table people (id integer primary key, name text)", execOptions{})
	require.NoError(t, err)

	steps := []StepSpec{{
		Name:        "load",
		SQL:         "insert into people (id, name) values (:id, :name)",
		BatchErrors: true,
		Rows: []map[string]any{
			{"id": 1, "name": "ada"},
			{"id": 1, "name": "dup"},
			{"id": 2, "name": "grace"},
		},
	}, {
		Name: "verify",
		SQL:  "select id, name from people order by id",
	}}

	results, err := runSteps(ctx, sess, steps, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	load := results[0]
	assert.Equal(t, uint64(2), load.Statement.RowsAffected)
	require.Len(t, load.BatchErrors, 1)
	assert.Equal(t, uint32(1), load.BatchErrors[0].RowOffset)
	assert.Equal(t, uint32(calldb.ServerErrUniqueViolation), load.BatchErrors[0].Error.Code)

	verify := results[1]
	assert.Equal(t, [][]any{
		{int64(1), "ada"},
		{int64(2), "grace"},
	}, verify.Statement.Rows)
}

func TestRunStepValidation(t *testing.T) {
	ctx := context.Background()
	sess := newSQLiteSession(t)

	t.Run("no sql", func(t *testing.T) {
		_, err := runStep(ctx, sess, StepSpec{Name: "empty"}, 0, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no sql")
	})

	t.Run("scroll without scrollable", func(t *testing.T) {
		_, err := runStep(ctx, sess, StepSpec{
			SQL:    "select 1",
			Scroll: []ScrollSpec{{Mode: "first"}},
		}, 0, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scrollable")
	})
}

func TestOpenScriptSession(t *testing.T) {
	ctx := context.Background()

	t.Run("fake driver with seeds", func(t *testing.T) {
		_, rc := GetRootCommand()
		s := &ScriptCmd{rc: rc}
		_, err := s.openScriptSession(ctx, &Script{
			Backend: BackendSpec{Driver: driverFake},
			Catalog: []CatalogSpec{{SQL: "select 1"}},
			Seed:    []string{"create table t (a int)"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "live driver")
	})

	t.Run("fake driver without catalog", func(t *testing.T) {
		_, rc := GetRootCommand()
		s := &ScriptCmd{rc: rc}
		_, err := s.openScriptSession(ctx, &Script{
			Backend: BackendSpec{Driver: driverFake},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalog")
	})

	t.Run("live driver with catalog", func(t *testing.T) {
		_, rc := GetRootCommand()
		s := &ScriptCmd{rc: rc}
		_, err := s.openScriptSession(ctx, &Script{
			Catalog: []CatalogSpec{{SQL: "select 1"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only apply")
	})

	t.Run("fake driver with catalog", func(t *testing.T) {
		_, rc := GetRootCommand()
		s := &ScriptCmd{rc: rc}
		sess, err := s.openScriptSession(ctx, &Script{
			Backend: BackendSpec{Driver: driverFake},
			Catalog: []CatalogSpec{{SQL: "select 1", Columns: []ColumnSpec{{Name: "n", Type: "int"}}}},
		})
		require.NoError(t, err)
		defer sess.Release()
		assert.True(t, sess.Live())
	})
}

func TestBuildFakeDB(t *testing.T) {
	t.Run("missing sql", func(t *testing.T) {
		_, err := buildFakeDB([]CatalogSpec{{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has no sql")
	})

	t.Run("unknown column type", func(t *testing.T) {
		_, err := buildFakeDB([]CatalogSpec{{
			SQL:     "select 1",
			Columns: []ColumnSpec{{Name: "x", Type: "tensor"}},
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown column type "tensor"`)
	})
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in   string
		want calldb.DataType
	}{
		{"", calldb.TypeVarchar},
		{"varchar", calldb.TypeVarchar},
		{"int", calldb.TypeNativeInt},
		{"native_int", calldb.TypeNativeInt},
		{"float", calldb.TypeNativeFloat},
		{"number", calldb.TypeNumber},
		{"date", calldb.TypeDate},
		{"timestamp_tz", calldb.TypeTimestampTZ},
		{"blob", calldb.TypeBLOB},
		{"BOOLEAN", calldb.TypeBoolean},
	}
	for _, tc := range tests {
		got, err := parseDataType(tc.in)
		require.NoError(t, err, "input: %q", tc.in)
		assert.Equal(t, tc.want, got, "input: %q", tc.in)
	}

	_, err := parseDataType("tensor")
	require.Error(t, err)
}

func TestParseFetchMode(t *testing.T) {
	tests := []struct {
		in   string
		want calldb.FetchMode
	}{
		{"next", calldb.FetchNext},
		{"first", calldb.FetchFirst},
		{"last", calldb.FetchLast},
		{"prior", calldb.FetchPrior},
		{"absolute", calldb.FetchAbsolute},
		{"Relative", calldb.FetchRelative},
	}
	for _, tc := range tests {
		got, err := parseFetchMode(tc.in)
		require.NoError(t, err, "input: %q", tc.in)
		assert.Equal(t, tc.want, got, "input: %q", tc.in)
	}

	_, err := parseFetchMode("sideways")
	require.Error(t, err)
}

func TestArrayBindType(t *testing.T) {
	t.Run("integers", func(t *testing.T) {
		dataType, size := arrayBindType([]any{1, 2, 3})
		assert.Equal(t, calldb.TypeNativeInt, dataType)
		assert.Equal(t, uint32(1), size)
	})

	t.Run("strings size the longest value", func(t *testing.T) {
		dataType, size := arrayBindType([]any{"a", "abcdef", "ab"})
		assert.Equal(t, calldb.TypeVarchar, dataType)
		assert.Equal(t, uint32(6), size)
	})

	t.Run("strings dominate mixed arrays", func(t *testing.T) {
		dataType, _ := arrayBindType([]any{1, "two"})
		assert.Equal(t, calldb.TypeVarchar, dataType)
	})

	t.Run("floats widen integers", func(t *testing.T) {
		dataType, _ := arrayBindType([]any{1, 2.5})
		assert.Equal(t, calldb.TypeNativeFloat, dataType)
	})

	t.Run("all nulls fall back to varchar", func(t *testing.T) {
		dataType, size := arrayBindType([]any{nil, nil})
		assert.Equal(t, calldb.TypeVarchar, dataType)
		assert.Equal(t, uint32(1), size)
	})
}
