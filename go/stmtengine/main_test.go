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

package stmtengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/fakecalldb"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSession(t *testing.T) (*fakecalldb.DB, *fakecalldb.Session) {
	t.Helper()
	db := fakecalldb.New(t)
	sess := db.NewSession(calldb.APIModern)
	t.Cleanup(sess.Release)
	return db, sess
}

// addNumberQuery registers a single-column query returning the integers
// 1..rows.
func addNumberQuery(db *fakecalldb.DB, sql string, rows int) {
	data := make([][]any, 0, rows)
	for i := 1; i <= rows; i++ {
		data = append(data, []any{int64(i)})
	}
	db.AddQuery(sql, &fakecalldb.ExpectedResult{
		Columns: []fakecalldb.Column{{Name: "N", Type: calldb.TypeNumber, Precision: 10}},
		Rows:    data,
	})
}

func mustPrepare(ctx context.Context, t *testing.T, sess *fakecalldb.Session, sql string, opts Options) *Statement {
	t.Helper()
	s, err := Prepare(ctx, sess, sql, opts)
	require.NoError(t, err)
	return s
}

// fetchValue advances one row and returns the first column as an int64.
func fetchValue(ctx context.Context, t *testing.T, s *Statement) int64 {
	t.Helper()
	found, _, err := s.Fetch(ctx)
	require.NoError(t, err)
	require.True(t, found)
	val, err := s.QueryValue(ctx, 1)
	require.NoError(t, err)
	n, ok := val.(int64)
	require.True(t, ok, "value %v is not an int64", val)
	return n
}
