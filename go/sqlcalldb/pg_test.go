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

package sqlcalldb

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
	"github.com/rowcall/rowcall/go/stmtengine"
)

// newPGSession connects to the database named by ROWCALL_PG_DSN, capped to a
// single connection so temporary tables are visible to every statement.
func newPGSession(t *testing.T) *Session {
	t.Helper()
	dsn := os.Getenv("ROWCALL_PG_DSN")
	if dsn == "" {
		t.Skip("set ROWCALL_PG_DSN to run the postgres integration tests")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	sess := NewSession(db, Options{CacheCapacity: 4})
	t.Cleanup(sess.Release)
	return sess
}

func TestPostgresRoundTrip(t *testing.T) {
	ctx := context.Background()
	sess := newPGSession(t)
	execSQL(ctx, t, sess, `CREATE TEMP TABLE accounts (
		id BIGINT PRIMARY KEY,
		balance NUMERIC(10,2),
		active BOOLEAN NOT NULL,
		opened TIMESTAMPTZ NOT NULL
	)`)
	opened := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	ins := mustPrepare(ctx, t, sess,
		"INSERT INTO accounts (id, balance, active, opened) VALUES (:id, :balance, :active, :opened)")
	require.NoError(t, ins.BindValueByName(ctx, "id", int64(1)))
	require.NoError(t, ins.BindValueByName(ctx, "balance", 12.50))
	require.NoError(t, ins.BindValueByName(ctx, "active", true))
	require.NoError(t, ins.BindValueByName(ctx, "opened", opened))
	_, err := ins.Execute(ctx, calldb.ExecDefault)
	require.NoError(t, err)
	rows, err := ins.RowCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rows)
	require.NoError(t, ins.Close(ctx))

	sel := mustPrepare(ctx, t, sess,
		"SELECT id, balance, active, opened FROM accounts WHERE id = :id")
	defer sel.Release()
	require.NoError(t, sel.BindValueByName(ctx, "id", int64(1)))
	numCols, err := sel.Execute(ctx, calldb.ExecDefault)
	require.NoError(t, err)
	require.Equal(t, uint32(4), numCols)

	wantTypes := []calldb.DataType{
		calldb.TypeNativeInt, calldb.TypeNumber, calldb.TypeBoolean, calldb.TypeTimestampTZ,
	}
	for i, want := range wantTypes {
		ci, err := sel.QueryColumnInfo(ctx, uint32(i+1))
		require.NoError(t, err)
		assert.Equal(t, want, ci.DataType, "column %d", i+1)
	}

	assert.Equal(t, int64(1), fetchValue(ctx, t, sel))
	// NUMERIC arrives as text and is parsed into the float representation.
	balance, err := sel.QueryValue(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 12.5, balance)
	active, err := sel.QueryValue(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, true, active)
	got, err := sel.QueryValue(ctx, 4)
	require.NoError(t, err)
	ts, ok := got.(time.Time)
	require.True(t, ok)
	assert.True(t, ts.Equal(opened), "got %v want %v", ts, opened)
}

func TestPostgresPlaceholderBesideCast(t *testing.T) {
	ctx := context.Background()
	sess := newPGSession(t)

	s := mustPrepare(ctx, t, sess, "SELECT :v::int + 1")
	defer s.Release()
	require.NoError(t, s.BindValueByName(ctx, "v", int64(3)))
	_, err := s.Execute(ctx, calldb.ExecDefault)
	require.NoError(t, err)
	assert.Equal(t, int64(4), fetchValue(ctx, t, s))
}

func TestPostgresUniqueViolationKeepsCachedHandle(t *testing.T) {
	ctx := context.Background()
	sess := newPGSession(t)
	execSQL(ctx, t, sess, "CREATE TEMP TABLE people (id BIGINT PRIMARY KEY)")
	execSQL(ctx, t, sess, "INSERT INTO people (id) VALUES (1)")

	idleBefore := sess.CacheStats().IdleStatements
	s := mustPrepare(ctx, t, sess, "INSERT INTO people (id) VALUES (:id)")
	require.NoError(t, s.BindValueByName(ctx, "id", int64(1)))
	_, err := s.Execute(ctx, calldb.ExecDefault)
	require.Error(t, err)
	var se *calldb.ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, uint32(calldb.ServerErrUniqueViolation), se.Code)

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, idleBefore+1, sess.CacheStats().IdleStatements)
}

func TestPostgresBatchErrors(t *testing.T) {
	ctx := context.Background()
	sess := newPGSession(t)
	execSQL(ctx, t, sess, "CREATE TEMP TABLE people (id BIGINT PRIMARY KEY)")

	s := mustPrepare(ctx, t, sess, "INSERT INTO people (id) VALUES (:id)")
	defer s.Release()
	ids, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType: calldb.TypeNativeInt, ArraySize: 3,
	})
	require.NoError(t, err)
	defer ids.Release()
	for i, id := range []int64{10, 10, 11} {
		require.NoError(t, ids.SetValue(uint32(i), id))
	}
	require.NoError(t, s.BindByName(ctx, "id", ids))

	require.NoError(t, s.ExecuteMany(ctx, calldb.ExecBatchErrors, 3))
	count, err := s.BatchErrorCount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(1), count)
	buf := make([]stmtengine.BatchError, 1)
	_, err = s.BatchErrors(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), buf[0].RowOffset)
	assert.Equal(t, uint32(calldb.ServerErrUniqueViolation), buf[0].Error.Code)
}

func TestPostgresParseErrorCarriesOffset(t *testing.T) {
	ctx := context.Background()
	sess := newPGSession(t)

	_, err := stmtengine.Prepare(ctx, sess, "SELEC 1", stmtengine.Options{})
	require.Error(t, err)
	assert.True(t, rcerrors.Is(err, rcerrors.ServerFailure))
	var se *calldb.ServerError
	require.True(t, errors.As(err, &se))
	assert.NotZero(t, se.Offset)
}
