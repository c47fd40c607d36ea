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

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/fakecalldb"
	"github.com/rowcall/rowcall/go/rcerrors"
)

func TestPrepareValidation(t *testing.T) {
	ctx := context.Background()
	db := fakecalldb.New(t)

	sess := db.NewSession(calldb.APIModern)
	_, err := Prepare(ctx, sess, "", Options{})
	assert.True(t, rcerrors.Is(err, rcerrors.InvalidArgument))

	sess.Release()
	_, err = Prepare(ctx, sess, "SELECT 1", Options{})
	assert.True(t, rcerrors.Is(err, rcerrors.NotConnected))
}

func TestPrepareAndClose(t *testing.T) {
	ctx := context.Background()
	db, sess := newSession(t)
	sql := "SELECT n FROM numbers"
	addNumberQuery(db, sql, 1)

	s := mustPrepare(ctx, t, sess, sql, Options{})
	assert.NotEqual(t, uuid.Nil, s.ID())
	assert.Equal(t, sql, s.SQL())
	assert.True(t, db.HandleOpen(sql))
	assert.Equal(t, 0, db.StatementCacheLen())

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 1, db.StatementCacheLen())
	assert.True(t, db.HandleOpen(sql))

	// Every operation reports the statement closed.
	_, err := s.Execute(ctx, calldb.ExecDefault)
	assert.True(t, rcerrors.Is(err, rcerrors.StatementClosed))
	_, _, err = s.Fetch(ctx)
	assert.True(t, rcerrors.Is(err, rcerrors.StatementClosed))
	_, err = s.BindCount(ctx)
	assert.True(t, rcerrors.Is(err, rcerrors.StatementClosed))

	// Double close is a no-op, as is releasing a closed statement.
	require.NoError(t, s.Close(ctx))
	s.Release()
	assert.Equal(t, 1, db.StatementCacheLen())
}

func TestReleaseClosesOnLastReference(t *testing.T) {
	ctx := context.Background()
	db, sess := newSession(t)
	sql := "SELECT n FROM numbers"
	addNumberQuery(db, sql, 1)

	s := mustPrepare(ctx, t, sess, sql, Options{})
	s.AddRef()
	s.Release()

	// One reference remains; the statement is still usable.
	_, err := s.Info(ctx)
	require.NoError(t, err)

	s.Release()
	_, err = s.Info(ctx)
	assert.True(t, rcerrors.Is(err, rcerrors.StatementClosed))
	assert.Equal(t, 1, db.StatementCacheLen())
}

func TestCloseTaggedRefilesHandle(t *testing.T) {
	ctx := context.Background()
	_, sess := newSession(t)
	sql := "SELECT n FROM numbers"

	s := mustPrepare(ctx, t, sess, sql, Options{Tag: "daily"})
	require.NoError(t, s.CloseTagged(ctx, "weekly"))

	// The handle was refiled under the new tag.
	s2 := mustPrepare(ctx, t, sess, sql, Options{Tag: "weekly"})
	assert.Equal(t, 1, sess.CacheStats().Hits)
	require.NoError(t, s2.Close(ctx))
}

func TestDeleteFromCacheEvicts(t *testing.T) {
	ctx := context.Background()
	db, sess := newSession(t)
	sql := "SELECT n FROM numbers"
	addNumberQuery(db, sql, 1)

	s := mustPrepare(ctx, t, sess, sql, Options{})
	require.NoError(t, s.DeleteFromCache(ctx))
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, 0, db.StatementCacheLen())
	assert.False(t, db.HandleOpen(sql))
}

func TestInfoClassification(t *testing.T) {
	ctx := context.Background()
	db, sess := newSession(t)

	returning := "INSERT INTO people (name) VALUES (:name) RETURNING id INTO :id"
	db.AddQuery(returning, &fakecalldb.ExpectedResult{Returning: true})

	tests := []struct {
		sql  string
		want StatementInfo
	}{{
		sql:  "SELECT n FROM numbers",
		want: StatementInfo{Kind: calldb.KindSelect, IsQuery: true},
	}, {
		sql:  "WITH t AS (SELECT 1 AS n FROM dual) SELECT n FROM t",
		want: StatementInfo{Kind: calldb.KindSelect, IsQuery: true},
	}, {
		sql:  "INSERT INTO people (name) VALUES (:name)",
		want: StatementInfo{Kind: calldb.KindInsert, IsDML: true},
	}, {
		sql:  "CREATE TABLE people (id int)",
		want: StatementInfo{Kind: calldb.KindCreate, IsDDL: true},
	}, {
		sql:  "BEGIN refresh_people; END;",
		want: StatementInfo{Kind: calldb.KindBegin, IsPLSQL: true},
	}, {
		sql:  returning,
		want: StatementInfo{Kind: calldb.KindInsert, IsDML: true, IsReturning: true},
	}}
	for _, tc := range tests {
		t.Run(tc.sql, func(t *testing.T) {
			s := mustPrepare(ctx, t, sess, tc.sql, Options{})
			defer s.Release()
			info, err := s.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, info)
		})
	}
}

func TestSetFetchArraySize(t *testing.T) {
	ctx := context.Background()
	db, sess := newSession(t)
	sql := "SELECT n FROM numbers"
	addNumberQuery(db, sql, 1)

	s := mustPrepare(ctx, t, sess, sql, Options{})
	defer s.Release()
	assert.Equal(t, uint32(DefaultFetchArraySize), s.FetchArraySize())

	require.NoError(t, s.SetFetchArraySize(ctx, 7))
	assert.Equal(t, uint32(7), s.FetchArraySize())

	require.NoError(t, s.SetFetchArraySize(ctx, 0))
	assert.Equal(t, uint32(DefaultFetchArraySize), s.FetchArraySize())

	// A defined variable caps the window size.
	require.NoError(t, s.SetFetchArraySize(ctx, 2))
	_, err := s.Execute(ctx, calldb.ExecDefault)
	require.NoError(t, err)
	v, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType: calldb.TypeNumber, ArraySize: 2,
	})
	require.NoError(t, err)
	defer v.Release()
	require.NoError(t, s.Define(ctx, 1, v))

	err = s.SetFetchArraySize(ctx, 4)
	assert.True(t, rcerrors.Is(err, rcerrors.ArraySizeTooBig))
	require.NoError(t, s.SetFetchArraySize(ctx, 2))
}

func TestSubscriptionQueryID(t *testing.T) {
	ctx := context.Background()
	db, sess := newSession(t)
	sql := "SELECT n FROM numbers"
	db.AddQuery(sql, &fakecalldb.ExpectedResult{
		Columns: []fakecalldb.Column{{Name: "N", Type: calldb.TypeNumber, Precision: 10}},
		QueryID: 12345,
	})

	s := mustPrepare(ctx, t, sess, sql, Options{})
	defer s.Release()
	_, err := s.Execute(ctx, calldb.ExecDefault)
	require.NoError(t, err)

	id, err := s.SubscriptionQueryID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), id)
}
