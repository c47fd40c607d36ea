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

package fakecalldb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func numberColumn(name string) Column {
	return Column{Name: name, Type: calldb.TypeNumber, Precision: 10}
}

func addPeopleQuery(db *DB, rows int) string {
	sql := "SELECT id, name FROM people"
	data := make([][]any, 0, rows)
	for i := 1; i <= rows; i++ {
		data = append(data, []any{int64(i), "p"})
	}
	db.AddQuery(sql, &ExpectedResult{
		Columns: []Column{
			numberColumn("ID"),
			{Name: "NAME", Type: calldb.TypeVarchar, Size: 30},
		},
		Rows: data,
	})
	return sql
}

func TestPrepareReusesCachedHandle(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := addPeopleQuery(db, 1)

	h1, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	assert.True(t, db.HandleOpen(sql))
	assert.Equal(t, 0, db.StatementCacheLen())

	require.NoError(t, sess.ReleaseHandle(ctx, h1, "", false))
	assert.Equal(t, 1, db.StatementCacheLen())
	assert.True(t, db.HandleOpen(sql))

	h2, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, 0, db.StatementCacheLen())
	require.NoError(t, sess.ReleaseHandle(ctx, h2, "", false))
}

func TestEvictDiscardsHandle(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := addPeopleQuery(db, 1)

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	require.NoError(t, sess.ReleaseHandle(ctx, h, "", true))

	assert.Equal(t, 0, db.StatementCacheLen())
	assert.False(t, db.HandleOpen(sql))

	// A fresh prepare builds a new handle.
	h2, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
	require.NoError(t, sess.ReleaseHandle(ctx, h2, "", false))
}

func TestTaggedPrepareIsSeparate(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := addPeopleQuery(db, 1)

	h, err := sess.PrepareHandle(ctx, sql, "reporting")
	require.NoError(t, err)
	require.NoError(t, sess.ReleaseHandle(ctx, h, "reporting", false))

	// A different tag misses the cached entry.
	h2, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
	require.NoError(t, sess.ReleaseHandle(ctx, h2, "", false))
	assert.Equal(t, 2, db.StatementCacheLen())
}

func TestExecuteQueryAndFetch(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := addPeopleQuery(db, 5)

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()

	kind, err := h.AttrGetUint32(ctx, calldb.AttrStatementType)
	require.NoError(t, err)
	assert.Equal(t, calldb.KindSelect, calldb.StatementKind(kind))

	v, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType: calldb.TypeNumber, ArraySize: 3,
	})
	require.NoError(t, err)
	defer v.Release()
	_, err = sess.CallAPI().DefineByPos(ctx, h, 1, v)
	require.NoError(t, err)

	require.NoError(t, h.Execute(ctx, 1, calldb.ExecDefault))
	assert.Equal(t, 1, db.GetQueryCalledNum(sql))

	require.NoError(t, h.Fetch(ctx, 3, calldb.FetchNext, 0))
	n, err := h.AttrGetUint32(ctx, calldb.AttrRowsFetched)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
	pos, err := h.AttrGetUint32(ctx, calldb.AttrCurrentPosition)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), pos)

	require.NoError(t, v.CopyFromWire(3))
	val, err := v.Value(2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)

	require.NoError(t, h.Fetch(ctx, 3, calldb.FetchNext, 0))
	n, err = h.AttrGetUint32(ctx, calldb.AttrRowsFetched)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	require.NoError(t, h.Fetch(ctx, 3, calldb.FetchNext, 0))
	n, err = h.AttrGetUint32(ctx, calldb.AttrRowsFetched)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
	assert.Equal(t, 3, db.FetchCalls(sql))
}

func TestScrollableFetchModes(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := addPeopleQuery(db, 10)

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()
	require.NoError(t, h.Execute(ctx, 1, calldb.ExecScrollableReadOnly))

	fetched := func() uint32 {
		n, err := h.AttrGetUint32(ctx, calldb.AttrRowsFetched)
		require.NoError(t, err)
		return n
	}
	position := func() uint32 {
		n, err := h.AttrGetUint32(ctx, calldb.AttrCurrentPosition)
		require.NoError(t, err)
		return n
	}

	// The rowset starts at the target row.
	require.NoError(t, h.Fetch(ctx, 3, calldb.FetchAbsolute, 7))
	assert.Equal(t, uint32(3), fetched())
	assert.Equal(t, uint32(9), position())

	require.NoError(t, h.Fetch(ctx, 1, calldb.FetchLast, 0))
	assert.Equal(t, uint32(1), fetched())
	assert.Equal(t, uint32(10), position())

	require.NoError(t, h.Fetch(ctx, 3, calldb.FetchFirst, 0))
	assert.Equal(t, uint32(3), fetched())
	assert.Equal(t, uint32(3), position())

	// Prior delivers the rowset starting just before the last one.
	require.NoError(t, h.Fetch(ctx, 3, calldb.FetchPrior, 0))
	assert.Equal(t, uint32(0), fetched())

	require.NoError(t, h.Fetch(ctx, 3, calldb.FetchRelative, 2))
	assert.Equal(t, uint32(3), fetched())
	assert.Equal(t, uint32(7), position())

	// Out of the result set entirely.
	require.NoError(t, h.Fetch(ctx, 3, calldb.FetchAbsolute, 50))
	assert.Equal(t, uint32(0), fetched())
	assert.Equal(t, uint32(7), position())
}

func TestFetchModeRequiresScrollable(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := addPeopleQuery(db, 3)

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()
	require.NoError(t, h.Execute(ctx, 1, calldb.ExecDefault))

	err = h.Fetch(ctx, 3, calldb.FetchFirst, 0)
	require.Error(t, err)
	assert.Equal(t, uint32(24391), calldb.ServerCode(err))
}

func TestBatchErrorsCollected(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := "INSERT INTO people (id) VALUES (:id)"
	db.AddQuery(sql, &ExpectedResult{
		IterationErrors: map[uint32]uint32{2: calldb.ServerErrUniqueViolation},
	})

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()

	require.NoError(t, h.Execute(ctx, 5, calldb.ExecBatchErrors))
	n, err := h.AttrGetUint32(ctx, calldb.AttrNumDMLErrors)
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)

	p, err := h.DMLErrorParam(ctx, 0)
	require.NoError(t, err)
	off, err := p.RowOffset(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), off)
	se := p.ServerError()
	assert.Equal(t, uint32(calldb.ServerErrUniqueViolation), se.Code)

	affected, err := sess.CallAPI().RowCount(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), affected)
}

func TestBatchFailureWithoutErrorMode(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := "INSERT INTO people (id) VALUES (:id)"
	db.AddQuery(sql, &ExpectedResult{
		IterationErrors: map[uint32]uint32{2: calldb.ServerErrUniqueViolation},
	})

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()

	err = h.Execute(ctx, 5, calldb.ExecDefault)
	require.Error(t, err)
	assert.Equal(t, uint32(calldb.ServerErrUniqueViolation), calldb.ServerCode(err))

	// Iterations before the failure stick.
	affected, err := sess.CallAPI().RowCount(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), affected)
}

func TestArrayDMLRowCounts(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := "UPDATE people SET name = :name WHERE id = :id"
	db.AddQuery(sql, &ExpectedResult{})

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()

	require.NoError(t, h.Execute(ctx, 3, calldb.ExecArrayDMLRowCounts))
	counts, err := sess.CallAPI().RowCounts(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 1, 1}, counts)

	// Without the mode the counts are not retained.
	require.NoError(t, h.Execute(ctx, 3, calldb.ExecDefault))
	_, err = sess.CallAPI().RowCounts(ctx, h)
	require.Error(t, err)
}

func TestFailNextExecute(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := addPeopleQuery(db, 1)
	db.FailNextExecute(sql, 12541)

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()

	err = h.Execute(ctx, 1, calldb.ExecDefault)
	require.Error(t, err)
	assert.Equal(t, uint32(12541), calldb.ServerCode(err))

	require.NoError(t, h.Execute(ctx, 1, calldb.ExecDefault))
	assert.Equal(t, 2, db.GetQueryCalledNum(sql))
}

func TestDropColumnArmsStaleMetadata(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := addPeopleQuery(db, 2)
	require.NoError(t, db.DropColumn(sql))

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)

	err = h.Execute(ctx, 1, calldb.ExecDefault)
	require.Error(t, err)
	assert.Equal(t, uint32(calldb.ServerErrVarNotInSelectList), calldb.ServerCode(err))
	require.NoError(t, sess.ReleaseHandle(ctx, h, "", true))

	h2, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h2, "", false)) }()
	require.NoError(t, h2.Execute(ctx, 1, calldb.ExecDefault))
	n, err := h2.AttrGetUint32(ctx, calldb.AttrParamCount)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)
}

func TestRejectedQueryParseOffset(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := "SELEC id FROM people"
	db.AddRejectedQuery(sql, &calldb.ServerError{Code: 900, Message: "invalid SQL statement", Offset: 0})

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()

	err1 := h.Execute(ctx, 1, calldb.ExecDefault)
	require.Error(t, err1)
	err2 := h.Execute(ctx, 1, calldb.ExecDefault)
	require.Error(t, err2)

	// Each rejection is a fresh error value; mutating one must not leak
	// into the next.
	se1 := err1.(*calldb.ServerError)
	se2 := err2.(*calldb.ServerError)
	assert.NotSame(t, se1, se2)
	se1.Offset = 99
	assert.Equal(t, uint32(0), se2.Offset)
}

func TestBindInfoAndBindCount(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := "INSERT INTO people (id, name, alias) VALUES (:id, :name, :id)"
	db.AddQuery(sql, &ExpectedResult{})

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()

	names, duplicate, err := h.BindInfo(ctx, 1, 8)
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "NAME", "ID"}, names)
	assert.Equal(t, []bool{false, false, true}, duplicate)

	v, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType: calldb.TypeNumber, ArraySize: 1,
	})
	require.NoError(t, err)
	defer v.Release()

	api := sess.CallAPI()
	_, err = api.BindByName(ctx, h, "id", v)
	require.NoError(t, err)
	n, err := h.AttrGetUint32(ctx, calldb.AttrBindCount)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	// Rebinding the same locator keeps the count.
	_, err = api.BindByName(ctx, h, "id", v)
	require.NoError(t, err)
	n, err = h.AttrGetUint32(ctx, calldb.AttrBindCount)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	_, err = api.BindByName(ctx, h, "name", v)
	require.NoError(t, err)
	n, err = h.AttrGetUint32(ctx, calldb.AttrBindCount)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)
}

func TestLegacyAPILimits(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APILegacy)
	defer sess.Release()
	sql := "DELETE FROM people"
	db.AddQuery(sql, &ExpectedResult{RowsAffected: 1<<32 + 5})

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()
	require.NoError(t, h.Execute(ctx, 1, calldb.ExecDefault))

	api := sess.CallAPI()
	n, err := api.RowCount(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	_, err = api.RowCounts(ctx, h)
	assert.True(t, rcerrors.Is(err, rcerrors.NotSupported))
	_, err = api.NextResult(ctx, h)
	assert.True(t, rcerrors.Is(err, rcerrors.NotSupported))
}

func TestImplicitResults(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := "BEGIN report_all; END;"
	db.AddQuery(sql, &ExpectedResult{
		ImplicitResults: []*ExpectedResult{{
			Columns: []Column{numberColumn("TOTAL")},
			Rows:    [][]any{{int64(42)}},
		}},
	})

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()
	require.NoError(t, h.Execute(ctx, 1, calldb.ExecDefault))

	api := sess.CallAPI()
	child, err := api.NextResult(ctx, h)
	require.NoError(t, err)
	require.NotNil(t, child)

	kind, err := child.AttrGetUint32(ctx, calldb.AttrStatementType)
	require.NoError(t, err)
	assert.Equal(t, calldb.KindSelect, calldb.StatementKind(kind))
	n, err := child.AttrGetUint32(ctx, calldb.AttrParamCount)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)
	sess.FreeHandle(child)

	next, err := api.NextResult(ctx, h)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestReturningSetsActualCount(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	sql := "INSERT INTO people (name) VALUES (:name) RETURNING id INTO :id"
	db.AddQuery(sql, &ExpectedResult{Returning: true, ReturningRows: 2})

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()

	isRet, err := h.AttrGetUint32(ctx, calldb.AttrIsReturning)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), isRet)

	v, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType: calldb.TypeNumber, ArraySize: 4,
	})
	require.NoError(t, err)
	defer v.Release()

	bh, err := sess.CallAPI().BindByName(ctx, h, "id", v)
	require.NoError(t, err)
	require.NoError(t, bh.RegisterDynamic(ctx, v))

	require.NoError(t, h.Execute(ctx, 1, calldb.ExecDefault))
	assert.Equal(t, uint32(2), v.ActualCount())
}

func TestVariableLifecycle(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()

	objType := newObjectType("PERSON_T")
	v, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType:   calldb.TypeObject,
		ArraySize:  2,
		ObjectType: objType,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), objType.refs.Refs())
	assert.Equal(t, int32(1), VariableRefs(v))

	v.AddRef()
	assert.Equal(t, int32(2), VariableRefs(v))
	v.Release()
	v.Release()
	assert.Equal(t, int32(1), objType.refs.Refs())
	objType.Release()
}

func TestVariableValueRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()

	v, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType:  calldb.TypeVarchar,
		ArraySize: 2,
		Size:      10,
	})
	require.NoError(t, err)
	defer v.Release()

	// Declared in characters, allocated in bytes.
	assert.Equal(t, uint32(40), v.Type().SizeInBytes)

	require.NoError(t, v.SetValue(0, "hello"))
	require.NoError(t, v.CopyToWire(2))
	require.NoError(t, v.CopyFromWire(2))
	val, err := v.Value(0)
	require.NoError(t, err)
	assert.Equal(t, "hello", val)

	require.Error(t, v.SetValue(5, "nope"))
	_, err = v.Value(5)
	require.Error(t, err)
}

func TestConvertToLOB(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()

	v, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType:    calldb.TypeLong,
		ArraySize:   1,
		Size:        100,
		SizeIsBytes: true,
	})
	require.NoError(t, err)
	defer v.Release()
	require.True(t, v.IsDynamic())

	require.NoError(t, v.ConvertToLOB(ctx))
	assert.Equal(t, calldb.TypeCLOB, v.Type().DataType)
	assert.Equal(t, calldb.NativeLOB, v.Type().NativeType)
	assert.False(t, v.IsDynamic())
}

func TestCursorVariableReferences(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()

	v, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType:  calldb.TypeCursor,
		ArraySize: 2,
	})
	require.NoError(t, err)
	defer v.Release()

	carrier, ok := v.(calldb.CursorCarrier)
	require.True(t, ok)

	owner := &stmtHandle{sql: "SELECT 1"}
	assert.False(t, carrier.ReferencesCursor(owner))
	require.NoError(t, v.SetValue(1, owner))
	assert.True(t, carrier.ReferencesCursor(owner))

	// Plain variables are not cursor carriers.
	plain, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType: calldb.TypeNumber, ArraySize: 1,
	})
	require.NoError(t, err)
	defer plain.Release()
	_, ok = plain.(calldb.CursorCarrier)
	assert.False(t, ok)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)

	require.True(t, sess.Live())
	require.NoError(t, sess.IncrementOpenChildren())
	sess.DecrementOpenChildren()

	sess.AddRef()
	sess.Release()
	require.True(t, sess.Live())

	sess.Release()
	assert.False(t, sess.Live())
	assert.Error(t, sess.IncrementOpenChildren())
	_, err := sess.PrepareHandle(ctx, "SELECT 1", "")
	assert.Error(t, err)
}

func TestSessionCloseDrainsCache(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	sql := addPeopleQuery(db, 1)

	h, err := sess.PrepareHandle(ctx, sql, "")
	require.NoError(t, err)
	require.NoError(t, sess.ReleaseHandle(ctx, h, "", false))
	require.Equal(t, 1, db.StatementCacheLen())

	sess.Release()
	assert.Equal(t, 0, db.StatementCacheLen())
	assert.False(t, db.HandleOpen(sql))
}

func TestQueryPattern(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	db.AddQueryPattern(`SELECT \* FROM people WHERE id = .*`, &ExpectedResult{
		Columns: []Column{numberColumn("ID")},
		Rows:    [][]any{{int64(7)}},
	})

	h, err := sess.PrepareHandle(ctx, "SELECT * FROM people WHERE id = 7", "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()
	require.NoError(t, h.Execute(ctx, 1, calldb.ExecDefault))
	n, err := h.AttrGetUint32(ctx, calldb.AttrParamCount)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)
}

func TestUnknownQueryFailsExecute(t *testing.T) {
	ctx := context.Background()
	db := New(t)
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()

	h, err := sess.PrepareHandle(ctx, "SELECT missing FROM nowhere", "")
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.ReleaseHandle(ctx, h, "", false)) }()
	err = h.Execute(ctx, 1, calldb.ExecDefault)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not supported")
}
