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
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/stmtcache"
)

var bindNameRE = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// stmtHandle is a fake server-side statement. Its cursor model: a fetch
// delivers the rowset starting at the target row, and the current position
// attribute reports the last delivered row. Handles serve one statement at
// a time and are not safe for concurrent use.
type stmtHandle struct {
	db   *DB
	sess *Session
	sql  string
	name string
	kind calldb.StatementKind

	cached *stmtcache.CachedStatement
	freed  bool

	// bind state
	bindNames     []string
	bindDuplicate []bool
	bindLocators  map[string]calldb.Variable
	dynamicBinds  []calldb.Variable

	// define state, index = column position - 1
	defines []wireStore

	// execution state
	executed   bool
	scrollable bool
	// override carries the result of an implicit-result child, which has
	// no catalog entry of its own.
	override  *ExpectedResult
	rows      [][]any
	affected  uint64
	rowCounts []uint64
	implicit  []*stmtHandle
	batchErrs []batchError
	queryID   uint64

	// cursor state: serverPos is the last delivered row (0 before any
	// fetch), lastStart the first row of the last delivered rowset.
	serverPos   uint64
	lastStart   uint64
	rowsFetched uint32

	prefetchRows   uint32
	parseErrOffset uint32
}

type batchError struct {
	rowOffset uint32
	code      uint32
}

func newStmtHandle(db *DB, sess *Session, sql, name string) *stmtHandle {
	h := &stmtHandle{
		db:   db,
		sess: sess,
		sql:  sql,
		name: name,
		kind: parseStatementKind(sql),
	}
	h.bindNames, h.bindDuplicate = parseBindNames(sql)
	return h
}

// parseStatementKind classifies sql by its leading keyword, the way a
// server reports the statement type after parse.
func parseStatementKind(sql string) calldb.StatementKind {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return calldb.KindUnknown
	}
	switch strings.ToLower(fields[0]) {
	case "select", "with":
		return calldb.KindSelect
	case "insert":
		return calldb.KindInsert
	case "update":
		return calldb.KindUpdate
	case "delete":
		return calldb.KindDelete
	case "merge":
		return calldb.KindMerge
	case "create":
		return calldb.KindCreate
	case "drop":
		return calldb.KindDrop
	case "alter":
		return calldb.KindAlter
	case "begin":
		return calldb.KindBegin
	case "declare":
		return calldb.KindDeclare
	case "call":
		return calldb.KindCall
	}
	return calldb.KindUnknown
}

// parseBindNames scans sql for :name placeholders. Names are reported
// uppercased in order of appearance; repeats of an earlier placeholder are
// flagged as duplicates.
func parseBindNames(sql string) ([]string, []bool) {
	matches := bindNameRE.FindAllStringSubmatch(sql, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(matches))
	duplicate := make([]bool, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		name := strings.ToUpper(m[1])
		names = append(names, name)
		duplicate = append(duplicate, seen[name])
		seen[name] = true
	}
	return names, duplicate
}

func (h *stmtHandle) errClosed() error {
	return fmt.Errorf("statement handle %s is closed", h.name)
}

// resolve returns the canned result backing this handle.
func (h *stmtHandle) resolve() (*ExpectedResult, error) {
	if h.override != nil {
		return h.override, nil
	}
	return h.db.lookup(h.sql)
}

// resetRuntime clears per-use state so the handle can be reused from the
// statement cache. Unclaimed implicit-result children are destroyed.
func (h *stmtHandle) resetRuntime() {
	for _, child := range h.implicit {
		child.destroy()
	}
	h.implicit = nil
	h.executed = false
	h.scrollable = false
	h.rows = nil
	h.affected = 0
	h.rowCounts = nil
	h.batchErrs = nil
	h.queryID = 0
	h.serverPos = 0
	h.lastStart = 0
	h.rowsFetched = 0
	h.prefetchRows = 0
	h.parseErrOffset = 0
	h.bindLocators = nil
	h.dynamicBinds = nil
	h.defines = nil
}

// destroy closes the handle for good. Idempotent.
func (h *stmtHandle) destroy() {
	if h.freed {
		return
	}
	h.resetRuntime()
	h.freed = true
	h.db.handleClosed(h.sql)
}

// Execute runs the statement for iters iterations.
func (h *stmtHandle) Execute(ctx context.Context, iters uint32, mode calldb.ExecMode) error {
	if h.freed {
		return h.errClosed()
	}
	result, failCode, err := h.db.beginExecute(h.sql)
	if err != nil {
		var se *calldb.ServerError
		if errors.As(err, &se) {
			h.parseErrOffset = se.Offset
			dup := *se
			return &dup
		}
		return err
	}
	if failCode != 0 {
		h.parseErrOffset = 0
		return serverError(failCode, "execute")
	}
	h.parseErrOffset = 0

	if mode&(calldb.ExecParseOnly|calldb.ExecDescribeOnly) != 0 {
		return nil
	}

	h.executed = true
	h.scrollable = mode&calldb.ExecScrollableReadOnly != 0
	h.serverPos = 0
	h.lastStart = 0
	h.rowsFetched = 0
	h.batchErrs = nil
	h.rowCounts = nil
	h.queryID = result.QueryID

	if h.kind.IsQuery() {
		h.rows = result.Rows
		h.affected = 0
		return nil
	}

	// One row per iteration unless the catalog says otherwise.
	perIter := uint64(1)
	if result.RowsAffected != 0 {
		perIter = result.RowsAffected
	}
	var affected uint64
	var counts []uint64
	var failures []batchError
	for i := uint32(0); i < iters; i++ {
		if code, ok := result.IterationErrors[i]; ok {
			if mode&calldb.ExecBatchErrors != 0 {
				failures = append(failures, batchError{rowOffset: i, code: code})
				counts = append(counts, 0)
				continue
			}
			h.affected = affected
			return serverError(code, "execute")
		}
		affected += perIter
		counts = append(counts, perIter)
	}
	if result.RowCounts != nil {
		counts = result.RowCounts
	}
	h.affected = affected
	h.batchErrs = failures
	if mode&calldb.ExecArrayDMLRowCounts != 0 {
		h.rowCounts = counts
	}

	if result.Returning {
		for _, v := range h.dynamicBinds {
			v.SetActualCount(result.ReturningRows)
		}
	}
	for i, imp := range result.ImplicitResults {
		child := newStmtHandle(h.db, h.sess,
			fmt.Sprintf("%s /* result %d */", h.sql, i), h.sess.cache.NextName())
		child.kind = calldb.KindSelect
		child.override = imp
		child.executed = true
		child.rows = imp.Rows
		h.db.handleOpened(child.sql)
		h.implicit = append(h.implicit, child)
	}
	return nil
}

// Fetch materializes up to numRows rows into the defined variables. A
// rowset positioned outside the result delivers zero rows and leaves the
// cursor where it was.
func (h *stmtHandle) Fetch(ctx context.Context, numRows uint32, mode calldb.FetchMode, offset int32) error {
	if h.freed {
		return h.errClosed()
	}
	if !h.kind.IsQuery() || !h.executed {
		return fmt.Errorf("statement %s has no open cursor", h.name)
	}
	if mode != calldb.FetchNext && !h.scrollable {
		return serverError(24391, "fetch")
	}
	h.db.recordFetch(h.sql)

	total := int64(len(h.rows))
	var start int64
	switch mode {
	case calldb.FetchNext:
		start = int64(h.serverPos) + 1
	case calldb.FetchFirst:
		start = 1
	case calldb.FetchLast:
		start = total
	case calldb.FetchPrior:
		start = int64(h.lastStart) - 1
	case calldb.FetchAbsolute:
		start = int64(offset)
	case calldb.FetchRelative:
		start = int64(h.serverPos) + int64(offset)
	default:
		return fmt.Errorf("fetch mode %v is not supported", mode)
	}

	if start < 1 || start > total {
		h.rowsFetched = 0
		return nil
	}
	count := total - start + 1
	if count > int64(numRows) {
		count = int64(numRows)
	}

	for i, row := range h.rows[start-1 : start-1+count] {
		for pos, v := range h.defines {
			if v == nil {
				continue
			}
			var val any
			if pos < len(row) {
				val = row[pos]
			}
			if err := v.setWire(uint32(i), val); err != nil {
				return fmt.Errorf("failed to store row %d column %d: %w", i, pos+1, err)
			}
		}
	}
	h.rowsFetched = uint32(count)
	h.lastStart = uint64(start)
	h.serverPos = uint64(start + count - 1)
	return nil
}

func (h *stmtHandle) AttrGetUint32(ctx context.Context, attr calldb.Attr) (uint32, error) {
	if h.freed {
		return 0, h.errClosed()
	}
	switch attr {
	case calldb.AttrStatementType:
		return uint32(h.kind), nil
	case calldb.AttrIsReturning:
		if r, err := h.resolve(); err == nil && r.Returning {
			return 1, nil
		}
		return 0, nil
	case calldb.AttrPrefetchRows:
		return h.prefetchRows, nil
	case calldb.AttrParamCount:
		r, err := h.resolve()
		if err != nil {
			return 0, err
		}
		return uint32(len(r.Columns)), nil
	case calldb.AttrRowsFetched:
		return h.rowsFetched, nil
	case calldb.AttrCurrentPosition:
		return uint32(h.serverPos), nil
	case calldb.AttrParseErrorOffset:
		return h.parseErrOffset, nil
	case calldb.AttrNumDMLErrors:
		return uint32(len(h.batchErrs)), nil
	case calldb.AttrBindCount:
		return uint32(len(h.bindLocators)), nil
	}
	return 0, fmt.Errorf("attribute %v is not readable as uint32", attr)
}

func (h *stmtHandle) AttrGetUint64(ctx context.Context, attr calldb.Attr) (uint64, error) {
	if h.freed {
		return 0, h.errClosed()
	}
	if attr == calldb.AttrSubscriptionQueryID {
		return h.queryID, nil
	}
	return 0, fmt.Errorf("attribute %v is not readable as uint64", attr)
}

func (h *stmtHandle) AttrGetString(ctx context.Context, attr calldb.Attr) (string, error) {
	if h.freed {
		return "", h.errClosed()
	}
	if attr == calldb.AttrSQLText {
		return h.sql, nil
	}
	return "", fmt.Errorf("attribute %v is not readable as string", attr)
}

func (h *stmtHandle) AttrSetUint32(ctx context.Context, attr calldb.Attr, value uint32) error {
	if h.freed {
		return h.errClosed()
	}
	if attr == calldb.AttrPrefetchRows {
		h.prefetchRows = value
		h.db.recordPrefetch(h.sql, value)
		return nil
	}
	return fmt.Errorf("attribute %v is not writable", attr)
}

// ParamHandle returns the descriptor for the 1-based output column pos.
func (h *stmtHandle) ParamHandle(ctx context.Context, pos uint32) (calldb.ParamHandle, error) {
	if h.freed {
		return nil, h.errClosed()
	}
	r, err := h.resolve()
	if err != nil {
		return nil, err
	}
	if pos < 1 || pos > uint32(len(r.Columns)) {
		return nil, fmt.Errorf("column position %d out of range for %d columns", pos, len(r.Columns))
	}
	return &paramHandle{col: r.Columns[pos-1]}, nil
}

// BindInfo reports up to max placeholder names starting at startPos.
func (h *stmtHandle) BindInfo(ctx context.Context, startPos, max uint32) ([]string, []bool, error) {
	if h.freed {
		return nil, nil, h.errClosed()
	}
	if startPos < 1 || startPos > uint32(len(h.bindNames)) {
		return nil, nil, nil
	}
	end := startPos - 1 + max
	if end > uint32(len(h.bindNames)) {
		end = uint32(len(h.bindNames))
	}
	names := make([]string, end-startPos+1)
	duplicate := make([]bool, end-startPos+1)
	copy(names, h.bindNames[startPos-1:end])
	copy(duplicate, h.bindDuplicate[startPos-1:end])
	return names, duplicate, nil
}

// DMLErrorParam returns the descriptor for one batch execution error.
func (h *stmtHandle) DMLErrorParam(ctx context.Context, index uint32) (calldb.ErrorParam, error) {
	if h.freed {
		return nil, h.errClosed()
	}
	if index >= uint32(len(h.batchErrs)) {
		return nil, fmt.Errorf("batch error index %d out of range for %d errors", index, len(h.batchErrs))
	}
	be := h.batchErrs[index]
	return &errorParam{rowOffset: be.rowOffset, code: be.code}, nil
}

// paramHandle serves column descriptor attributes. Signed scale and
// precision travel two's-complement in the low bits of the uint32.
type paramHandle struct {
	col Column
}

func (p *paramHandle) AttrGetUint32(ctx context.Context, attr calldb.ParamAttr) (uint32, error) {
	switch attr {
	case calldb.ParamAttrDataType:
		return uint32(p.col.Type), nil
	case calldb.ParamAttrCharsetForm:
		switch p.col.Type {
		case calldb.TypeNVarchar, calldb.TypeNChar, calldb.TypeNCLOB:
			return uint32(calldb.CharsetNational), nil
		}
		return uint32(calldb.CharsetImplicit), nil
	case calldb.ParamAttrScale:
		return uint32(uint8(p.col.Scale)), nil
	case calldb.ParamAttrPrecision:
		return uint32(uint16(p.col.Precision)), nil
	case calldb.ParamAttrDataSize:
		return p.col.Size, nil
	case calldb.ParamAttrCharSize:
		return p.col.Size, nil
	}
	return 0, fmt.Errorf("param attribute %v is not readable as uint32", attr)
}

func (p *paramHandle) AttrGetString(ctx context.Context, attr calldb.ParamAttr) (string, error) {
	switch attr {
	case calldb.ParamAttrName:
		return p.col.Name, nil
	case calldb.ParamAttrObjectTypeName:
		return p.col.ObjectTypeName, nil
	}
	return "", fmt.Errorf("param attribute %v is not readable as string", attr)
}

func (p *paramHandle) AttrGetBool(ctx context.Context, attr calldb.ParamAttr) (bool, error) {
	if attr == calldb.ParamAttrIsNull {
		return p.col.NullOK, nil
	}
	return false, fmt.Errorf("param attribute %v is not readable as bool", attr)
}

// errorParam describes one failed iteration of a batch execution.
type errorParam struct {
	rowOffset uint32
	code      uint32
}

func (p *errorParam) RowOffset(ctx context.Context) (uint32, error) {
	return p.rowOffset, nil
}

func (p *errorParam) ServerError() calldb.ServerError {
	return *serverError(p.code, "execute")
}
