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
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
	"github.com/rowcall/rowcall/go/stmtcache"
)

// placeholder is one occurrence of a :name bind variable in statement text.
type placeholder struct {
	name      string
	duplicate bool // an earlier occurrence uses the same name
}

// rewritePlaceholders scans sql for :name placeholders and replaces each
// with a ? bind variable, returning the rewritten text and the occurrences
// in order. Single-quoted literals, double-quoted identifiers, comments and
// double-colon casts are left alone. Names are uppercased; binds resolve
// case-insensitively.
func rewritePlaceholders(sql string) (string, []placeholder) {
	var out strings.Builder
	var names []placeholder
	seen := map[string]bool{}
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch c {
		case '\'':
			start := i
			for i++; i < len(sql); i++ {
				if sql[i] == '\'' {
					if i+1 < len(sql) && sql[i+1] == '\'' {
						i++
						continue
					}
					break
				}
			}
			out.WriteString(sql[start:min(i+1, len(sql))])
		case '"':
			start := i
			for i++; i < len(sql) && sql[i] != '"'; i++ {
			}
			out.WriteString(sql[start:min(i+1, len(sql))])
		case '-':
			if i+1 < len(sql) && sql[i+1] == '-' {
				start := i
				for i += 2; i < len(sql) && sql[i] != '\n'; i++ {
				}
				out.WriteString(sql[start:min(i+1, len(sql))])
				continue
			}
			out.WriteByte(c)
		case '/':
			if i+1 < len(sql) && sql[i+1] == '*' {
				end := strings.Index(sql[i+2:], "*/")
				if end < 0 {
					out.WriteString(sql[i:])
					return out.String(), names
				}
				out.WriteString(sql[i : i+2+end+2])
				i += 2 + end + 1
				continue
			}
			out.WriteByte(c)
		case ':':
			if i+1 < len(sql) && sql[i+1] == ':' {
				out.WriteString("::")
				i++
				continue
			}
			j := i + 1
			for j < len(sql) && isIdentByte(sql[j]) {
				j++
			}
			if j == i+1 {
				out.WriteByte(c)
				continue
			}
			name := strings.ToUpper(sql[i+1 : j])
			names = append(names, placeholder{name: name, duplicate: seen[name]})
			seen[name] = true
			out.WriteByte('?')
			i = j - 1
		default:
			out.WriteByte(c)
		}
	}
	return out.String(), names
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// parseStatementKind classifies a statement by its first keyword.
func parseStatementKind(sql string) calldb.StatementKind {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return calldb.KindUnknown
	}
	switch strings.ToLower(fields[0]) {
	case "select", "with", "values":
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

func positionalLocator(pos uint32) string {
	return fmt.Sprintf("#%d", pos)
}

// colDesc is the post-execution metadata of one output column.
type colDesc struct {
	name      string
	dataType  calldb.DataType
	precision uint16
	scale     int8
	size      uint32
	nullable  bool
}

// batchError is one failed iteration of a batch execution.
type batchError struct {
	rowOffset uint32
	se        calldb.ServerError
}

// stmtHandle is a prepared statement over a driver statement. It implements
// calldb.StatementHandle.
type stmtHandle struct {
	sess   *Session
	stmt   *sqlx.Stmt
	cached *stmtcache.CachedStatement
	sql    string
	name   string
	kind   calldb.StatementKind
	names  []placeholder
	posOf  map[string]uint32
	freed  bool

	binds   map[string]*sqlVariable
	defines []*sqlVariable

	executed       bool
	rows           *sql.Rows
	cols           []colDesc
	affected       uint64
	batchErrs      []batchError
	rowsFetched    uint32
	serverPos      uint64
	prefetchRows   uint32
	parseErrOffset uint32
}

func (h *stmtHandle) errClosed() error {
	return fmt.Errorf("statement %s was already freed", h.name)
}

// resetRuntime clears per-use state so a cached handle starts fresh.
func (h *stmtHandle) resetRuntime() {
	h.closeRows()
	h.binds = map[string]*sqlVariable{}
	h.defines = nil
	h.cols = nil
	h.executed = false
	h.affected = 0
	h.batchErrs = nil
	h.rowsFetched = 0
	h.serverPos = 0
	h.prefetchRows = 0
	h.parseErrOffset = 0
}

func (h *stmtHandle) destroy() {
	if h.freed {
		return
	}
	h.freed = true
	h.closeRows()
	if err := h.stmt.Close(); err != nil {
		h.sess.logger.Warn("failed to close driver statement", "name", h.name, "error", err)
	}
}

func (h *stmtHandle) closeRows() {
	if h.rows != nil {
		h.rows.Close()
		h.rows = nil
	}
}

// distinctPosition resolves the 1-based positional locator of a placeholder
// name, assigning positions in first-occurrence order.
func (h *stmtHandle) distinctPosition(name string) uint32 {
	if h.posOf == nil {
		h.posOf = map[string]uint32{}
		for _, ph := range h.names {
			if _, ok := h.posOf[ph.name]; !ok {
				h.posOf[ph.name] = uint32(len(h.posOf)) + 1
			}
		}
	}
	return h.posOf[name]
}

// buildArgs resolves the driver argument list for one iteration from the
// bound variables' wire values. Named placeholders resolve by name first and
// by distinct position second; statements without named placeholders take
// positional binds in order.
func (h *stmtHandle) buildArgs(iter uint32) ([]any, error) {
	if len(h.names) > 0 {
		args := make([]any, len(h.names))
		for i, ph := range h.names {
			v, ok := h.binds[ph.name]
			if !ok {
				v, ok = h.binds[positionalLocator(h.distinctPosition(ph.name))]
			}
			if !ok {
				return nil, fmt.Errorf("placeholder :%s is not bound", strings.ToLower(ph.name))
			}
			val, err := v.wireValue(iter)
			if err != nil {
				return nil, err
			}
			args[i] = val
		}
		return args, nil
	}
	args := make([]any, 0, len(h.binds))
	for {
		v, ok := h.binds[positionalLocator(uint32(len(args)) + 1)]
		if !ok {
			break
		}
		val, err := v.wireValue(iter)
		if err != nil {
			return nil, err
		}
		args = append(args, val)
	}
	if len(args) != len(h.binds) {
		return nil, fmt.Errorf("statement %s has %d binds for %d positional placeholders", h.name, len(h.binds), len(args))
	}
	return args, nil
}

// Execute runs the statement. Queries open a row cursor and describe their
// columns in the same call; everything else runs once per iteration through
// the driver, since database/sql has no array interface. In batch-error mode
// failed iterations are recorded instead of aborting the loop.
func (h *stmtHandle) Execute(ctx context.Context, iters uint32, mode calldb.ExecMode) error {
	if h.freed {
		return h.errClosed()
	}
	if mode&(calldb.ExecParseOnly|calldb.ExecDescribeOnly) != 0 {
		return nil
	}
	h.closeRows()
	h.executed = false
	h.cols = nil
	h.affected = 0
	h.batchErrs = nil
	h.rowsFetched = 0
	h.serverPos = 0
	h.parseErrOffset = 0

	if h.kind.IsQuery() {
		args, err := h.buildArgs(0)
		if err != nil {
			return err
		}
		rows, err := h.stmt.QueryContext(ctx, args...)
		if err != nil {
			return h.execFailed(err)
		}
		if err := h.describe(rows); err != nil {
			rows.Close()
			return err
		}
		h.rows = rows
		h.executed = true
		return nil
	}

	for i := uint32(0); i < iters; i++ {
		args, err := h.buildArgs(i)
		if err != nil {
			return err
		}
		res, err := h.stmt.ExecContext(ctx, args...)
		if err != nil {
			se := serverErrorFrom(err, "execute")
			if mode&calldb.ExecBatchErrors != 0 {
				h.batchErrs = append(h.batchErrs, batchError{rowOffset: i, se: *se})
				continue
			}
			h.parseErrOffset = se.Offset
			return se
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			h.affected += uint64(n)
		}
	}
	h.executed = true
	return nil
}

func (h *stmtHandle) execFailed(err error) error {
	se := serverErrorFrom(err, "execute")
	h.parseErrOffset = se.Offset
	return se
}

func (h *stmtHandle) describe(rows *sql.Rows) error {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("failed to describe result columns: %w", err)
	}
	cols := make([]colDesc, len(cts))
	for i, ct := range cts {
		cols[i] = describeColumn(ct)
	}
	h.cols = cols
	return nil
}

func describeColumn(ct *sql.ColumnType) colDesc {
	d := colDesc{
		name:     ct.Name(),
		dataType: dataTypeFor(ct.DatabaseTypeName()),
		nullable: true,
	}
	if prec, scale, ok := ct.DecimalSize(); ok {
		d.precision = uint16(prec)
		d.scale = int8(scale)
	}
	if n, ok := ct.Length(); ok {
		d.size = uint32(n)
	}
	if nullable, ok := ct.Nullable(); ok {
		d.nullable = nullable
	}
	return d
}

// dataTypeFor maps a driver-reported database type name onto the declared
// type system, by exact name first and by affinity second.
func dataTypeFor(dbType string) calldb.DataType {
	t := strings.ToUpper(dbType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "NUMERIC", "DECIMAL":
		return calldb.TypeNumber
	case "DATE":
		return calldb.TypeDate
	case "TIMESTAMPTZ":
		return calldb.TypeTimestampTZ
	case "TIMESTAMP", "DATETIME":
		return calldb.TypeTimestamp
	case "BOOL", "BOOLEAN":
		return calldb.TypeBoolean
	case "BYTEA", "BLOB":
		return calldb.TypeRaw
	}
	switch {
	case strings.Contains(t, "INT"):
		return calldb.TypeNativeInt
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"),
		strings.Contains(t, "CLOB"), strings.Contains(t, "NAME"):
		return calldb.TypeVarchar
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return calldb.TypeNativeFloat
	case strings.Contains(t, "TIME"):
		return calldb.TypeTimestamp
	}
	return calldb.TypeVarchar
}

// Fetch materializes up to numRows rows into the defined variables. Only
// forward fetching is supported; a fetch after the cursor is drained reports
// zero rows.
func (h *stmtHandle) Fetch(ctx context.Context, numRows uint32, mode calldb.FetchMode, offset int32) error {
	if h.freed {
		return h.errClosed()
	}
	if mode != calldb.FetchNext {
		return rcerrors.Errorf(rcerrors.NotSupported, "fetch mode %v is not supported by this backend", mode)
	}
	if h.rows == nil {
		if h.executed && h.kind.IsQuery() {
			h.rowsFetched = 0
			return nil
		}
		return fmt.Errorf("statement %s has no open cursor", h.name)
	}

	vals := make([]any, len(h.cols))
	ptrs := make([]any, len(h.cols))
	var fetched uint32
	for fetched < numRows {
		if !h.rows.Next() {
			err := h.rows.Err()
			h.closeRows()
			if err != nil {
				return serverErrorFrom(err, "fetch")
			}
			break
		}
		for i := range ptrs {
			vals[i] = nil
			ptrs[i] = &vals[i]
		}
		if err := h.rows.Scan(ptrs...); err != nil {
			return serverErrorFrom(err, "fetch")
		}
		for i, v := range h.defines {
			if v == nil {
				continue
			}
			var val any
			if i < len(vals) {
				val = vals[i]
			}
			if err := v.setWire(fetched, val); err != nil {
				return fmt.Errorf("failed to store row %d column %d: %w", fetched, i+1, err)
			}
		}
		fetched++
	}
	h.rowsFetched = fetched
	h.serverPos += uint64(fetched)
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
		return 0, nil
	case calldb.AttrPrefetchRows:
		return h.prefetchRows, nil
	case calldb.AttrParamCount:
		if h.cols == nil {
			return 0, fmt.Errorf("statement %s has not been executed; column metadata is available after execution", h.name)
		}
		return uint32(len(h.cols)), nil
	case calldb.AttrRowsFetched:
		return h.rowsFetched, nil
	case calldb.AttrCurrentPosition:
		return uint32(h.serverPos), nil
	case calldb.AttrParseErrorOffset:
		return h.parseErrOffset, nil
	case calldb.AttrNumDMLErrors:
		return uint32(len(h.batchErrs)), nil
	case calldb.AttrBindCount:
		return uint32(len(h.binds)), nil
	case calldb.AttrSubscriptionQueryID:
		return 0, nil
	}
	return 0, fmt.Errorf("attribute %v is not readable as uint32", attr)
}

func (h *stmtHandle) AttrGetUint64(ctx context.Context, attr calldb.Attr) (uint64, error) {
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
	// Row delivery is driver-buffered; the prefetch hint is accepted and
	// ignored.
	if attr == calldb.AttrPrefetchRows {
		h.prefetchRows = value
		return nil
	}
	return fmt.Errorf("attribute %v is not writable", attr)
}

// ParamHandle returns the descriptor of the 1-based output column pos.
func (h *stmtHandle) ParamHandle(ctx context.Context, pos uint32) (calldb.ParamHandle, error) {
	if h.freed {
		return nil, h.errClosed()
	}
	if h.cols == nil {
		return nil, fmt.Errorf("statement %s has not been executed; column metadata is available after execution", h.name)
	}
	if pos == 0 || pos > uint32(len(h.cols)) {
		return nil, fmt.Errorf("column position %d is out of range", pos)
	}
	return &paramHandle{col: h.cols[pos-1]}, nil
}

// BindInfo reports placeholder occurrences with duplicate flags, batched
// from the 1-based start position.
func (h *stmtHandle) BindInfo(ctx context.Context, startPos, max uint32) ([]string, []bool, error) {
	if h.freed {
		return nil, nil, h.errClosed()
	}
	if startPos == 0 || startPos > uint32(len(h.names)) {
		return nil, nil, nil
	}
	end := startPos - 1 + max
	if end > uint32(len(h.names)) {
		end = uint32(len(h.names))
	}
	window := h.names[startPos-1 : end]
	names := make([]string, len(window))
	duplicate := make([]bool, len(window))
	for i, ph := range window {
		names[i] = ph.name
		duplicate[i] = ph.duplicate
	}
	return names, duplicate, nil
}

// DMLErrorParam returns the descriptor for one batch execution error.
func (h *stmtHandle) DMLErrorParam(ctx context.Context, index uint32) (calldb.ErrorParam, error) {
	if h.freed {
		return nil, h.errClosed()
	}
	if index >= uint32(len(h.batchErrs)) {
		return nil, fmt.Errorf("batch error index %d is out of range", index)
	}
	be := h.batchErrs[index]
	return &errorParam{off: be.rowOffset, se: be.se}, nil
}

type paramHandle struct {
	col colDesc
}

func (p *paramHandle) AttrGetUint32(ctx context.Context, attr calldb.ParamAttr) (uint32, error) {
	switch attr {
	case calldb.ParamAttrDataType:
		return uint32(p.col.dataType), nil
	case calldb.ParamAttrCharsetForm:
		return uint32(calldb.CharsetImplicit), nil
	case calldb.ParamAttrScale:
		return uint32(uint8(p.col.scale)), nil
	case calldb.ParamAttrPrecision:
		return uint32(p.col.precision), nil
	case calldb.ParamAttrDataSize, calldb.ParamAttrCharSize:
		return p.col.size, nil
	}
	return 0, fmt.Errorf("param attribute %v is not readable as uint32", attr)
}

func (p *paramHandle) AttrGetString(ctx context.Context, attr calldb.ParamAttr) (string, error) {
	if attr == calldb.ParamAttrName {
		return p.col.name, nil
	}
	return "", fmt.Errorf("param attribute %v is not readable as string", attr)
}

func (p *paramHandle) AttrGetBool(ctx context.Context, attr calldb.ParamAttr) (bool, error) {
	if attr == calldb.ParamAttrIsNull {
		return p.col.nullable, nil
	}
	return false, fmt.Errorf("param attribute %v is not readable as bool", attr)
}

// errorParam describes a single failed batch iteration.
type errorParam struct {
	off uint32
	se  calldb.ServerError
}

func (p *errorParam) RowOffset(ctx context.Context) (uint32, error) {
	return p.off, nil
}

func (p *errorParam) ServerError() calldb.ServerError {
	return p.se
}
