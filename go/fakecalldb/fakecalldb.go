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

// Package fakecalldb provides an in-memory database backend for tests and
// demos. It implements the full calldb contract over a catalog of canned
// statements: register queries and their results, then drive the statement
// engine against sessions opened on the DB. Failure injection covers parse
// rejections, one-shot execute failures, and the stale-metadata error the
// engine recovers from by re-preparing.
package fakecalldb

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/rowcall/rowcall/go/calldb"
)

// DB is a fake database. All methods are thread-safe. Statement handles
// themselves are not; each one serves a single statement at a time, the way
// the engine drives them.
type DB struct {
	// t is our testing.TB instance, optional
	t testing.TB

	// name is the name of this DB
	name string

	// mu protects all the following fields
	mu sync.Mutex

	// data maps tolower(sql) to a result
	data map[string]*ExpectedResult

	// rejectedData maps tolower(sql) to an error returned at execute time
	rejectedData map[string]error

	// patternData is a map of regexp queries to results
	patternData map[string]exprResult

	// failNext maps tolower(sql) to a server error code consumed by the
	// next execute of that statement
	failNext map[string]uint32

	// queryCalled keeps track of how many times a query was executed
	queryCalled map[string]int

	// fetchCalled keeps track of how many fetch round trips a query served
	fetchCalled map[string]int

	// prefetchLog records every prefetch-rows value set on a query's handle
	prefetchLog map[string][]uint32

	// querylog keeps track of all executed queries
	querylog []string

	// openHandles counts live handles per tolower(sql)
	openHandles map[string]int

	// sessions holds every session opened on this DB
	sessions []*Session

	// charset is the environment reported to new sessions
	charset calldb.CharsetInfo
}

// Column describes one output column of a canned query result.
type Column struct {
	Name string
	Type calldb.DataType
	// Precision and Scale apply to numeric columns.
	Precision int16
	Scale     int8
	// Size is the declared size of variable-size columns: characters for
	// character data, bytes otherwise.
	Size   uint32
	NullOK bool
	// ObjectTypeName is set for object-typed columns.
	ObjectTypeName string
}

// ExpectedResult holds the canned outcome for a matched statement.
type ExpectedResult struct {
	// Columns and Rows describe a query result set.
	Columns []Column
	Rows    [][]any

	// RowsAffected reports the row count of a DML execution. Zero means
	// one row per iteration.
	RowsAffected uint64

	// IterationErrors injects per-iteration failures into batch
	// executions, keyed by 0-based iteration.
	IterationErrors map[uint32]uint32

	// RowCounts overrides the per-iteration row counts served for array
	// DML executions.
	RowCounts []uint64

	// Returning marks the statement as carrying a RETURNING clause;
	// ReturningRows is the actual count reported into dynamic binds.
	Returning     bool
	ReturningRows uint32

	// ImplicitResults queues result sets surfaced through NextResult.
	ImplicitResults []*ExpectedResult

	// QueryID is served as the change-subscription query id.
	QueryID uint64

	// BeforeFunc is synchronously called before the execute returns.
	BeforeFunc func()
}

type exprResult struct {
	queryPattern string
	expr         *regexp.Regexp
	result       *ExpectedResult
	err          string
}

// New creates a fake database. t may be nil outside of tests.
func New(t testing.TB) *DB {
	return &DB{
		t:            t,
		name:         "fakecalldb",
		data:         make(map[string]*ExpectedResult),
		rejectedData: make(map[string]error),
		patternData:  make(map[string]exprResult),
		failNext:     make(map[string]uint32),
		queryCalled:  make(map[string]int),
		fetchCalled:  make(map[string]int),
		prefetchLog:  make(map[string][]uint32),
		openHandles:  make(map[string]int),
		charset: calldb.CharsetInfo{
			ClientID:         873,
			ServerID:         873,
			MaxBytesPerChar:  4,
			MaxBytesPerNChar: 4,
		},
	}
}

// Name returns the name of the DB.
func (db *DB) Name() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.name
}

// SetName sets the name of the DB.
func (db *DB) SetName(name string) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.name = name
	return db
}

// SetCharset changes the character set environment reported to sessions.
func (db *DB) SetCharset(cs calldb.CharsetInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.charset = cs
}

//
// Methods to add expected statements and results.
//

// AddQuery adds a statement and its expected result.
func (db *DB) AddQuery(sql string, expectedResult *ExpectedResult) *ExpectedResult {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := strings.ToLower(sql)
	r := &ExpectedResult{}
	*r = *expectedResult
	db.data[key] = r
	db.queryCalled[key] = 0
	return r
}

// AddQueryPattern adds an expected result for a set of statements. Patterns
// are checked if no exact matches from AddQuery() are found. Begin/end
// anchors are forced and matching is case-insensitive.
func (db *DB) AddQueryPattern(queryPattern string, expectedResult *ExpectedResult) {
	expr := regexp.MustCompile("(?is)^" + queryPattern + "$")
	db.mu.Lock()
	defer db.mu.Unlock()
	db.patternData[queryPattern] = exprResult{
		queryPattern: queryPattern,
		expr:         expr,
		result:       expectedResult,
	}
}

// AddRejectedQuery adds a statement which will be rejected at execution
// time. A *calldb.ServerError carries its parse offset onto the handle.
func (db *DB) AddRejectedQuery(sql string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rejectedData[strings.ToLower(sql)] = err
}

// DeleteQuery deletes a statement from the fake DB.
func (db *DB) DeleteQuery(sql string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := strings.ToLower(sql)
	delete(db.data, key)
	delete(db.queryCalled, key)
}

// DeleteRejectedQuery deletes a rejected statement from the fake DB.
func (db *DB) DeleteRejectedQuery(sql string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.rejectedData, strings.ToLower(sql))
}

// DeleteAllQueries deletes all expected statements from the fake DB.
func (db *DB) DeleteAllQueries() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data = make(map[string]*ExpectedResult)
	db.patternData = make(map[string]exprResult)
	db.queryCalled = make(map[string]int)
}

//
// Failure injection.
//

// FailNextExecute arms a one-shot server error for the next execution of
// sql.
func (db *DB) FailNextExecute(sql string, code uint32) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failNext[strings.ToLower(sql)] = code
}

// DropColumn removes the last column from the canned result of sql and arms
// a one-shot stale-metadata failure, imitating a concurrent schema change
// under a cached statement. The next execute fails with server code 1007;
// a re-prepared handle then sees the narrowed result.
func (db *DB) DropColumn(sql string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := strings.ToLower(sql)
	r, ok := db.data[key]
	if !ok {
		return fmt.Errorf("no query registered for: %v", sql)
	}
	if len(r.Columns) < 2 {
		return fmt.Errorf("query %v has no column to drop", sql)
	}
	r.Columns = r.Columns[:len(r.Columns)-1]
	for i, row := range r.Rows {
		if len(row) >= len(r.Columns)+1 {
			r.Rows[i] = row[:len(r.Columns)]
		}
	}
	db.failNext[key] = calldb.ServerErrVarNotInSelectList
	return nil
}

//
// Inspection helpers for tests.
//

// GetQueryCalledNum returns how many times a statement was executed.
func (db *DB) GetQueryCalledNum(sql string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.queryCalled[strings.ToLower(sql)]
}

// FetchCalls returns how many fetch round trips a statement has served.
func (db *DB) FetchCalls(sql string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.fetchCalled[strings.ToLower(sql)]
}

// PrefetchHistory returns every prefetch-rows value set on handles of sql,
// oldest first.
func (db *DB) PrefetchHistory(sql string) []uint32 {
	db.mu.Lock()
	defer db.mu.Unlock()
	history := db.prefetchLog[strings.ToLower(sql)]
	out := make([]uint32, len(history))
	copy(out, history)
	return out
}

// HandleOpen reports whether any live handle exists for sql.
func (db *DB) HandleOpen(sql string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.openHandles[strings.ToLower(sql)] > 0
}

// OpenHandleCount returns the number of live handles for sql.
func (db *DB) OpenHandleCount(sql string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.openHandles[strings.ToLower(sql)]
}

// StatementCacheLen sums the idle statement cache sizes of all sessions.
func (db *DB) StatementCacheLen() int {
	db.mu.Lock()
	sessions := make([]*Session, len(db.sessions))
	copy(sessions, db.sessions)
	db.mu.Unlock()

	n := 0
	for _, s := range sessions {
		n += s.cache.Len()
	}
	return n
}

// QueryLog returns the execute log as a semicolon separated string.
func (db *DB) QueryLog() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return strings.Join(db.querylog, ";")
}

// ResetQueryLog resets the execute log.
func (db *DB) ResetQueryLog() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.querylog = nil
}

//
// Catalog access for handles.
//

// lookup resolves the canned result for sql without recording an execution.
func (db *DB) lookup(sql string) (*ExpectedResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := strings.ToLower(sql)
	if result, ok := db.data[key]; ok {
		return result, nil
	}
	for _, pat := range db.patternData {
		if pat.expr.MatchString(sql) {
			if pat.err != "" {
				return nil, &calldb.ServerError{
					Code:    900,
					Message: pat.err,
					Action:  "parse",
				}
			}
			return pat.result, nil
		}
	}
	return nil, fmt.Errorf("fakecalldb: query '%s' is not supported on %v", sql, db.name)
}

// beginExecute records an execution and returns the canned result, the
// armed one-shot failure, or the registered rejection.
func (db *DB) beginExecute(sql string) (*ExpectedResult, uint32, error) {
	db.mu.Lock()
	key := strings.ToLower(sql)
	db.queryCalled[key]++
	db.querylog = append(db.querylog, key)

	if code, ok := db.failNext[key]; ok {
		delete(db.failNext, key)
		db.mu.Unlock()
		return nil, code, nil
	}
	if err, ok := db.rejectedData[key]; ok {
		db.mu.Unlock()
		return nil, 0, err
	}
	db.mu.Unlock()

	result, err := db.lookup(sql)
	if err != nil {
		return nil, 0, err
	}
	if f := result.BeforeFunc; f != nil {
		f()
	}
	return result, 0, nil
}

func (db *DB) recordFetch(sql string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fetchCalled[strings.ToLower(sql)]++
}

func (db *DB) recordPrefetch(sql string, rows uint32) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := strings.ToLower(sql)
	db.prefetchLog[key] = append(db.prefetchLog[key], rows)
}

func (db *DB) handleOpened(sql string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.openHandles[strings.ToLower(sql)]++
}

func (db *DB) handleClosed(sql string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.openHandles[strings.ToLower(sql)]--
}

// serverError renders a fresh server error for code. Callers own the
// returned value; the engine mutates it in place.
func serverError(code uint32, action string) *calldb.ServerError {
	messages := map[uint32]string{
		calldb.ServerErrUniqueViolation:    "unique constraint violated",
		calldb.ServerErrVarNotInSelectList: "variable not in select list",
		900:                                "invalid SQL statement",
		1722:                               "invalid number",
		24391:                              "fetch operation incompatible with this cursor",
	}
	msg, ok := messages[code]
	if !ok {
		msg = fmt.Sprintf("error code %d", code)
	}
	return &calldb.ServerError{
		Code:          code,
		Message:       msg,
		Action:        action,
		IsRecoverable: code == calldb.ServerErrVarNotInSelectList,
	}
}
