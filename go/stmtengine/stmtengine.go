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

// Package stmtengine manages the full lifecycle of a prepared statement
// against a database backend reached through the calldb contract: binding
// input parameters, executing, defining and buffering output columns,
// fetching rows in batches, scrollable positioning, per-row batch errors
// from multi-row DML, and transparent re-prepare recovery after the server
// reports stale statement metadata.
//
// A Statement is not safe for concurrent use. Protocol calls are synchronous
// and run to completion; the engine threads the caller's context through to
// the backend but sets no deadlines of its own.
package stmtengine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
	"github.com/rowcall/rowcall/go/refcount"
	"github.com/rowcall/rowcall/go/stats"
)

// DefaultFetchArraySize is the number of rows buffered per fetch round trip
// when the caller has not chosen one.
const DefaultFetchArraySize = 100

// bindChunkSize is the growth increment of the bind registry.
const bindChunkSize = 8

// bindInfoBatchSize is how many placeholder names are read per protocol call
// when gathering bind names.
const bindInfoBatchSize = 8

var tracer = otel.Tracer("github.com/rowcall/rowcall/go/stmtengine")

// Options configures statement preparation.
type Options struct {
	// Scrollable opens the statement as a scrollable cursor, enabling
	// Scroll in addition to forward fetching.
	Scrollable bool
	// Tag files the prepared handle under this tag in the backend's
	// statement cache.
	Tag string
	// Logger receives debug-level operation logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Statement is a prepared unit of SQL or procedural code plus its execution
// and fetch state. Statements are reference counted: cursor-valued variables
// may share one, and the last Release closes it.
type Statement struct {
	id     uuid.UUID
	logger *slog.Logger
	refs   refcount.Count

	sess   calldb.Session
	handle calldb.StatementHandle
	sql    string
	tag    string

	kind        calldb.StatementKind
	isReturning bool
	scrollable  bool
	ownedHandle bool
	evict       bool
	closing     bool

	fetchArraySize uint32

	binds []bindEntry

	queryColumns []ColumnInfo
	queryVars    []calldb.Variable

	batchErrors []BatchError

	rowCount       uint64
	bufferMinRow   uint64
	bufferRowCount uint32
	bufferRowIndex uint32
	hasRowsToFetch bool
}

// Prepare prepares sql against the session and returns an open statement
// holding one reference. The session reference and open-child slot acquired
// here are released when the statement closes.
func Prepare(ctx context.Context, sess calldb.Session, sql string, opts Options) (*Statement, error) {
	if sess == nil || !sess.Live() {
		return nil, rcerrors.New(rcerrors.NotConnected, "not connected to the database")
	}
	if sql == "" {
		return nil, rcerrors.New(rcerrors.InvalidArgument, "sql text cannot be empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := sess.IncrementOpenChildren(); err != nil {
		return nil, rcerrors.Wrap(err, rcerrors.NotConnected, "session no longer accepts statements")
	}
	sess.AddRef()

	handle, err := sess.PrepareHandle(ctx, sql, opts.Tag)
	if err != nil {
		sess.DecrementOpenChildren()
		sess.Release()
		return nil, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to prepare statement")
	}

	s := &Statement{
		id:             uuid.New(),
		logger:         logger,
		sess:           sess,
		handle:         handle,
		sql:            sql,
		tag:            opts.Tag,
		scrollable:     opts.Scrollable,
		fetchArraySize: DefaultFetchArraySize,
	}
	s.refs.Init(func() { s.close(context.Background(), false) })
	stats.RecordPrepare()
	s.logger.Debug("prepared statement",
		"stmt", s.id, "tag", opts.Tag, "scrollable", opts.Scrollable)
	return s, nil
}

// adopt wraps a handle the backend already owns, such as an implicit result.
// Adopted handles bypass the statement cache on close and are freed directly.
func adopt(sess calldb.Session, handle calldb.StatementHandle, logger *slog.Logger) (*Statement, error) {
	if err := sess.IncrementOpenChildren(); err != nil {
		sess.FreeHandle(handle)
		return nil, rcerrors.Wrap(err, rcerrors.NotConnected, "session no longer accepts statements")
	}
	sess.AddRef()

	s := &Statement{
		id:             uuid.New(),
		logger:         logger,
		sess:           sess,
		handle:         handle,
		ownedHandle:    true,
		fetchArraySize: DefaultFetchArraySize,
	}
	s.refs.Init(func() { s.close(context.Background(), false) })
	stats.RecordPrepare()
	return s, nil
}

// AddRef acquires an additional reference to the statement.
func (s *Statement) AddRef() {
	s.refs.AddRef()
}

// Release drops one reference. The last release closes the statement,
// swallowing any handle release failure.
func (s *Statement) Release() {
	s.refs.Release()
}

// Close closes the statement now, releasing its handle under the tag it was
// prepared with. Handle release failures are reported. Closing an already
// closed statement is a no-op.
func (s *Statement) Close(ctx context.Context) error {
	return s.close(ctx, true)
}

// CloseTagged closes the statement, refiling the cached handle under tag
// instead of the prepare tag.
func (s *Statement) CloseTagged(ctx context.Context, tag string) error {
	s.tag = tag
	return s.close(ctx, true)
}

// close tears down all statement state. propagate controls whether a handle
// release failure is returned or merely logged; resources are released either
// way.
func (s *Statement) close(ctx context.Context, propagate bool) error {
	if s.closing || s.handle == nil {
		return nil
	}
	s.closing = true

	s.clearBatchErrors()
	s.clearBinds()
	s.clearQueryVars()

	var relErr error
	if s.sess.Live() {
		if s.ownedHandle {
			s.sess.FreeHandle(s.handle)
		} else {
			relErr = s.sess.ReleaseHandle(ctx, s.handle, s.tag, s.evict)
		}
	}
	s.handle = nil
	s.sess.DecrementOpenChildren()
	s.sess.Release()
	stats.RecordClose()
	s.logger.Debug("closed statement", "stmt", s.id, "evict", s.evict)

	if relErr != nil {
		if !propagate {
			s.logger.Warn("failed to release statement handle",
				"stmt", s.id, "error", relErr)
			return nil
		}
		return rcerrors.Wrap(relErr, rcerrors.ServerFailure, "failed to release statement handle")
	}
	return nil
}

// checkOpen guards every public operation: the statement must still hold a
// handle, the session must be live, and the statement kind is determined
// lazily on first use.
func (s *Statement) checkOpen(ctx context.Context) error {
	if s.handle == nil || s.closing {
		return rcerrors.New(rcerrors.StatementClosed, "statement was already closed")
	}
	if s.sess == nil || !s.sess.Live() {
		return rcerrors.New(rcerrors.NotConnected, "not connected to the database")
	}
	if s.kind == calldb.KindUnknown {
		return s.initKind(ctx)
	}
	return nil
}

// initKind reads the server's classification of the statement. Queries start
// out with rows expected; everything else reads the RETURNING flag.
func (s *Statement) initKind(ctx context.Context) error {
	raw, err := s.handle.AttrGetUint32(ctx, calldb.AttrStatementType)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get statement type")
	}
	s.kind = calldb.StatementKind(raw)
	if s.kind.IsQuery() {
		s.hasRowsToFetch = true
		return nil
	}
	ret, err := s.handle.AttrGetUint32(ctx, calldb.AttrIsReturning)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get returning flag")
	}
	s.isReturning = ret != 0
	return nil
}

// ID returns the statement's log identifier.
func (s *Statement) ID() uuid.UUID {
	return s.id
}

// SQL returns the text the statement was prepared with. Adopted implicit
// results report an empty string.
func (s *Statement) SQL() string {
	return s.sql
}

// FetchArraySize returns the number of rows buffered per fetch round trip.
func (s *Statement) FetchArraySize() uint32 {
	return s.fetchArraySize
}

// SetFetchArraySize changes the number of rows buffered per fetch round
// trip; zero restores the default. Variables already defined for output
// columns must be able to hold the new size.
func (s *Statement) SetFetchArraySize(ctx context.Context, size uint32) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if size == 0 {
		size = DefaultFetchArraySize
	}
	for _, v := range s.queryVars {
		if v != nil && v.Capacity() < size {
			return rcerrors.Errorf(rcerrors.ArraySizeTooBig,
				"fetch array size %d exceeds defined variable capacity %d", size, v.Capacity())
		}
	}
	s.fetchArraySize = size
	return nil
}

// DeleteFromCache marks the statement's handle for eviction from the
// backend's statement cache when the statement closes.
func (s *Statement) DeleteFromCache(ctx context.Context) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	s.evict = true
	return nil
}
