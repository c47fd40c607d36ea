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
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
	"github.com/rowcall/rowcall/go/stats"
)

// Execute runs the statement once and returns the number of query columns.
// Queries are described immediately afterwards so column metadata and
// fetching are ready; a stale-metadata failure is recovered from once by
// re-preparing and re-executing.
func (s *Statement) Execute(ctx context.Context, mode calldb.ExecMode) (uint32, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	ctx, span := tracer.Start(ctx, "stmtengine.Execute", trace.WithAttributes(
		attribute.String("stmt.id", s.id.String()),
		attribute.String("stmt.kind", s.kind.String()),
	))
	defer span.End()

	err := s.execute(ctx, 1, mode, true)
	stats.RecordExecute(s.kind.String(), err)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return uint32(len(s.queryColumns)), nil
}

// ExecuteMany runs the statement for numIters sets of bound values. Queries
// are not supported; every bound variable must hold at least numIters
// elements. In batch-error mode, per-iteration failures are collected
// instead of aborting the call; stale-metadata recovery is never attempted.
func (s *Statement) ExecuteMany(ctx context.Context, mode calldb.ExecMode, numIters uint32) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if s.kind.IsQuery() {
		return rcerrors.New(rcerrors.NotSupported, "queries cannot be executed in batch")
	}
	if numIters == 0 {
		return rcerrors.New(rcerrors.InvalidArgument, "at least one iteration is required")
	}
	if mode&(calldb.ExecBatchErrors|calldb.ExecArrayDMLRowCounts) != 0 && !s.kind.IsDML() {
		return rcerrors.New(rcerrors.NotSupported,
			"batch errors and row count arrays require an insert, update, delete or merge statement")
	}
	for i := range s.binds {
		if v := s.binds[i].v; v != nil && v.Capacity() < numIters {
			return rcerrors.Errorf(rcerrors.ArraySizeTooSmall,
				"array size of %d is too small for %d iterations", v.Capacity(), numIters)
		}
	}

	ctx, span := tracer.Start(ctx, "stmtengine.ExecuteMany", trace.WithAttributes(
		attribute.String("stmt.id", s.id.String()),
		attribute.String("stmt.kind", s.kind.String()),
		attribute.Int64("stmt.iterations", int64(numIters)),
	))
	defer span.End()

	err := s.execute(ctx, numIters, mode, false)
	stats.RecordExecute(s.kind.String(), err)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if mode&calldb.ExecBatchErrors != 0 {
		if err := s.collectBatchErrors(ctx, "ExecuteMany"); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// execute is the execution state machine shared by Execute and ExecuteMany.
// reExecute permits the one-shot stale-metadata recovery; it is disabled for
// batch execution and for the recovery retry itself.
func (s *Statement) execute(ctx context.Context, numIters uint32, mode calldb.ExecMode, reExecute bool) error {
	// Flush every bound variable's external values into wire form. A
	// cursor variable must not reference the statement being executed.
	for i := range s.binds {
		v := s.binds[i].v
		if v == nil {
			continue
		}
		if cc, ok := v.(calldb.CursorCarrier); ok && cc.ReferencesCursor(s) {
			return rcerrors.New(rcerrors.NotSupported, "binding a statement to itself is not supported")
		}
		if err := v.CopyToWire(v.Capacity()); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to transfer bind values")
		}
	}

	// For queries, rows for the first window arrive in the same round trip
	// as the execution.
	if s.kind.IsQuery() {
		if err := s.handle.AttrSetUint32(ctx, calldb.AttrPrefetchRows, s.fetchArraySize); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to set prefetch rows")
		}
	}

	s.clearBatchErrors()

	if s.scrollable {
		mode |= calldb.ExecScrollableReadOnly
	}

	if err := s.handle.Execute(ctx, numIters, mode); err != nil {
		if se := asServerError(err); se != nil {
			if off, aerr := s.handle.AttrGetUint32(ctx, calldb.AttrParseErrorOffset); aerr == nil {
				se.Offset = off
			}
		}
		wrapped := rcerrors.Wrap(err, rcerrors.ServerFailure, "statement execution failed")
		if reExecute && calldb.ServerCode(err) == calldb.ServerErrVarNotInSelectList {
			return s.reExecute(ctx, numIters, mode, wrapped)
		}
		if calldb.ServerCode(err) != calldb.ServerErrUniqueViolation {
			s.evict = true
		}
		return wrapped
	}

	// The protocol cannot say which binds are outputs, so whenever outputs
	// are possible every bound variable is pulled back from wire form.
	if s.isReturning || s.kind.IsPLSQL() {
		for i := range s.binds {
			v := s.binds[i].v
			if v == nil {
				continue
			}
			if err := v.CopyFromWire(v.ActualCount()); err != nil {
				return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to transfer output values")
			}
		}
	}

	if s.kind.IsQuery() {
		s.rowCount = 0
		if mode&calldb.ExecParseOnly == 0 {
			if err := s.ensureDescribed(ctx); err != nil {
				return err
			}
		}
		// Subsequent fetches write straight into the defined buffers.
		if err := s.handle.AttrSetUint32(ctx, calldb.AttrPrefetchRows, 0); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to reset prefetch rows")
		}
	}
	return nil
}

// reExecute recovers from the one server error that signals stale cached
// statement metadata: the SQL text is read from the stale handle, a fresh
// handle is prepared, the stale one is released with forced cache eviction,
// and every bind is transferred to the fresh handle before executing again
// with recovery disabled. Failures before the fresh handle is swapped in
// surface origErr; recovery is best effort.
func (s *Statement) reExecute(ctx context.Context, numIters uint32, mode calldb.ExecMode, origErr error) error {
	s.logger.Debug("recovering statement after stale metadata", "stmt", s.id)

	sqlText, err := s.handle.AttrGetString(ctx, calldb.AttrSQLText)
	if err != nil {
		stats.RecordRecovery(err)
		return origErr
	}
	newHandle, err := s.sess.PrepareHandle(ctx, sqlText, s.tag)
	if err != nil {
		stats.RecordRecovery(err)
		return origErr
	}
	if err := s.sess.ReleaseHandle(ctx, s.handle, s.tag, true); err != nil {
		s.sess.FreeHandle(newHandle)
		stats.RecordRecovery(err)
		return origErr
	}
	s.handle = newHandle

	s.clearBatchErrors()
	s.clearQueryVars()

	// Transfer each bind's reference to the fresh handle. On failure the
	// transferred references still get exactly one release.
	old := s.binds
	s.binds = nil
	for i := range old {
		e := &old[i]
		if e.v == nil {
			continue
		}
		if err := s.bind(ctx, e.pos, e.name, e.v, false); err != nil {
			e.v.Release()
			for j := i + 1; j < len(old); j++ {
				if old[j].v != nil {
					old[j].v.Release()
				}
			}
			stats.RecordRecovery(err)
			return err
		}
	}

	err = s.execute(ctx, numIters, mode, false)
	stats.RecordRecovery(err)
	return err
}

// asServerError unwraps err to the backend's server error, if any.
func asServerError(err error) *calldb.ServerError {
	var se *calldb.ServerError
	if errors.As(err, &se) {
		return se
	}
	return nil
}
