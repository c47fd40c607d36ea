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

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
	"github.com/rowcall/rowcall/go/stats"
)

// BatchError is one failed iteration of a batch execution.
type BatchError struct {
	// RowOffset is the 0-based iteration that failed.
	RowOffset uint32
	// Error is the server failure for that iteration.
	Error calldb.ServerError
}

// collectBatchErrors reads the per-iteration failures of the execution just
// completed. Collection is all or nothing: a failure partway through
// discards everything collected so far and surfaces the collection failure
// itself. fnName is recorded on each entry for diagnostics.
func (s *Statement) collectBatchErrors(ctx context.Context, fnName string) error {
	n, err := s.handle.AttrGetUint32(ctx, calldb.AttrNumDMLErrors)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get batch error count")
	}
	s.clearBatchErrors()
	if n == 0 {
		return nil
	}
	collected := make([]BatchError, 0, n)
	for i := uint32(0); i < n; i++ {
		param, err := s.handle.DMLErrorParam(ctx, i)
		if err != nil {
			return rcerrors.Wrap(err, rcerrors.InvalidIndex, "failed to get batch error")
		}
		rowOffset, err := param.RowOffset(ctx)
		if err != nil {
			return rcerrors.Wrap(err, rcerrors.CannotGetRowOffset, "failed to get batch error row offset")
		}
		se := param.ServerError()
		se.FnName = fnName
		collected = append(collected, BatchError{RowOffset: rowOffset, Error: se})
	}
	s.batchErrors = collected
	stats.RecordBatchErrors(len(collected))
	return nil
}

// clearBatchErrors discards errors captured by a previous execution.
func (s *Statement) clearBatchErrors() {
	s.batchErrors = nil
}

// BatchErrorCount reports how many iterations of the last batch execution
// failed.
func (s *Statement) BatchErrorCount(ctx context.Context) (uint32, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	return uint32(len(s.batchErrors)), nil
}

// BatchErrors copies the captured batch errors into buf and reports how many
// there are. buf must hold at least that many entries.
func (s *Statement) BatchErrors(ctx context.Context, buf []BatchError) (uint32, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	if len(buf) < len(s.batchErrors) {
		return 0, rcerrors.Errorf(rcerrors.ArraySizeTooSmall,
			"array size of %d is too small for %d batch errors", len(buf), len(s.batchErrors))
	}
	copy(buf, s.batchErrors)
	return uint32(len(s.batchErrors)), nil
}
