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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
	"github.com/rowcall/rowcall/go/stats"
)

// Scroll repositions a scrollable cursor. offset is the target row for
// absolute mode and the distance for relative mode; rowCountOffset adjusts
// the engine's notion of the current row before the target is computed. When
// the target row already lies inside the buffer window the cursor is
// repositioned without a server call; fetching the last row always goes to
// the server. Zero rows coming back is an empty result set for first and
// last, and ScrollOutOfResultSet for every other mode.
func (s *Statement) Scroll(ctx context.Context, mode calldb.FetchMode, offset, rowCountOffset int32) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}

	var desiredRow uint64
	switch mode {
	case calldb.FetchNext:
		desiredRow = uint64(int64(s.rowCount) + int64(rowCountOffset) + 1)
	case calldb.FetchPrior:
		desiredRow = uint64(int64(s.rowCount) + int64(rowCountOffset) - 1)
	case calldb.FetchFirst:
		desiredRow = 1
	case calldb.FetchLast:
	case calldb.FetchAbsolute:
		desiredRow = uint64(offset)
	case calldb.FetchRelative:
		desiredRow = uint64(int64(s.rowCount) + int64(rowCountOffset) + int64(offset))
		// The protocol offset is relative to the last row of the current
		// window, not to the engine's current row.
		offset = int32(int64(desiredRow) - (int64(s.bufferMinRow) + int64(s.bufferRowCount) - 1))
	default:
		return rcerrors.Errorf(rcerrors.NotSupported, "fetch mode %d is not supported", mode)
	}

	if mode != calldb.FetchLast && desiredRow >= s.bufferMinRow &&
		desiredRow < s.bufferMinRow+uint64(s.bufferRowCount) {
		s.bufferRowIndex = uint32(desiredRow - s.bufferMinRow)
		s.rowCount = desiredRow - 1
		stats.RecordScroll(true)
		return nil
	}

	if err := s.preFetch(ctx); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "stmtengine.Scroll", trace.WithAttributes(
		attribute.String("stmt.id", s.id.String()),
		attribute.String("stmt.fetch_mode", mode.String()),
	))
	defer span.End()
	stats.RecordScroll(false)

	numRows := s.fetchArraySize
	if mode == calldb.FetchLast {
		numRows = 1
	}
	if err := s.handle.Fetch(ctx, numRows, mode, offset); err != nil {
		span.RecordError(err)
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to fetch rows")
	}
	fetched, err := s.handle.AttrGetUint32(ctx, calldb.AttrRowsFetched)
	if err != nil {
		span.RecordError(err)
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get fetched row count")
	}
	s.bufferRowCount = fetched
	s.hasRowsToFetch = fetched == numRows

	if fetched == 0 {
		if mode != calldb.FetchFirst && mode != calldb.FetchLast {
			return rcerrors.New(rcerrors.ScrollOutOfResultSet, "scroll operation would go out of the result set")
		}
		s.hasRowsToFetch = false
		s.rowCount = 0
		s.bufferRowIndex = 0
		s.bufferMinRow = 0
		return nil
	}

	currentPosition, err := s.handle.AttrGetUint32(ctx, calldb.AttrCurrentPosition)
	if err != nil {
		span.RecordError(err)
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get cursor position")
	}
	s.rowCount = uint64(currentPosition) - uint64(s.bufferRowCount)
	s.bufferMinRow = s.rowCount + 1
	s.bufferRowIndex = 0
	span.SetAttributes(attribute.Int64("stmt.rows", int64(fetched)))
	stats.RecordFetch(fetched)
	return s.postFetch()
}
