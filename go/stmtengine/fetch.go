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

// preFetch readies the statement for a fetch: describe on first use,
// allocate and define an output variable for every column that lacks one,
// verify capacities against the fetch array size, and run any armed
// per-variable preparation hooks.
func (s *Statement) preFetch(ctx context.Context) error {
	if s.queryColumns == nil {
		if err := s.ensureDescribed(ctx); err != nil {
			return err
		}
	}
	for i := range s.queryColumns {
		if s.queryVars[i] == nil {
			ci := &s.queryColumns[i]
			v, err := s.sess.NewVariable(ctx, calldb.VariableOptions{
				DataType:    ci.DataType,
				NativeType:  ci.NativeType,
				ArraySize:   s.fetchArraySize,
				Size:        ci.ClientSizeInBytes,
				SizeIsBytes: true,
				ObjectType:  ci.ObjectType,
			})
			if err != nil {
				return rcerrors.Wrap(err, rcerrors.NoMemory, "failed to allocate output variable")
			}
			if err := s.define(ctx, uint32(i)+1, v); err != nil {
				v.Release()
				return err
			}
			// The define slot holds its own reference now.
			v.Release()
		}
		v := s.queryVars[i]
		if v.Capacity() < s.fetchArraySize {
			return rcerrors.Errorf(rcerrors.ArraySizeTooSmall,
				"array size of %d is too small for fetch array size %d", v.Capacity(), s.fetchArraySize)
		}
		if v.NeedsPreFetch() {
			if err := v.PreFetch(ctx); err != nil {
				return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to prepare variable for fetch")
			}
		}
	}
	return nil
}

// refill fetches the next window of rows from the server.
func (s *Statement) refill(ctx context.Context) error {
	if err := s.preFetch(ctx); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "stmtengine.fetch", trace.WithAttributes(
		attribute.String("stmt.id", s.id.String()),
	))
	defer span.End()

	if err := s.handle.Fetch(ctx, s.fetchArraySize, calldb.FetchNext, 0); err != nil {
		span.RecordError(err)
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to fetch rows")
	}
	n, err := s.handle.AttrGetUint32(ctx, calldb.AttrRowsFetched)
	if err != nil {
		span.RecordError(err)
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get fetched row count")
	}
	s.bufferRowCount = n
	s.hasRowsToFetch = n == s.fetchArraySize
	s.bufferMinRow = s.rowCount + 1
	s.bufferRowIndex = 0
	span.SetAttributes(attribute.Int64("stmt.rows", int64(n)))
	stats.RecordFetch(n)
	return s.postFetch()
}

// postFetch pulls every buffered row back from wire form into the
// external-facing arrays and re-arms preparation hooks for variable types
// that need one before each fetch.
func (s *Statement) postFetch() error {
	for _, v := range s.queryVars {
		if v == nil {
			continue
		}
		if err := v.CopyFromWire(s.bufferRowCount); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to transfer fetched values")
		}
		if v.Type().DataType.Info().RequiresPreFetch {
			v.ArmPreFetch()
		}
	}
	return nil
}

// Fetch advances to the next row. It reports whether a row was found and,
// when found, the index of the row inside the current buffer window. The
// server is only consulted when the window is exhausted and more rows are
// known to exist.
func (s *Statement) Fetch(ctx context.Context) (found bool, bufferRowIndex uint32, err error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, 0, err
	}
	if s.bufferRowIndex >= s.bufferRowCount {
		if s.hasRowsToFetch {
			if err := s.refill(ctx); err != nil {
				return false, 0, err
			}
		}
		if s.bufferRowIndex >= s.bufferRowCount {
			return false, 0, nil
		}
	}
	bufferRowIndex = s.bufferRowIndex
	s.bufferRowIndex++
	s.rowCount++
	return true, bufferRowIndex, nil
}

// FetchRows returns up to maxRows rows from the buffer window, refilling it
// from the server only when it is empty. It reports the index of the first
// returned row, the number of rows returned, and whether more rows are or
// may be available.
func (s *Statement) FetchRows(ctx context.Context, maxRows uint32) (bufferRowIndex, numRows uint32, moreRows bool, err error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, 0, false, err
	}
	if maxRows == 0 {
		return 0, 0, false, rcerrors.New(rcerrors.InvalidArgument, "at least one row must be requested")
	}
	if s.bufferRowIndex >= s.bufferRowCount {
		if !s.hasRowsToFetch {
			return 0, 0, false, nil
		}
		if err := s.refill(ctx); err != nil {
			return 0, 0, false, err
		}
		if s.bufferRowCount == 0 {
			return 0, 0, false, nil
		}
	}
	bufferRowIndex = s.bufferRowIndex
	numRows = s.bufferRowCount - s.bufferRowIndex
	if numRows > maxRows {
		numRows = maxRows
		moreRows = true
	} else {
		moreRows = s.hasRowsToFetch
	}
	s.bufferRowIndex += numRows
	s.rowCount += uint64(numRows)
	return bufferRowIndex, numRows, moreRows, nil
}

// QueryValue returns the external-facing value of the 1-based column pos for
// the row most recently returned by Fetch.
func (s *Statement) QueryValue(ctx context.Context, pos uint32) (any, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	if s.queryColumns == nil {
		return nil, rcerrors.New(rcerrors.QueryNotExecuted, "query has not been executed")
	}
	if pos == 0 || pos > uint32(len(s.queryColumns)) {
		return nil, rcerrors.Errorf(rcerrors.QueryPositionInvalid, "query position %d is invalid", pos)
	}
	v := s.queryVars[pos-1]
	if v == nil || s.bufferRowIndex == 0 || s.bufferRowIndex > s.bufferRowCount {
		return nil, rcerrors.New(rcerrors.NoRowFetched, "no row has been fetched")
	}
	value, err := v.Value(s.bufferRowIndex - 1)
	if err != nil {
		return nil, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to read column value")
	}
	return value, nil
}

// Define attaches a caller-supplied variable to the 1-based output column
// pos, replacing any variable defined there. Defining the identical variable
// again is a no-op.
func (s *Statement) Define(ctx context.Context, pos uint32, v calldb.Variable) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if s.kind.IsQuery() && s.queryColumns == nil {
		if err := s.ensureDescribed(ctx); err != nil {
			return err
		}
	}
	if pos == 0 || pos > uint32(len(s.queryColumns)) {
		return rcerrors.Errorf(rcerrors.QueryPositionInvalid, "query position %d is invalid", pos)
	}
	if v == nil {
		return rcerrors.New(rcerrors.InvalidArgument, "variable cannot be nil")
	}
	return s.define(ctx, pos, v)
}

// DefineValue allocates a variable of the given type sized to the fetch
// array size and defines it for the 1-based output column pos.
func (s *Statement) DefineValue(ctx context.Context, pos uint32, dataType calldb.DataType, nativeType calldb.NativeType, size uint32, sizeIsBytes bool, objType calldb.ObjectType) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if s.kind.IsQuery() && s.queryColumns == nil {
		if err := s.ensureDescribed(ctx); err != nil {
			return err
		}
	}
	if pos == 0 || pos > uint32(len(s.queryColumns)) {
		return rcerrors.Errorf(rcerrors.QueryPositionInvalid, "query position %d is invalid", pos)
	}
	v, err := s.sess.NewVariable(ctx, calldb.VariableOptions{
		DataType:    dataType,
		NativeType:  nativeType,
		ArraySize:   s.fetchArraySize,
		Size:        size,
		SizeIsBytes: sizeIsBytes,
		ObjectType:  objType,
	})
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.NoMemory, "failed to allocate define variable")
	}
	err = s.define(ctx, pos, v)
	v.Release()
	return err
}

// define performs the protocol define and swaps the stored reference.
func (s *Statement) define(ctx context.Context, pos uint32, v calldb.Variable) error {
	if s.queryVars[pos-1] == v {
		return nil
	}
	dh, err := s.sess.CallAPI().DefineByPos(ctx, s.handle, pos, v)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to define variable")
	}
	vt := v.Type()
	if vt.CharsetForm != calldb.CharsetImplicit {
		if err := dh.SetCharsetForm(ctx, vt.CharsetForm); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to set charset form")
		}
	}
	if vt.ObjectType != nil {
		if err := dh.DefineObject(ctx, vt.ObjectType); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to define object type")
		}
	}
	if v.IsDynamic() {
		if err := dh.RegisterDynamic(ctx, v); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to register dynamic define")
		}
	}
	if old := s.queryVars[pos-1]; old != nil {
		old.Release()
	}
	v.AddRef()
	s.queryVars[pos-1] = v
	return nil
}
