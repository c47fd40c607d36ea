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
)

// StatementInfo is the classification of a prepared statement.
type StatementInfo struct {
	Kind        calldb.StatementKind
	IsQuery     bool
	IsPLSQL     bool
	IsDDL       bool
	IsDML       bool
	IsReturning bool
}

// Info reports the statement's classification, determining it on first use.
func (s *Statement) Info(ctx context.Context) (StatementInfo, error) {
	if err := s.checkOpen(ctx); err != nil {
		return StatementInfo{}, err
	}
	return StatementInfo{
		Kind:        s.kind,
		IsQuery:     s.kind.IsQuery(),
		IsPLSQL:     s.kind.IsPLSQL(),
		IsDDL:       s.kind.IsDDL(),
		IsDML:       s.kind.IsDML(),
		IsReturning: s.isReturning,
	}, nil
}

// RowCount reports the number of rows affected by the last execution, or,
// for queries, the number of rows fetched so far.
func (s *Statement) RowCount(ctx context.Context) (uint64, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	if s.kind.IsQuery() {
		return s.rowCount, nil
	}
	n, err := s.sess.CallAPI().RowCount(ctx, s.handle)
	if err != nil {
		return 0, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get row count")
	}
	return n, nil
}

// RowCounts reports the rows affected by each iteration of the last batch
// execution. It requires the modern call interface and an execution run with
// the row count array mode.
func (s *Statement) RowCounts(ctx context.Context) ([]uint64, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	counts, err := s.sess.CallAPI().RowCounts(ctx, s.handle)
	if err != nil {
		if rcerrors.Is(err, rcerrors.NotSupported) {
			return nil, err
		}
		return nil, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get row counts")
	}
	return counts, nil
}

// ImplicitResult returns the next chained result set of the last execution
// as a fresh statement, or nil when none remain. The returned statement owns
// its handle directly and is described and ready to fetch. Requires the
// modern call interface.
func (s *Statement) ImplicitResult(ctx context.Context) (*Statement, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	h, err := s.sess.CallAPI().NextResult(ctx, s.handle)
	if err != nil {
		if rcerrors.Is(err, rcerrors.NotSupported) {
			return nil, err
		}
		return nil, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get implicit result")
	}
	if h == nil {
		return nil, nil
	}
	child, err := adopt(s.sess, h, s.logger)
	if err != nil {
		return nil, err
	}
	if err := child.checkOpen(ctx); err != nil {
		child.Release()
		return nil, err
	}
	if child.kind.IsQuery() {
		if err := child.ensureDescribed(ctx); err != nil {
			child.Release()
			return nil, err
		}
	}
	return child, nil
}

// SubscriptionQueryID reports the change-notification query id of the last
// execution.
func (s *Statement) SubscriptionQueryID(ctx context.Context) (uint64, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	id, err := s.handle.AttrGetUint64(ctx, calldb.AttrSubscriptionQueryID)
	if err != nil {
		return 0, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get subscription query id")
	}
	return id, nil
}
