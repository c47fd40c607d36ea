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

// ColumnInfo describes one output column of a query. The ObjectType
// reference, when present, is owned by the statement; callers keeping it
// past the statement's lifetime must AddRef it.
type ColumnInfo struct {
	Name       string
	DataType   calldb.DataType
	NativeType calldb.NativeType
	Precision  int16
	Scale      int8
	// SizeInChars is the declared column size in characters, for character
	// data only.
	SizeInChars uint32
	// DBSizeInBytes is the column size on the server; ClientSizeInBytes is
	// the buffer size needed client-side after character set expansion.
	DBSizeInBytes     uint32
	ClientSizeInBytes uint32
	NullOK            bool
	ObjectType        calldb.ObjectType
}

// ensureDescribed populates the column descriptors for the current
// execution. A column count differing from the cached one discards the old
// descriptors and output variables wholesale: the schema may have changed
// under a cached statement. On completion the buffer window is marked fetch
// pending so the next fetch is forced to the server.
func (s *Statement) ensureDescribed(ctx context.Context) error {
	count, err := s.handle.AttrGetUint32(ctx, calldb.AttrParamCount)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get column count")
	}
	if len(s.queryColumns) > 0 && uint32(len(s.queryColumns)) != count {
		s.clearQueryVars()
	}
	if uint32(len(s.queryColumns)) != count {
		cols := make([]ColumnInfo, count)
		for i := range cols {
			ci, err := s.describeColumn(ctx, uint32(i)+1)
			if err != nil {
				for j := range cols[:i] {
					if cols[j].ObjectType != nil {
						cols[j].ObjectType.Release()
					}
				}
				return err
			}
			cols[i] = ci
		}
		s.queryColumns = cols
		s.queryVars = make([]calldb.Variable, count)
	}
	s.bufferRowIndex = s.fetchArraySize
	s.hasRowsToFetch = true
	return nil
}

// describeColumn extracts one column descriptor from the backend.
func (s *Statement) describeColumn(ctx context.Context, pos uint32) (ColumnInfo, error) {
	var ci ColumnInfo

	param, err := s.handle.ParamHandle(ctx, pos)
	if err != nil {
		return ci, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get column parameter")
	}

	rawType, err := param.AttrGetUint32(ctx, calldb.ParamAttrDataType)
	if err != nil {
		return ci, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get column type")
	}
	rawForm, err := param.AttrGetUint32(ctx, calldb.ParamAttrCharsetForm)
	if err != nil {
		return ci, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get charset form")
	}
	form := calldb.CharsetForm(rawForm)
	ci.DataType = calldb.WithCharsetForm(calldb.DataType(rawType), form)

	// Scale and precision are signed; backends transport them in the low
	// bits two's complement.
	rawScale, err := param.AttrGetUint32(ctx, calldb.ParamAttrScale)
	if err != nil {
		return ci, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get scale")
	}
	ci.Scale = int8(rawScale)
	rawPrecision, err := param.AttrGetUint32(ctx, calldb.ParamAttrPrecision)
	if err != nil {
		return ci, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get precision")
	}
	ci.Precision = int16(rawPrecision)

	ci.NativeType = ci.DataType.Info().DefaultNative
	if ci.DataType == calldb.TypeNumber && ci.Scale == 0 &&
		ci.Precision > 0 && ci.Precision <= calldb.MaxInt64Precision {
		ci.NativeType = calldb.NativeInt64
	}

	ci.Name, err = param.AttrGetString(ctx, calldb.ParamAttrName)
	if err != nil {
		return ci, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get column name")
	}

	if err := s.describeColumnSize(ctx, param, form, &ci); err != nil {
		return ci, err
	}

	ci.NullOK, err = param.AttrGetBool(ctx, calldb.ParamAttrIsNull)
	if err != nil {
		return ci, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get nullability")
	}

	if ci.DataType == calldb.TypeObject {
		objType, err := s.sess.ResolveObjectType(ctx, param)
		if err != nil {
			return ci, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to resolve object type")
		}
		ci.ObjectType = objType
	}
	return ci, nil
}

// describeColumnSize fills in the byte and character sizes of a column.
// ROWIDs have a fixed client representation. Variably sized types report a
// server byte size; character data additionally reports a character size,
// expanded client-side when the column is national or the client and server
// character sets differ.
func (s *Statement) describeColumnSize(ctx context.Context, param calldb.ParamHandle, form calldb.CharsetForm, ci *ColumnInfo) error {
	if ci.DataType == calldb.TypeRowID {
		ci.SizeInChars = calldb.RowIDSize
		ci.DBSizeInBytes = calldb.RowIDSize
		ci.ClientSizeInBytes = calldb.RowIDSize
		return nil
	}
	info := ci.DataType.Info()
	if info.WireSize != 0 {
		return nil
	}
	dbSize, err := param.AttrGetUint32(ctx, calldb.ParamAttrDataSize)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get column size")
	}
	ci.DBSizeInBytes = dbSize
	ci.ClientSizeInBytes = dbSize
	if !info.CharacterData {
		return nil
	}
	chars, err := param.AttrGetUint32(ctx, calldb.ParamAttrCharSize)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get character size")
	}
	ci.SizeInChars = chars
	cs := s.sess.Charset()
	if form == calldb.CharsetNational {
		ci.ClientSizeInBytes = chars * uint32(cs.MaxBytesPerNChar)
	} else if cs.ClientID != cs.ServerID {
		ci.ClientSizeInBytes = chars * uint32(cs.MaxBytesPerChar)
	}
	return nil
}

// clearQueryVars releases every output variable and object type reference
// and discards the descriptors.
func (s *Statement) clearQueryVars() {
	for i := range s.queryVars {
		if s.queryVars[i] != nil {
			s.queryVars[i].Release()
			s.queryVars[i] = nil
		}
	}
	for i := range s.queryColumns {
		if s.queryColumns[i].ObjectType != nil {
			s.queryColumns[i].ObjectType.Release()
			s.queryColumns[i].ObjectType = nil
		}
	}
	s.queryVars = nil
	s.queryColumns = nil
}

// NumQueryColumns reports the number of output columns, describing the
// query on first use. Non-queries report zero.
func (s *Statement) NumQueryColumns(ctx context.Context) (uint32, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	if s.kind.IsQuery() && s.queryColumns == nil {
		if err := s.ensureDescribed(ctx); err != nil {
			return 0, err
		}
	}
	return uint32(len(s.queryColumns)), nil
}

// QueryColumnInfo returns the descriptor of the 1-based output column pos.
func (s *Statement) QueryColumnInfo(ctx context.Context, pos uint32) (ColumnInfo, error) {
	if err := s.checkOpen(ctx); err != nil {
		return ColumnInfo{}, err
	}
	if s.kind.IsQuery() && s.queryColumns == nil {
		if err := s.ensureDescribed(ctx); err != nil {
			return ColumnInfo{}, err
		}
	}
	if pos == 0 || pos > uint32(len(s.queryColumns)) {
		return ColumnInfo{}, rcerrors.Errorf(rcerrors.QueryPositionInvalid,
			"query position %d is invalid", pos)
	}
	return s.queryColumns[pos-1], nil
}
