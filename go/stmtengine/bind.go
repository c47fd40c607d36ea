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
	"time"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
)

// bindEntry associates one locator with a variable. Exactly one of pos and
// name is meaningful: pos 0 means name-addressed, an empty name means
// position-addressed.
type bindEntry struct {
	pos  uint32
	name string
	v    calldb.Variable
}

// BindByPos binds a variable to the 1-based bind position pos. The registry
// acquires its own reference; the caller keeps theirs.
func (s *Statement) BindByPos(ctx context.Context, pos uint32, v calldb.Variable) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if v == nil {
		return rcerrors.New(rcerrors.InvalidArgument, "variable cannot be nil")
	}
	return s.bind(ctx, pos, "", v, true)
}

// BindByName binds a variable to a named placeholder. The registry acquires
// its own reference; the caller keeps theirs.
func (s *Statement) BindByName(ctx context.Context, name string, v calldb.Variable) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if v == nil {
		return rcerrors.New(rcerrors.InvalidArgument, "variable cannot be nil")
	}
	return s.bind(ctx, 0, name, v, true)
}

// BindValueByPos allocates a single-element variable for value and binds it
// to the 1-based position pos. The registry's reference is the only one.
func (s *Statement) BindValueByPos(ctx context.Context, pos uint32, value any) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.bindValue(ctx, pos, "", value)
}

// BindValueByName allocates a single-element variable for value and binds it
// to a named placeholder. The registry's reference is the only one.
func (s *Statement) BindValueByName(ctx context.Context, name string, value any) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.bindValue(ctx, 0, name, value)
}

// bind performs the protocol bind and records the association. A locator
// already bound to the same variable is a no-op. retain controls whether the
// registry acquires a fresh reference or takes over the caller's.
func (s *Statement) bind(ctx context.Context, pos uint32, name string, v calldb.Variable, retain bool) error {
	if pos == 0 && len(name) == 0 {
		return rcerrors.New(rcerrors.NotSupported, "binding requires a position or a name")
	}

	idx := -1
	for i := range s.binds {
		if s.binds[i].pos == pos && s.binds[i].name == name {
			idx = i
			break
		}
	}
	if idx >= 0 && s.binds[idx].v == v {
		return nil
	}

	// Unbounded variables bound into a procedural block are limited by the
	// inline output size; a LOB-backed representation is not.
	if v.IsDynamic() && (s.kind == calldb.KindBegin || s.kind == calldb.KindDeclare) {
		if err := v.ConvertToLOB(ctx); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to convert variable to LOB")
		}
	}

	api := s.sess.CallAPI()
	var bh calldb.BindHandle
	var err error
	if pos > 0 {
		bh, err = api.BindByPos(ctx, s.handle, pos, v)
	} else {
		bh, err = api.BindByName(ctx, s.handle, name, v)
	}
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to bind variable")
	}
	if err := s.propagateBindAttrs(ctx, bh, v); err != nil {
		return err
	}

	if idx >= 0 {
		if old := s.binds[idx].v; old != nil {
			old.Release()
		}
		if retain {
			v.AddRef()
		}
		s.binds[idx].v = v
		return nil
	}

	if len(s.binds) == cap(s.binds) {
		grown := make([]bindEntry, len(s.binds), len(s.binds)+bindChunkSize)
		copy(grown, s.binds)
		s.binds = grown
	}
	if retain {
		v.AddRef()
	}
	s.binds = append(s.binds, bindEntry{pos: pos, name: name, v: v})
	return nil
}

// propagateBindAttrs applies the attribute sequence every fresh bind needs:
// charset form, maximum data size for variably sized non-dynamic types,
// object type attachment, and dynamic-transfer registration. RETURNING binds
// start with an actual count of zero; it is populated only if rows return.
func (s *Statement) propagateBindAttrs(ctx context.Context, bh calldb.BindHandle, v calldb.Variable) error {
	vt := v.Type()
	if vt.CharsetForm != calldb.CharsetImplicit {
		if err := bh.SetCharsetForm(ctx, vt.CharsetForm); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to set charset form")
		}
	}
	if vt.DataType.Info().WireSize == 0 && !v.IsDynamic() {
		if err := bh.SetMaxDataSize(ctx, vt.SizeInBytes); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to set max data size")
		}
	}
	if vt.ObjectType != nil {
		if err := bh.BindObject(ctx, vt.ObjectType); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to bind object type")
		}
	}
	if v.IsDynamic() || s.isReturning {
		if err := bh.RegisterDynamic(ctx, v); err != nil {
			return rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to register dynamic bind")
		}
		if s.isReturning {
			v.SetActualCount(0)
		}
	}
	return nil
}

// bindValue allocates a one-element variable sized for value, stores the
// value, and transfers the fresh reference into the registry.
func (s *Statement) bindValue(ctx context.Context, pos uint32, name string, value any) error {
	dataType, size, err := valueBindType(value)
	if err != nil {
		return err
	}
	v, err := s.sess.NewVariable(ctx, calldb.VariableOptions{
		DataType:    dataType,
		ArraySize:   1,
		Size:        size,
		SizeIsBytes: true,
	})
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.NoMemory, "failed to allocate bind variable")
	}
	if err := v.SetValue(0, value); err != nil {
		v.Release()
		return rcerrors.Wrap(err, rcerrors.InvalidArgument, "failed to set bind value")
	}
	if err := s.bind(ctx, pos, name, v, false); err != nil {
		v.Release()
		return err
	}
	return nil
}

// valueBindType picks the declared type and element size for a by-value
// bind. A nil value binds as a SQL NULL string.
func valueBindType(value any) (calldb.DataType, uint32, error) {
	switch v := value.(type) {
	case nil:
		return calldb.TypeVarchar, 1, nil
	case string:
		return calldb.TypeVarchar, uint32(len(v)), nil
	case []byte:
		return calldb.TypeRaw, uint32(len(v)), nil
	case int, int32, int64, uint32:
		return calldb.TypeNativeInt, 0, nil
	case float32, float64:
		return calldb.TypeNativeFloat, 0, nil
	case bool:
		return calldb.TypeBoolean, 0, nil
	case time.Time:
		return calldb.TypeTimestamp, 0, nil
	default:
		return calldb.TypeUnknown, 0, rcerrors.Errorf(rcerrors.InvalidArgument,
			"cannot bind value of type %T", value)
	}
}

// clearBinds releases every registry reference and empties the registry.
func (s *Statement) clearBinds() {
	for i := range s.binds {
		if s.binds[i].v != nil {
			s.binds[i].v.Release()
			s.binds[i].v = nil
		}
	}
	s.binds = nil
}

// BindCount reports the number of bind placeholders the server sees in the
// statement.
func (s *Statement) BindCount(ctx context.Context) (uint32, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	n, err := s.handle.AttrGetUint32(ctx, calldb.AttrBindCount)
	if err != nil {
		return 0, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get bind count")
	}
	return n, nil
}

// BindNames reports the distinct placeholder names of the statement, read in
// batches. More than max distinct names is an ArraySizeTooSmall error,
// mirroring the caller-sized buffer this interface was modeled on.
func (s *Statement) BindNames(ctx context.Context, max uint32) ([]string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	names := make([]string, 0, max)
	startPos := uint32(1)
	for {
		batch, duplicate, err := s.handle.BindInfo(ctx, startPos, bindInfoBatchSize)
		if err != nil {
			return nil, rcerrors.Wrap(err, rcerrors.ServerFailure, "failed to get bind names")
		}
		if len(batch) == 0 {
			break
		}
		for i, name := range batch {
			if duplicate[i] {
				continue
			}
			if uint32(len(names)) == max {
				return nil, rcerrors.Errorf(rcerrors.ArraySizeTooSmall,
					"array size of %d is too small for the bind names", max)
			}
			names = append(names, name)
		}
		if uint32(len(batch)) < bindInfoBatchSize {
			break
		}
		startPos += uint32(len(batch))
	}
	return names, nil
}
