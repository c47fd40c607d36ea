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

package fakecalldb

import (
	"context"
	"fmt"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/refcount"
)

// wireStore is the backend-side view of a variable: the fetch path writes
// wire elements directly.
type wireStore interface {
	calldb.Variable
	setWire(idx uint32, val any) error
}

// memVariable implements calldb.Variable over two in-memory element arrays,
// one external-facing and one wire-side.
type memVariable struct {
	refs     refcount.Count
	sess     *Session
	typ      calldb.VariableType
	capacity uint32
	actual   uint32
	external []any
	wire     []any
	dynamic  bool
	armed    bool
	// preFetchCount tallies preparation passes for tests.
	preFetchCount int
}

func charsetFormOf(t calldb.DataType) calldb.CharsetForm {
	switch t {
	case calldb.TypeNVarchar, calldb.TypeNChar, calldb.TypeNCLOB:
		return calldb.CharsetNational
	}
	return calldb.CharsetImplicit
}

func newMemVariable(s *Session, opts calldb.VariableOptions) (calldb.Variable, error) {
	info := opts.DataType.Info()
	if info.DefaultNative == calldb.NativeUnknown {
		return nil, fmt.Errorf("data type %v is not supported", opts.DataType)
	}
	if opts.ArraySize == 0 {
		return nil, fmt.Errorf("array size must be positive")
	}
	native := opts.NativeType
	if native == calldb.NativeUnknown {
		native = info.DefaultNative
	}
	sizeInBytes := info.WireSize
	if sizeInBytes == 0 {
		if opts.Size == 0 {
			return nil, fmt.Errorf("size must be positive for type %v", opts.DataType)
		}
		sizeInBytes = opts.Size
		if !opts.SizeIsBytes {
			cs := s.Charset()
			perChar := uint32(cs.MaxBytesPerChar)
			if charsetFormOf(opts.DataType) == calldb.CharsetNational {
				perChar = uint32(cs.MaxBytesPerNChar)
			}
			if perChar == 0 {
				perChar = 1
			}
			sizeInBytes = opts.Size * perChar
		}
	}

	v := &memVariable{
		sess: s,
		typ: calldb.VariableType{
			DataType:    opts.DataType,
			NativeType:  native,
			SizeInBytes: sizeInBytes,
			CharsetForm: charsetFormOf(opts.DataType),
			ObjectType:  opts.ObjectType,
		},
		capacity: opts.ArraySize,
		external: make([]any, opts.ArraySize),
		wire:     make([]any, opts.ArraySize),
		dynamic:  info.Dynamic,
	}
	if opts.ObjectType != nil {
		opts.ObjectType.AddRef()
	}
	v.refs.Init(v.destroy)
	if opts.DataType == calldb.TypeCursor {
		return cursorVariable{v}, nil
	}
	return v, nil
}

func (v *memVariable) destroy() {
	if v.typ.ObjectType != nil {
		v.typ.ObjectType.Release()
	}
}

func (v *memVariable) AddRef()  { v.refs.AddRef() }
func (v *memVariable) Release() { v.refs.Release() }

// Refs reports the current reference count, for lifetime assertions.
func (v *memVariable) Refs() int32 { return v.refs.Refs() }

func (v *memVariable) Type() calldb.VariableType { return v.typ }

func (v *memVariable) Capacity() uint32 { return v.capacity }

func (v *memVariable) ActualCount() uint32 { return v.actual }

func (v *memVariable) SetActualCount(n uint32) { v.actual = n }

func (v *memVariable) Value(idx uint32) (any, error) {
	if idx >= v.capacity {
		return nil, fmt.Errorf("index %d out of range for capacity %d", idx, v.capacity)
	}
	return v.external[idx], nil
}

func (v *memVariable) SetValue(idx uint32, value any) error {
	if idx >= v.capacity {
		return fmt.Errorf("index %d out of range for capacity %d", idx, v.capacity)
	}
	v.external[idx] = value
	return nil
}

func (v *memVariable) CopyToWire(n uint32) error {
	if n > v.capacity {
		return fmt.Errorf("element count %d exceeds capacity %d", n, v.capacity)
	}
	copy(v.wire[:n], v.external[:n])
	return nil
}

func (v *memVariable) CopyFromWire(n uint32) error {
	if n > v.capacity {
		return fmt.Errorf("element count %d exceeds capacity %d", n, v.capacity)
	}
	copy(v.external[:n], v.wire[:n])
	return nil
}

func (v *memVariable) IsDynamic() bool { return v.dynamic }

func (v *memVariable) NeedsPreFetch() bool { return v.armed }

func (v *memVariable) ArmPreFetch() { v.armed = true }

func (v *memVariable) PreFetch(ctx context.Context) error {
	v.armed = false
	v.preFetchCount++
	return nil
}

func (v *memVariable) ConvertToLOB(ctx context.Context) error {
	lobType := calldb.LOBFor(v.typ.DataType)
	v.typ.DataType = lobType
	v.typ.NativeType = calldb.NativeLOB
	v.typ.SizeInBytes = lobType.Info().WireSize
	v.typ.CharsetForm = charsetFormOf(lobType)
	v.dynamic = false
	return nil
}

func (v *memVariable) setWire(idx uint32, val any) error {
	if idx >= v.capacity {
		return fmt.Errorf("index %d out of range for capacity %d", idx, v.capacity)
	}
	v.wire[idx] = val
	return nil
}

// cursorVariable holds statement cursors and reports self-references, so
// the engine can reject binding a statement to itself.
type cursorVariable struct {
	*memVariable
}

func (c cursorVariable) ReferencesCursor(owner any) bool {
	for _, el := range c.external {
		if el == owner {
			return true
		}
	}
	return false
}

// VariableRefs reports the reference count of a variable allocated by this
// backend; -1 when v came from somewhere else.
func VariableRefs(v calldb.Variable) int32 {
	if rc, ok := v.(interface{ Refs() int32 }); ok {
		return rc.Refs()
	}
	return -1
}

// VariablePreFetches reports how many preparation passes a variable has run;
// -1 when v came from somewhere else.
func VariablePreFetches(v calldb.Variable) int {
	type counter interface{ preFetches() int }
	if c, ok := v.(counter); ok {
		return c.preFetches()
	}
	return -1
}

func (v *memVariable) preFetches() int { return v.preFetchCount }

// objectType is a named user-defined type descriptor.
type objectType struct {
	refs refcount.Count
	name string
}

func newObjectType(name string) *objectType {
	t := &objectType{name: name}
	t.refs.Init(nil)
	return t
}

func (t *objectType) AddRef()      { t.refs.AddRef() }
func (t *objectType) Release()     { t.refs.Release() }
func (t *objectType) Name() string { return t.name }
