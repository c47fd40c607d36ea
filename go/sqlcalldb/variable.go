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

package sqlcalldb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
	"github.com/rowcall/rowcall/go/refcount"
)

// sqlVariable is an array of value slots with an external form the engine
// reads and writes and a wire form handed to the driver. Fetched driver
// values are normalized to the slot's native type on the way in.
type sqlVariable struct {
	refs     refcount.Count
	typ      calldb.VariableType
	capacity uint32
	actual   uint32
	external []any
	wire     []any
}

func newSQLVariable(opts calldb.VariableOptions) (calldb.Variable, error) {
	info := opts.DataType.Info()
	if info.DefaultNative == calldb.NativeUnknown {
		return nil, fmt.Errorf("data type %v is not supported", opts.DataType)
	}
	switch info.DefaultNative {
	case calldb.NativeLOB, calldb.NativeObject, calldb.NativeStatement:
		return nil, rcerrors.Errorf(rcerrors.NotSupported,
			"%v variables are not supported by this backend", opts.DataType)
	}
	if opts.ArraySize == 0 {
		return nil, fmt.Errorf("array size must be positive")
	}
	native := opts.NativeType
	if native == calldb.NativeUnknown {
		native = info.DefaultNative
	}
	// Character data is UTF-8 on both sides; a zero size means the width
	// is unbounded, which database/sql handles natively.
	sizeInBytes := info.WireSize
	if sizeInBytes == 0 && opts.Size != 0 {
		sizeInBytes = opts.Size
		if !opts.SizeIsBytes {
			sizeInBytes = opts.Size * 4
		}
	}

	v := &sqlVariable{
		typ: calldb.VariableType{
			DataType:    opts.DataType,
			NativeType:  native,
			SizeInBytes: sizeInBytes,
			CharsetForm: calldb.CharsetImplicit,
		},
		capacity: opts.ArraySize,
		external: make([]any, opts.ArraySize),
		wire:     make([]any, opts.ArraySize),
	}
	v.refs.Init(nil)
	return v, nil
}

func (v *sqlVariable) AddRef()  { v.refs.AddRef() }
func (v *sqlVariable) Release() { v.refs.Release() }

func (v *sqlVariable) Type() calldb.VariableType { return v.typ }
func (v *sqlVariable) Capacity() uint32          { return v.capacity }
func (v *sqlVariable) ActualCount() uint32       { return v.actual }
func (v *sqlVariable) SetActualCount(n uint32)   { v.actual = n }

func (v *sqlVariable) Value(idx uint32) (any, error) {
	if idx >= v.capacity {
		return nil, fmt.Errorf("index %d out of range for capacity %d", idx, v.capacity)
	}
	return v.external[idx], nil
}

func (v *sqlVariable) SetValue(idx uint32, value any) error {
	if idx >= v.capacity {
		return fmt.Errorf("index %d out of range for capacity %d", idx, v.capacity)
	}
	v.external[idx] = value
	return nil
}

func (v *sqlVariable) CopyToWire(n uint32) error {
	if n > v.capacity {
		return fmt.Errorf("element count %d exceeds capacity %d", n, v.capacity)
	}
	copy(v.wire[:n], v.external[:n])
	return nil
}

func (v *sqlVariable) CopyFromWire(n uint32) error {
	if n > v.capacity {
		return fmt.Errorf("element count %d exceeds capacity %d", n, v.capacity)
	}
	copy(v.external[:n], v.wire[:n])
	return nil
}

// wireValue reads one wire slot for the driver argument list.
func (v *sqlVariable) wireValue(idx uint32) (any, error) {
	if idx >= v.capacity {
		return nil, fmt.Errorf("index %d out of range for capacity %d", idx, v.capacity)
	}
	return v.wire[idx], nil
}

// setWire stores one fetched driver value, normalized to the slot's native
// type.
func (v *sqlVariable) setWire(idx uint32, value any) error {
	if idx >= v.capacity {
		return fmt.Errorf("index %d out of range for capacity %d", idx, v.capacity)
	}
	nv, err := normalizeValue(v.typ, value)
	if err != nil {
		return err
	}
	v.wire[idx] = nv
	return nil
}

func (v *sqlVariable) IsDynamic() bool     { return false }
func (v *sqlVariable) NeedsPreFetch() bool { return false }
func (v *sqlVariable) ArmPreFetch()        {}

func (v *sqlVariable) PreFetch(ctx context.Context) error { return nil }

func (v *sqlVariable) ConvertToLOB(ctx context.Context) error {
	return rcerrors.New(rcerrors.NotSupported, "LOB variables are not supported by this backend")
}

// timeLayouts covers the textual timestamp renderings of the supported
// drivers, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// normalizeValue coerces a value produced by a driver into the declared
// native representation. Drivers disagree about numerics in particular:
// sqlite delivers whole REALs as int64 and lib/pq delivers NUMERIC as text.
func normalizeValue(t calldb.VariableType, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch t.NativeType {
	case calldb.NativeInt64:
		switch x := value.(type) {
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		case []byte:
			return strconv.ParseInt(string(x), 10, 64)
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case calldb.NativeFloat64:
		switch x := value.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case []byte:
			return strconv.ParseFloat(string(x), 64)
		case string:
			return strconv.ParseFloat(x, 64)
		}
	case calldb.NativeBool:
		switch x := value.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case []byte:
			return strconv.ParseBool(string(x))
		case string:
			return strconv.ParseBool(x)
		}
	case calldb.NativeTime:
		switch x := value.(type) {
		case time.Time:
			return x, nil
		case []byte:
			return parseTime(string(x))
		case string:
			return parseTime(x)
		}
	case calldb.NativeBytes:
		switch x := value.(type) {
		case []byte:
			if t.DataType.Info().CharacterData {
				return string(x), nil
			}
			return x, nil
		case string:
			if t.DataType.Info().CharacterData {
				return x, nil
			}
			return []byte(x), nil
		default:
			// Expression columns carry whatever the driver computed.
			return x, nil
		}
	default:
		return value, nil
	}
	return nil, fmt.Errorf("cannot store a %T into a %v variable", value, t.DataType)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", s)
}
