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

package calldb

import "context"

// Session is an established, validated database session. The connection
// manager behind it owns transport, authentication, and timeout policy; the
// engine only sequences calls against it. Sessions are shared resources:
// every AddRef must be paired with exactly one Release.
type Session interface {
	// AddRef acquires a shared reference to the session.
	AddRef()
	// Release drops a reference; the last release closes the session.
	Release()

	// Live reports whether the session can still serve calls. It turns
	// false once the session starts closing.
	Live() bool

	// IncrementOpenChildren records a dependent open resource (a prepared
	// statement). It fails when the session is already closing.
	IncrementOpenChildren() error
	// DecrementOpenChildren releases a dependent open resource.
	DecrementOpenChildren()

	// APIVersion returns the call-interface generation negotiated at
	// connect time.
	APIVersion() APIVersion
	// Charset returns the negotiated character set environment.
	Charset() CharsetInfo
	// CallAPI returns the version-selected call strategy. The choice is
	// made once per session, never per call.
	CallAPI() CallAPI

	// PrepareHandle prepares sql into a server-side statement handle. A
	// non-empty tag asks the backend's statement cache to file the handle
	// under that tag.
	PrepareHandle(ctx context.Context, sql, tag string) (StatementHandle, error)
	// ReleaseHandle returns a handle to the backend's statement cache.
	// evict forces the cached entry to be discarded instead of reused.
	ReleaseHandle(ctx context.Context, h StatementHandle, tag string, evict bool) error
	// FreeHandle destroys a handle the statement owns directly, bypassing
	// any statement cache. Used for handles adopted from implicit results.
	FreeHandle(h StatementHandle)

	// NewVariable allocates a value resource from the session's variable
	// subsystem.
	NewVariable(ctx context.Context, opts VariableOptions) (Variable, error)
	// ResolveObjectType resolves the user-defined type referenced by a
	// column parameter descriptor.
	ResolveObjectType(ctx context.Context, param ParamHandle) (ObjectType, error)
}

// CallAPI is the version-tagged call strategy over the {legacy, modern}
// interface generations. Both variants accomplish the same operations where
// supported; the legacy variant reports row counts truncated to 32 bits and
// answers NotSupported for per-iteration row counts and implicit results.
type CallAPI interface {
	BindByPos(ctx context.Context, h StatementHandle, pos uint32, v Variable) (BindHandle, error)
	BindByName(ctx context.Context, h StatementHandle, name string, v Variable) (BindHandle, error)
	DefineByPos(ctx context.Context, h StatementHandle, pos uint32, v Variable) (DefineHandle, error)

	RowCount(ctx context.Context, h StatementHandle) (uint64, error)
	RowCounts(ctx context.Context, h StatementHandle) ([]uint64, error)
	// NextResult returns the next implicit result's handle, or nil when
	// the execution produced no further results.
	NextResult(ctx context.Context, h StatementHandle) (StatementHandle, error)
}

// StatementHandle is a server-side prepared statement. All calls block for
// the duration of the round trip; the backend decides how the supplied
// context is honored.
type StatementHandle interface {
	// Execute runs the statement for iters iterations.
	Execute(ctx context.Context, iters uint32, mode ExecMode) error
	// Fetch materializes up to numRows rows into the defined variables,
	// positioned by mode and offset.
	Fetch(ctx context.Context, numRows uint32, mode FetchMode, offset int32) error

	AttrGetUint32(ctx context.Context, attr Attr) (uint32, error)
	AttrGetUint64(ctx context.Context, attr Attr) (uint64, error)
	AttrGetString(ctx context.Context, attr Attr) (string, error)
	AttrSetUint32(ctx context.Context, attr Attr, value uint32) error

	// ParamHandle returns the descriptor for the 1-based output column pos.
	ParamHandle(ctx context.Context, pos uint32) (ParamHandle, error)

	// BindInfo reports up to max bind placeholder names starting at the
	// 1-based bind position startPos, along with a flag per name marking
	// repeated occurrences of an earlier placeholder. An empty result
	// means the scan is complete.
	BindInfo(ctx context.Context, startPos, max uint32) (names []string, duplicate []bool, err error)

	// DMLErrorParam returns the descriptor for one batch execution error.
	DMLErrorParam(ctx context.Context, index uint32) (ErrorParam, error)
}

// BindHandle is the backend's token for one completed bind call. The engine
// propagates bind-level attributes through it immediately after binding.
type BindHandle interface {
	SetCharsetForm(ctx context.Context, form CharsetForm) error
	SetMaxDataSize(ctx context.Context, size uint32) error
	BindObject(ctx context.Context, objType ObjectType) error
	// RegisterDynamic arms the piecewise transfer callbacks used by
	// dynamic and RETURNING binds.
	RegisterDynamic(ctx context.Context, v Variable) error
}

// DefineHandle is the backend's token for one completed define call.
type DefineHandle interface {
	SetCharsetForm(ctx context.Context, form CharsetForm) error
	DefineObject(ctx context.Context, objType ObjectType) error
	RegisterDynamic(ctx context.Context, v Variable) error
}

// ParamHandle is a column parameter descriptor.
type ParamHandle interface {
	AttrGetUint32(ctx context.Context, attr ParamAttr) (uint32, error)
	AttrGetString(ctx context.Context, attr ParamAttr) (string, error)
	AttrGetBool(ctx context.Context, attr ParamAttr) (bool, error)
}

// ErrorParam is the descriptor for a single failed iteration of a batch
// execution.
type ErrorParam interface {
	// RowOffset is the 0-based iteration the failure belongs to.
	RowOffset(ctx context.Context) (uint32, error)
	// ServerError renders the failure itself.
	ServerError() ServerError
}

// VariableType describes a variable's declared and native types.
type VariableType struct {
	DataType   DataType
	NativeType NativeType
	// SizeInBytes is the declared per-element wire size; 0 when the size
	// is variable.
	SizeInBytes uint32
	CharsetForm CharsetForm
	// ObjectType is set only for object-typed variables.
	ObjectType ObjectType
}

// VariableOptions requests a variable allocation from the value subsystem.
type VariableOptions struct {
	DataType   DataType
	NativeType NativeType // zero value selects the type default
	ArraySize  uint32
	// Size is the declared element size, in bytes when SizeIsBytes is set
	// and in characters otherwise.
	Size        uint32
	SizeIsBytes bool
	ObjectType  ObjectType
}

// Variable is an opaque, reference-counted value resource owned by the value
// subsystem: an array of per-row slots with an external-facing form the
// caller reads and writes, and an internal wire-ready form the backend
// transfers.
type Variable interface {
	AddRef()
	Release()

	Type() VariableType
	// Capacity is the number of array elements the variable can hold.
	Capacity() uint32
	// ActualCount is the number of elements currently meaningful, used by
	// RETURNING binds to report how many rows actually returned.
	ActualCount() uint32
	SetActualCount(n uint32)

	// Value returns the external-facing value of element idx; nil means
	// SQL NULL.
	Value(idx uint32) (any, error)
	// SetValue stores an external-facing value into element idx.
	SetValue(idx uint32, value any) error

	// CopyToWire transfers the first n external elements into wire form.
	CopyToWire(n uint32) error
	// CopyFromWire transfers the first n wire elements back into external
	// form.
	CopyFromWire(n uint32) error

	// IsDynamic reports whether the variable transfers piecewise.
	IsDynamic() bool

	// NeedsPreFetch reports whether a preparation pass is armed for the
	// next fetch; ArmPreFetch arms it and PreFetch runs it.
	NeedsPreFetch() bool
	ArmPreFetch()
	PreFetch(ctx context.Context) error

	// ConvertToLOB rewrites the variable to a LOB-backed representation.
	// Applied before binding dynamic variables into PL/SQL scopes, where
	// inline output size limits differ.
	ConvertToLOB(ctx context.Context) error
}

// CursorCarrier is implemented by variables able to hold statement cursors.
// The engine uses it to reject binding a statement to itself.
type CursorCarrier interface {
	// ReferencesCursor reports whether any element currently refers to
	// owner.
	ReferencesCursor(owner any) bool
}

// ObjectType is an opaque, reference-counted user-defined type descriptor
// resolved by the object-type metadata subsystem.
type ObjectType interface {
	AddRef()
	Release()
	Name() string
}
