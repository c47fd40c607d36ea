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

// Package calldb defines the synchronous call-level interface between the
// statement engine and a database backend. Backends implement the Session
// family of interfaces; the engine sequences the calls. The package carries
// no I/O of its own.
package calldb

// DataType identifies the declared server-side type of a column or bind.
type DataType uint8

const (
	TypeUnknown DataType = iota
	TypeVarchar
	TypeNVarchar
	TypeChar
	TypeNChar
	TypeRaw
	TypeNumber
	TypeNativeInt
	TypeNativeFloat
	TypeDate
	TypeTimestamp
	TypeTimestampTZ
	TypeRowID
	TypeLong
	TypeLongRaw
	TypeCLOB
	TypeNCLOB
	TypeBLOB
	TypeCursor
	TypeObject
	TypeBoolean
)

var dataTypeNames = map[DataType]string{
	TypeUnknown:     "UNKNOWN",
	TypeVarchar:     "VARCHAR",
	TypeNVarchar:    "NVARCHAR",
	TypeChar:        "CHAR",
	TypeNChar:       "NCHAR",
	TypeRaw:         "RAW",
	TypeNumber:      "NUMBER",
	TypeNativeInt:   "NATIVE_INT",
	TypeNativeFloat: "NATIVE_FLOAT",
	TypeDate:        "DATE",
	TypeTimestamp:   "TIMESTAMP",
	TypeTimestampTZ: "TIMESTAMP_TZ",
	TypeRowID:       "ROWID",
	TypeLong:        "LONG",
	TypeLongRaw:     "LONG_RAW",
	TypeCLOB:        "CLOB",
	TypeNCLOB:       "NCLOB",
	TypeBLOB:        "BLOB",
	TypeCursor:      "CURSOR",
	TypeObject:      "OBJECT",
	TypeBoolean:     "BOOLEAN",
}

func (t DataType) String() string {
	if s, ok := dataTypeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// NativeType identifies the client-side representation of a value.
type NativeType uint8

const (
	NativeUnknown NativeType = iota
	NativeInt64
	NativeUint64
	NativeFloat64
	NativeBytes
	NativeTime
	NativeDecimal
	NativeBool
	NativeStatement
	NativeObject
	NativeLOB
)

var nativeTypeNames = map[NativeType]string{
	NativeUnknown:   "unknown",
	NativeInt64:     "int64",
	NativeUint64:    "uint64",
	NativeFloat64:   "float64",
	NativeBytes:     "bytes",
	NativeTime:      "time",
	NativeDecimal:   "decimal",
	NativeBool:      "bool",
	NativeStatement: "statement",
	NativeObject:    "object",
	NativeLOB:       "lob",
}

func (t NativeType) String() string {
	if s, ok := nativeTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// MaxInt64Precision is the largest NUMBER precision that still fits an int64
// without loss. Describe defaults such columns to NativeInt64.
const MaxInt64Precision = 18

// RowIDSize is the fixed client size of a ROWID, in characters and bytes.
const RowIDSize = 18

// TypeInfo describes the static properties of a DataType.
type TypeInfo struct {
	// DefaultNative is the native representation used when the caller does
	// not request one explicitly.
	DefaultNative NativeType
	// WireSize is the fixed per-element wire size in bytes; 0 means the
	// size is variable and must be described per column.
	WireSize uint32
	// CharacterData is true for types measured in characters.
	CharacterData bool
	// Dynamic is true for unbounded types that may be promoted to a LOB
	// representation when bound into a PL/SQL scope.
	Dynamic bool
	// RequiresPreFetch is true for types whose variables need an extra
	// preparation pass before each fetch (locators, nested cursors).
	RequiresPreFetch bool
}

var typeInfo = map[DataType]TypeInfo{
	TypeVarchar:     {DefaultNative: NativeBytes, CharacterData: true},
	TypeNVarchar:    {DefaultNative: NativeBytes, CharacterData: true},
	TypeChar:        {DefaultNative: NativeBytes, CharacterData: true},
	TypeNChar:       {DefaultNative: NativeBytes, CharacterData: true},
	TypeRaw:         {DefaultNative: NativeBytes},
	TypeNumber:      {DefaultNative: NativeFloat64, WireSize: 22},
	TypeNativeInt:   {DefaultNative: NativeInt64, WireSize: 8},
	TypeNativeFloat: {DefaultNative: NativeFloat64, WireSize: 8},
	TypeDate:        {DefaultNative: NativeTime, WireSize: 7},
	TypeTimestamp:   {DefaultNative: NativeTime, WireSize: 11},
	TypeTimestampTZ: {DefaultNative: NativeTime, WireSize: 13},
	TypeRowID:       {DefaultNative: NativeBytes, WireSize: RowIDSize, CharacterData: true},
	TypeLong:        {DefaultNative: NativeBytes, CharacterData: true, Dynamic: true},
	TypeLongRaw:     {DefaultNative: NativeBytes, Dynamic: true},
	TypeCLOB:        {DefaultNative: NativeLOB, WireSize: 112, RequiresPreFetch: true},
	TypeNCLOB:       {DefaultNative: NativeLOB, WireSize: 112, RequiresPreFetch: true},
	TypeBLOB:        {DefaultNative: NativeLOB, WireSize: 112, RequiresPreFetch: true},
	TypeCursor:      {DefaultNative: NativeStatement, WireSize: 8, RequiresPreFetch: true},
	TypeObject:      {DefaultNative: NativeObject, WireSize: 8},
	TypeBoolean:     {DefaultNative: NativeBool, WireSize: 4},
}

// Info returns the static properties of t. Unknown types report a zero
// TypeInfo.
func (t DataType) Info() TypeInfo {
	return typeInfo[t]
}

// LOBFor returns the LOB type a dynamic type is promoted to.
func LOBFor(t DataType) DataType {
	switch t {
	case TypeLongRaw:
		return TypeBLOB
	case TypeNVarchar, TypeNChar, TypeNCLOB:
		return TypeNCLOB
	default:
		return TypeCLOB
	}
}

// CharsetForm distinguishes the database character set from the national
// character set. The zero value is the implicit (database) form.
type CharsetForm uint8

const (
	CharsetImplicit CharsetForm = iota
	CharsetNational
)

func (f CharsetForm) String() string {
	if f == CharsetNational {
		return "national"
	}
	return "implicit"
}

// WithCharsetForm folds a charset form into a data type, the way describe
// distinguishes NVARCHAR from VARCHAR on the wire.
func WithCharsetForm(t DataType, form CharsetForm) DataType {
	if form != CharsetNational {
		return t
	}
	switch t {
	case TypeVarchar:
		return TypeNVarchar
	case TypeChar:
		return TypeNChar
	case TypeCLOB:
		return TypeNCLOB
	}
	return t
}

// CharsetInfo carries the negotiated character set environment of a session.
type CharsetInfo struct {
	// ClientID and ServerID are the negotiated character set identifiers.
	// When they differ, fetched character data may expand client-side.
	ClientID uint16
	ServerID uint16
	// MaxBytesPerChar is the client-side expansion factor for the database
	// character set; MaxBytesPerNChar for the national character set.
	MaxBytesPerChar  uint8
	MaxBytesPerNChar uint8
}

// StatementKind is the server-reported classification of a prepared
// statement. It stays KindUnknown until the statement has been described or
// executed.
type StatementKind uint8

const (
	KindUnknown StatementKind = iota
	KindSelect
	KindUpdate
	KindDelete
	KindInsert
	KindCreate
	KindDrop
	KindAlter
	KindBegin
	KindDeclare
	KindCall
	KindMerge
)

var statementKindNames = map[StatementKind]string{
	KindUnknown: "unknown",
	KindSelect:  "select",
	KindUpdate:  "update",
	KindDelete:  "delete",
	KindInsert:  "insert",
	KindCreate:  "create",
	KindDrop:    "drop",
	KindAlter:   "alter",
	KindBegin:   "begin",
	KindDeclare: "declare",
	KindCall:    "call",
	KindMerge:   "merge",
}

func (k StatementKind) String() string {
	if s, ok := statementKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// IsQuery reports whether the statement returns a result set.
func (k StatementKind) IsQuery() bool {
	return k == KindSelect
}

// IsDML reports whether the statement modifies rows.
func (k StatementKind) IsDML() bool {
	switch k {
	case KindInsert, KindUpdate, KindDelete, KindMerge:
		return true
	}
	return false
}

// IsDDL reports whether the statement changes schema objects.
func (k StatementKind) IsDDL() bool {
	switch k {
	case KindCreate, KindDrop, KindAlter:
		return true
	}
	return false
}

// IsPLSQL reports whether the statement is a procedural block or call.
func (k StatementKind) IsPLSQL() bool {
	switch k {
	case KindBegin, KindDeclare, KindCall:
		return true
	}
	return false
}
