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

// Package rcerrors defines the error taxonomy of the statement engine. Every
// failure surfaced by a public engine operation carries one of these codes;
// server-reported failures additionally wrap a *calldb.ServerError.
package rcerrors

// Code classifies an engine failure.
type Code uint8

const (
	// OK is never attached to an error; CodeOf(nil) returns it.
	OK Code = iota

	// InvalidArgument marks null or zero-length required input, such as a
	// bind locator with neither a position nor a name.
	InvalidArgument

	// NotSupported marks operations unavailable under the negotiated
	// interface version, binding a statement to itself, and queries passed
	// to batch execution.
	NotSupported

	// ArraySizeTooSmall marks a variable or caller buffer too small for
	// the requested operation.
	ArraySizeTooSmall

	// ArraySizeTooBig marks a fetch array size larger than an already
	// defined variable's capacity.
	ArraySizeTooBig

	// InvalidIndex marks an out-of-range batch error index.
	InvalidIndex

	// QueryPositionInvalid marks an out-of-range query column position.
	QueryPositionInvalid

	// NoRowFetched marks a column value requested before any successful
	// fetch.
	NoRowFetched

	// QueryNotExecuted marks query metadata requested before any
	// execution.
	QueryNotExecuted

	// ScrollOutOfResultSet marks a positioned fetch beyond the bounds of
	// the result set.
	ScrollOutOfResultSet

	// CannotGetRowOffset marks a batch error descriptor whose row offset
	// could not be read.
	CannotGetRowOffset

	// NoMemory marks a value-resource allocation failure.
	NoMemory

	// StatementClosed marks use of a closed statement.
	StatementClosed

	// NotConnected marks use of a statement whose session is gone or
	// closing.
	NotConnected

	// ServerFailure marks an opaque failure reported by the server; the
	// wrapped *calldb.ServerError carries code, offset, and message.
	ServerFailure
)

var codeNames = map[Code]string{
	OK:                   "ok",
	InvalidArgument:      "invalid argument",
	NotSupported:         "not supported",
	ArraySizeTooSmall:    "array size too small",
	ArraySizeTooBig:      "array size too big",
	InvalidIndex:         "invalid index",
	QueryPositionInvalid: "query position invalid",
	NoRowFetched:         "no row fetched",
	QueryNotExecuted:     "query not executed",
	ScrollOutOfResultSet: "scroll out of result set",
	CannotGetRowOffset:   "cannot get row offset",
	NoMemory:             "no memory",
	StatementClosed:      "statement closed",
	NotConnected:         "not connected",
	ServerFailure:        "server failure",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unknown"
}
