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

import (
	"errors"
	"fmt"
)

// Server error codes the engine gives special treatment to.
const (
	// ServerErrUniqueViolation does not mark the statement for cache
	// eviction on close, unlike every other execution failure.
	ServerErrUniqueViolation = 1
	// ServerErrVarNotInSelectList signals stale cached metadata after a
	// schema change; a fresh top-level execute recovers from it once by
	// re-preparing and re-executing.
	ServerErrVarNotInSelectList = 1007
)

// ServerError is a failure reported by the database server through the call
// layer.
type ServerError struct {
	// Code is the server's numeric error code.
	Code uint32
	// Message is the rendered server message.
	Message string
	// Offset is the parse error offset into the SQL text, when the server
	// reported one.
	Offset uint32
	// FnName is the public entry point that was active when the error was
	// captured, kept for diagnostics.
	FnName string
	// Action is the protocol action that failed.
	Action string
	// IsRecoverable reports whether the server considers the session still
	// usable.
	IsRecoverable bool
}

func (e *ServerError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("server error %d: %s (during %s)", e.Code, e.Message, e.Action)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// ServerCode extracts the server error code from err, unwrapping as needed.
// It returns 0 when err carries no ServerError.
func ServerCode(err error) uint32 {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
