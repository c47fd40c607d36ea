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

package rcerrors

import (
	"errors"
	"fmt"
)

// Error is a code-classified engine error. It participates in errors.Is and
// errors.As chains and preserves any wrapped cause.
type Error struct {
	code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		if e.msg == "" {
			return e.err.Error()
		}
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// ErrorCode returns the classification of the error.
func (e *Error) ErrorCode() Code {
	return e.code
}

// New returns an error classified by code.
func New(code Code, msg string) error {
	return &Error{code: code, msg: msg}
}

// Errorf returns a formatted error classified by code. The format may wrap a
// cause with %w.
func Errorf(code Code, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &Error{code: code, msg: err.Error(), err: errors.Unwrap(err)}
}

// Wrap classifies an existing error without discarding it.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, msg: msg, err: err}
}

// CodeOf extracts the classification from err. nil reports OK; an error with
// no classification anywhere in its chain reports ServerFailure, matching
// how opaque protocol failures surface.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ServerFailure
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if err == nil {
		return code == OK
	}
	return CodeOf(err) == code
}
