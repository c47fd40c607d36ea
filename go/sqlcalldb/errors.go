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
	"errors"
	"strconv"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/rowcall/rowcall/go/calldb"
)

// genericServerCode is reported when a driver error carries no usable code.
const genericServerCode = 600

// serverErrorFrom classifies a driver error into a calldb.ServerError.
// Unique-constraint violations from every driver collapse onto
// ServerErrUniqueViolation so the cache eviction rule behaves the same
// across backends.
func serverErrorFrom(err error, action string) *calldb.ServerError {
	se := &calldb.ServerError{
		Code:    genericServerCode,
		Message: err.Error(),
		Action:  action,
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		se.Message = pqErr.Message
		if pqErr.Code == "23505" {
			se.Code = calldb.ServerErrUniqueViolation
		} else if n, convErr := strconv.Atoi(string(pqErr.Code)); convErr == nil {
			se.Code = uint32(n)
		}
		if pos, convErr := strconv.Atoi(pqErr.Position); convErr == nil {
			se.Offset = uint32(pos)
		}
		return se
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		se.Message = sqliteErr.Error()
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			se.Code = calldb.ServerErrUniqueViolation
		default:
			se.Code = uint32(sqliteErr.ExtendedCode)
		}
		return se
	}

	return se
}
