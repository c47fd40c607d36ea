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
	"strings"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
)

// sqlAPI implements calldb.CallAPI over the prepared-statement argument
// lists of database/sql. Binds are recorded by locator and resolved into
// driver arguments at execution time.
type sqlAPI struct {
	sess *Session
}

func ownHandle(h calldb.StatementHandle) (*stmtHandle, error) {
	sh, ok := h.(*stmtHandle)
	if !ok {
		return nil, fmt.Errorf("statement handle was not prepared by this backend")
	}
	if sh.freed {
		return nil, sh.errClosed()
	}
	return sh, nil
}

func ownVariable(v calldb.Variable) (*sqlVariable, error) {
	sv, ok := v.(*sqlVariable)
	if !ok {
		return nil, fmt.Errorf("variable was not allocated by this backend")
	}
	return sv, nil
}

func (a *sqlAPI) BindByPos(ctx context.Context, h calldb.StatementHandle, pos uint32, v calldb.Variable) (calldb.BindHandle, error) {
	sh, err := ownHandle(h)
	if err != nil {
		return nil, err
	}
	sv, err := ownVariable(v)
	if err != nil {
		return nil, err
	}
	if pos == 0 {
		return nil, fmt.Errorf("bind position must be positive")
	}
	sh.binds[positionalLocator(pos)] = sv
	return bindToken{}, nil
}

func (a *sqlAPI) BindByName(ctx context.Context, h calldb.StatementHandle, name string, v calldb.Variable) (calldb.BindHandle, error) {
	sh, err := ownHandle(h)
	if err != nil {
		return nil, err
	}
	sv, err := ownVariable(v)
	if err != nil {
		return nil, err
	}
	sh.binds[strings.ToUpper(strings.TrimPrefix(name, ":"))] = sv
	return bindToken{}, nil
}

func (a *sqlAPI) DefineByPos(ctx context.Context, h calldb.StatementHandle, pos uint32, v calldb.Variable) (calldb.DefineHandle, error) {
	sh, err := ownHandle(h)
	if err != nil {
		return nil, err
	}
	sv, err := ownVariable(v)
	if err != nil {
		return nil, err
	}
	if pos == 0 || int(pos) > len(sh.cols) {
		return nil, fmt.Errorf("define position %d out of range", pos)
	}
	if len(sh.defines) < len(sh.cols) {
		grown := make([]*sqlVariable, len(sh.cols))
		copy(grown, sh.defines)
		sh.defines = grown
	}
	sh.defines[pos-1] = sv
	return defineToken{}, nil
}

func (a *sqlAPI) RowCount(ctx context.Context, h calldb.StatementHandle) (uint64, error) {
	sh, err := ownHandle(h)
	if err != nil {
		return 0, err
	}
	return sh.affected, nil
}

func (a *sqlAPI) RowCounts(ctx context.Context, h calldb.StatementHandle) ([]uint64, error) {
	return nil, rcerrors.New(rcerrors.NotSupported,
		"per-iteration row counts are not reported by this backend")
}

func (a *sqlAPI) NextResult(ctx context.Context, h calldb.StatementHandle) (calldb.StatementHandle, error) {
	return nil, rcerrors.New(rcerrors.NotSupported,
		"implicit results are not reported by this backend")
}

// bindToken and defineToken absorb attribute calls that have no
// database/sql counterpart. Character set forms and size caps are implied
// by the driver, and there is no piecewise transfer to register.
type bindToken struct{}

func (bindToken) SetCharsetForm(ctx context.Context, form calldb.CharsetForm) error { return nil }
func (bindToken) SetMaxDataSize(ctx context.Context, size uint32) error             { return nil }

func (bindToken) BindObject(ctx context.Context, objType calldb.ObjectType) error {
	return rcerrors.New(rcerrors.NotSupported, "object binds are not supported by this backend")
}

func (bindToken) RegisterDynamic(ctx context.Context, v calldb.Variable) error { return nil }

type defineToken struct{}

func (defineToken) SetCharsetForm(ctx context.Context, form calldb.CharsetForm) error { return nil }

func (defineToken) DefineObject(ctx context.Context, objType calldb.ObjectType) error {
	return rcerrors.New(rcerrors.NotSupported, "object defines are not supported by this backend")
}

func (defineToken) RegisterDynamic(ctx context.Context, v calldb.Variable) error { return nil }
