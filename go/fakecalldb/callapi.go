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
	"strings"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
)

// modernAPI is the full-featured call strategy.
type modernAPI struct {
	s *Session
}

// legacyAPI truncates row counts to 32 bits and has no per-iteration row
// counts and no implicit results.
type legacyAPI struct {
	modernAPI
}

func (a *modernAPI) handle(h calldb.StatementHandle) (*stmtHandle, error) {
	sh, ok := h.(*stmtHandle)
	if !ok {
		return nil, fmt.Errorf("statement handle was not prepared by this backend")
	}
	if sh.freed {
		return nil, sh.errClosed()
	}
	return sh, nil
}

func wireVariable(v calldb.Variable) (wireStore, error) {
	ws, ok := v.(wireStore)
	if !ok {
		return nil, fmt.Errorf("variable was not allocated by this backend")
	}
	return ws, nil
}

// storeBind files v under a distinct locator. Rebinding a locator replaces
// its entry without growing the count.
func (h *stmtHandle) storeBind(locator string, v calldb.Variable) {
	if h.bindLocators == nil {
		h.bindLocators = make(map[string]calldb.Variable)
	}
	h.bindLocators[locator] = v
}

func (a *modernAPI) BindByPos(ctx context.Context, h calldb.StatementHandle, pos uint32, v calldb.Variable) (calldb.BindHandle, error) {
	sh, err := a.handle(h)
	if err != nil {
		return nil, err
	}
	if pos < 1 {
		return nil, fmt.Errorf("bind position %d is invalid", pos)
	}
	ws, err := wireVariable(v)
	if err != nil {
		return nil, err
	}
	sh.storeBind(fmt.Sprintf("#%d", pos), ws)
	return &bindToken{h: sh, v: ws}, nil
}

func (a *modernAPI) BindByName(ctx context.Context, h calldb.StatementHandle, name string, v calldb.Variable) (calldb.BindHandle, error) {
	sh, err := a.handle(h)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("bind name must not be empty")
	}
	ws, err := wireVariable(v)
	if err != nil {
		return nil, err
	}
	sh.storeBind(strings.ToUpper(strings.TrimPrefix(name, ":")), ws)
	return &bindToken{h: sh, v: ws}, nil
}

func (a *modernAPI) DefineByPos(ctx context.Context, h calldb.StatementHandle, pos uint32, v calldb.Variable) (calldb.DefineHandle, error) {
	sh, err := a.handle(h)
	if err != nil {
		return nil, err
	}
	if pos < 1 {
		return nil, fmt.Errorf("define position %d is invalid", pos)
	}
	ws, err := wireVariable(v)
	if err != nil {
		return nil, err
	}
	for uint32(len(sh.defines)) < pos {
		sh.defines = append(sh.defines, nil)
	}
	sh.defines[pos-1] = ws
	return &defineToken{h: sh, v: ws}, nil
}

func (a *modernAPI) RowCount(ctx context.Context, h calldb.StatementHandle) (uint64, error) {
	sh, err := a.handle(h)
	if err != nil {
		return 0, err
	}
	return sh.affected, nil
}

func (a *modernAPI) RowCounts(ctx context.Context, h calldb.StatementHandle) ([]uint64, error) {
	sh, err := a.handle(h)
	if err != nil {
		return nil, err
	}
	if sh.rowCounts == nil {
		return nil, fmt.Errorf("failed to get row counts: array DML row counts mode was not set")
	}
	counts := make([]uint64, len(sh.rowCounts))
	copy(counts, sh.rowCounts)
	return counts, nil
}

func (a *modernAPI) NextResult(ctx context.Context, h calldb.StatementHandle) (calldb.StatementHandle, error) {
	sh, err := a.handle(h)
	if err != nil {
		return nil, err
	}
	if len(sh.implicit) == 0 {
		return nil, nil
	}
	child := sh.implicit[0]
	sh.implicit = sh.implicit[1:]
	return child, nil
}

func (a *legacyAPI) RowCount(ctx context.Context, h calldb.StatementHandle) (uint64, error) {
	n, err := a.modernAPI.RowCount(ctx, h)
	if err != nil {
		return 0, err
	}
	return uint64(uint32(n)), nil
}

func (a *legacyAPI) RowCounts(ctx context.Context, h calldb.StatementHandle) ([]uint64, error) {
	return nil, rcerrors.New(rcerrors.NotSupported,
		"per-iteration row counts require the modern call interface")
}

func (a *legacyAPI) NextResult(ctx context.Context, h calldb.StatementHandle) (calldb.StatementHandle, error) {
	return nil, rcerrors.New(rcerrors.NotSupported,
		"implicit results require the modern call interface")
}

// bindToken is the backend token for one completed bind call.
type bindToken struct {
	h *stmtHandle
	v wireStore
}

func (b *bindToken) SetCharsetForm(ctx context.Context, form calldb.CharsetForm) error {
	if b.h.freed {
		return b.h.errClosed()
	}
	return nil
}

func (b *bindToken) SetMaxDataSize(ctx context.Context, size uint32) error {
	if b.h.freed {
		return b.h.errClosed()
	}
	return nil
}

func (b *bindToken) BindObject(ctx context.Context, objType calldb.ObjectType) error {
	if b.h.freed {
		return b.h.errClosed()
	}
	if objType == nil {
		return fmt.Errorf("object type must not be nil")
	}
	return nil
}

func (b *bindToken) RegisterDynamic(ctx context.Context, v calldb.Variable) error {
	if b.h.freed {
		return b.h.errClosed()
	}
	b.h.dynamicBinds = append(b.h.dynamicBinds, v)
	return nil
}

// defineToken is the backend token for one completed define call.
type defineToken struct {
	h *stmtHandle
	v wireStore
}

func (d *defineToken) SetCharsetForm(ctx context.Context, form calldb.CharsetForm) error {
	if d.h.freed {
		return d.h.errClosed()
	}
	return nil
}

func (d *defineToken) DefineObject(ctx context.Context, objType calldb.ObjectType) error {
	if d.h.freed {
		return d.h.errClosed()
	}
	if objType == nil {
		return fmt.Errorf("object type must not be nil")
	}
	return nil
}

func (d *defineToken) RegisterDynamic(ctx context.Context, v calldb.Variable) error {
	if d.h.freed {
		return d.h.errClosed()
	}
	return nil
}
