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

// Package sqlcalldb implements calldb.Session on top of database/sql through
// sqlx, so the statement engine can run against any registered driver.
//
// The call interface this backend offers is deliberately partial: forward
// fetching, positional and named binds, batch execution with error
// collection, and post-execution column metadata are supported; scrollable
// fetch modes other than next, per-iteration DML row counts, implicit
// results, RETURNING out-binds and object types are not. Named placeholders
// use the :name form and are rewritten to the driver's bind variables at
// prepare time.
package sqlcalldb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/rcerrors"
	"github.com/rowcall/rowcall/go/refcount"
	"github.com/rowcall/rowcall/go/stmtcache"
)

// utf8CharsetID is reported for both sides of the connection. database/sql
// drivers deliver text as UTF-8, so nothing expands client-side.
const utf8CharsetID = 873

// Options configures a session.
type Options struct {
	// CacheCapacity bounds the idle prepared-statement cache; zero selects
	// the stmtcache default.
	CacheCapacity int
	Logger        *slog.Logger
}

// Session is a database session over an sqlx connection pool. It implements
// calldb.Session; the session owns the pool and closes it when the last
// reference is released.
type Session struct {
	db     *sqlx.DB
	logger *slog.Logger
	refs   refcount.Count
	cache  *stmtcache.Cache
	api    calldb.CallAPI

	mu       sync.Mutex
	closing  bool
	children int
}

// Connect opens a connection pool for the driver and DSN, verifies it with a
// ping, and wraps it in a session. The caller owns one reference.
func Connect(ctx context.Context, driverName, dsn string, opts Options) (*Session, error) {
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, rcerrors.Wrap(err, rcerrors.NotConnected, "failed to connect to the database")
	}
	return NewSession(db, opts), nil
}

// NewSession wraps an existing pool in a session, taking ownership of it.
// The caller owns one reference.
func NewSession(db *sqlx.DB, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		db:     db,
		logger: logger,
		cache:  stmtcache.New(opts.CacheCapacity),
	}
	s.api = &sqlAPI{sess: s}
	s.refs.Init(s.destroy)
	return s
}

// AddRef acquires a shared reference to the session.
func (s *Session) AddRef() {
	s.refs.AddRef()
}

// Release drops a reference; the last release closes the session and the
// pool behind it.
func (s *Session) Release() {
	s.refs.Release()
}

func (s *Session) destroy() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.cache.Drain(func(cs *stmtcache.CachedStatement) {
		cs.Handle.(*stmtHandle).destroy()
	})
	if err := s.db.Close(); err != nil {
		s.logger.Warn("failed to close connection pool", "error", err)
	}
}

// Live reports whether the session can still serve calls.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closing
}

// IncrementOpenChildren records a dependent open statement.
func (s *Session) IncrementOpenChildren() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return fmt.Errorf("session is closing")
	}
	s.children++
	return nil
}

// DecrementOpenChildren releases a dependent open statement.
func (s *Session) DecrementOpenChildren() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children--
}

// APIVersion returns the call-interface generation. database/sql backends
// always negotiate the modern one.
func (s *Session) APIVersion() calldb.APIVersion {
	return calldb.APIModern
}

// Charset returns the character set environment.
func (s *Session) Charset() calldb.CharsetInfo {
	return calldb.CharsetInfo{
		ClientID:         utf8CharsetID,
		ServerID:         utf8CharsetID,
		MaxBytesPerChar:  4,
		MaxBytesPerNChar: 4,
	}
}

// CallAPI returns the call strategy.
func (s *Session) CallAPI() calldb.CallAPI {
	return s.api
}

// PrepareHandle prepares sql against the pool, reusing an idle cached handle
// when one is filed under (sql, tag). Named placeholders are rewritten to
// the driver's bind variables before the driver sees the text.
func (s *Session) PrepareHandle(ctx context.Context, sql, tag string) (calldb.StatementHandle, error) {
	if !s.Live() {
		return nil, fmt.Errorf("session is closing")
	}
	if cs, ok := s.cache.Get(sql, tag); ok {
		h := cs.Handle.(*stmtHandle)
		h.cached = cs
		h.resetRuntime()
		return h, nil
	}

	rewritten, names := rewritePlaceholders(sql)
	stmt, err := s.db.PreparexContext(ctx, s.db.Rebind(rewritten))
	if err != nil {
		return nil, serverErrorFrom(err, "prepare")
	}
	h := &stmtHandle{
		sess:  s,
		stmt:  stmt,
		sql:   sql,
		name:  s.cache.NextName(),
		kind:  parseStatementKind(sql),
		names: names,
		binds: map[string]*sqlVariable{},
	}
	h.cached = &stmtcache.CachedStatement{
		Name:   h.name,
		SQL:    sql,
		Tag:    tag,
		Handle: h,
	}
	return h, nil
}

// ReleaseHandle returns h to the statement cache, or destroys it when evict
// is set. Eviction also discards any idle sibling prepared from the same
// text.
func (s *Session) ReleaseHandle(ctx context.Context, h calldb.StatementHandle, tag string, evict bool) error {
	sh, ok := h.(*stmtHandle)
	if !ok {
		return fmt.Errorf("statement handle was not prepared by this backend")
	}
	if evict {
		sh.destroy()
		if dropped, ok := s.cache.Drop(sh.sql, tag); ok {
			dropped.Handle.(*stmtHandle).destroy()
		}
		return nil
	}
	sh.resetRuntime()
	sh.cached.Tag = tag
	if displaced := s.cache.Put(sh.cached); displaced != nil {
		displaced.Handle.(*stmtHandle).destroy()
	}
	return nil
}

// FreeHandle destroys a handle directly, bypassing the statement cache.
func (s *Session) FreeHandle(h calldb.StatementHandle) {
	if sh, ok := h.(*stmtHandle); ok {
		sh.destroy()
	}
}

// NewVariable allocates an in-memory variable.
func (s *Session) NewVariable(ctx context.Context, opts calldb.VariableOptions) (calldb.Variable, error) {
	return newSQLVariable(opts)
}

// ResolveObjectType always fails; database/sql has no user-defined type
// metadata.
func (s *Session) ResolveObjectType(ctx context.Context, param calldb.ParamHandle) (calldb.ObjectType, error) {
	return nil, rcerrors.New(rcerrors.NotSupported, "object types are not supported by this backend")
}

// CacheStats reports the session's statement cache statistics.
func (s *Session) CacheStats() stmtcache.Stats {
	return s.cache.Stats()
}
