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
	"sync"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/refcount"
	"github.com/rowcall/rowcall/go/stmtcache"
)

// Session is a fake database session. It implements calldb.Session with a
// per-session idle statement cache, so tagged prepare/release traffic and
// evictions are observable from tests.
type Session struct {
	db      *DB
	refs    refcount.Count
	version calldb.APIVersion
	api     calldb.CallAPI
	cache   *stmtcache.Cache

	mu       sync.Mutex
	closing  bool
	children int
}

// NewSession opens a session negotiated at the given call-interface
// generation. The caller owns one reference.
func (db *DB) NewSession(version calldb.APIVersion) *Session {
	s := &Session{
		db:      db,
		version: version,
		cache:   stmtcache.New(0),
	}
	if version == calldb.APIModern {
		s.api = &modernAPI{s: s}
	} else {
		s.api = &legacyAPI{modernAPI{s: s}}
	}
	s.refs.Init(s.destroy)

	db.mu.Lock()
	db.sessions = append(db.sessions, s)
	db.mu.Unlock()
	return s
}

// AddRef acquires a shared reference to the session.
func (s *Session) AddRef() {
	s.refs.AddRef()
}

// Release drops a reference; the last release closes the session.
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

// APIVersion returns the negotiated call-interface generation.
func (s *Session) APIVersion() calldb.APIVersion {
	return s.version
}

// Charset returns the character set environment of the DB.
func (s *Session) Charset() calldb.CharsetInfo {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.charset
}

// CallAPI returns the version-selected call strategy.
func (s *Session) CallAPI() calldb.CallAPI {
	return s.api
}

// PrepareHandle prepares sql, reusing an idle cached handle when one is
// filed under (sql, tag). Parsing is deferred; rejected statements fail at
// execute time, not here.
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
	h := newStmtHandle(s.db, s, sql, s.cache.NextName())
	h.cached = &stmtcache.CachedStatement{
		Name:   h.name,
		SQL:    sql,
		Tag:    tag,
		Handle: h,
	}
	s.db.handleOpened(sql)
	return h, nil
}

// ReleaseHandle returns h to the statement cache, or destroys it when evict
// is set. Eviction also discards any idle sibling prepared from the same
// text, since it carries the same stale metadata.
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
	return newMemVariable(s, opts)
}

// ResolveObjectType resolves the object type named by a column descriptor.
func (s *Session) ResolveObjectType(ctx context.Context, param calldb.ParamHandle) (calldb.ObjectType, error) {
	p, ok := param.(*paramHandle)
	if !ok {
		return nil, fmt.Errorf("param handle was not issued by this backend")
	}
	if p.col.ObjectTypeName == "" {
		return nil, fmt.Errorf("column %s has no object type", p.col.Name)
	}
	return newObjectType(p.col.ObjectTypeName), nil
}

// CacheStats reports the session's statement cache statistics.
func (s *Session) CacheStats() stmtcache.Stats {
	return s.cache.Stats()
}
