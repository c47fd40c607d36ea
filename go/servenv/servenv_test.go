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

package servenv

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rowcall/rowcall/go/viperutil"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServEnv() *ServEnv {
	return NewServEnv(viperutil.NewRegistry())
}

func TestRegisterFlags(t *testing.T) {
	sv := newTestServEnv()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	sv.RegisterFlags(fs)

	for _, name := range []string{
		"http-port", "bind-address", "hostname", "pprof-http",
		"lameduck-period", "onterm-timeout", "onclose-timeout", "pid-file",
		"log-level", "log-format", "log-output",
		"config-path", "config-name", "config-file", "config-file-not-found-handling",
	} {
		assert.NotNil(t, fs.Lookup(name), "flag %s should be registered", name)
	}

	require.NoError(t, fs.Parse([]string{"--http-port=15306", "--bind-address=127.0.0.1"}))
	assert.Equal(t, 15306, sv.GetHTTPPort())
	assert.Equal(t, "127.0.0.1", sv.GetBindAddress())
}

func TestRegisterFlagsFor(t *testing.T) {
	sv := newTestServEnv()

	OnParseFor("command-flag-test", func(fs *pflag.FlagSet) {
		fs.String("backend", "fake", "backend to run against")
	})

	fs := pflag.NewFlagSet("command-flag-test", pflag.ContinueOnError)
	sv.RegisterFlagsFor(fs, "command-flag-test")
	assert.NotNil(t, fs.Lookup("backend"), "OnParseFor hook should have registered the flag")

	other := newTestServEnv()
	otherFS := pflag.NewFlagSet("other", pflag.ContinueOnError)
	other.RegisterFlagsFor(otherFS, "other")
	assert.Nil(t, otherFS.Lookup("backend"), "hook must not fire for a different command")
}

func TestRunHooks(t *testing.T) {
	sv := newTestServEnv()

	ran := false
	sv.OnRun(func() { ran = true })
	require.NoError(t, sv.FireRunHooks())
	assert.True(t, ran)

	failure := errors.New("bind listener failed")
	sv.OnRunE(func() error { return failure })
	err := sv.FireRunHooks()
	require.ErrorIs(t, err, failure)
}

func TestFireHooksWithTimeout(t *testing.T) {
	sv := newTestServEnv()

	t.Run("hooks finish in time", func(t *testing.T) {
		sv.OnTermSync(func() {})
		assert.True(t, sv.fireOnTermSyncHooks(time.Second))
	})

	t.Run("slow hook times out", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		slow := newTestServEnv()
		slow.OnTermSync(func() { <-release })
		assert.False(t, slow.fireOnTermSyncHooks(10*time.Millisecond))
	})
}

func TestPidFile(t *testing.T) {
	sv := newTestServEnv()

	path := filepath.Join(t.TempDir(), "rowcall.pid")
	sv.pidFile.Set(path)

	sv.onInitHooks.Fire()
	data, err := os.ReadFile(path)
	require.NoError(t, err, "pid file should exist after init hooks fire")
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	sv.onCloseHooks.Fire()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "pid file should be removed on close")
}

func TestCobraPreRunE(t *testing.T) {
	sv := newTestServEnv()

	cmd := &cobra.Command{Use: "prerun-test"}
	require.NoError(t, sv.CobraPreRunE(cmd), "missing config file should only warn by default")

	// Fire the term hooks registered by CobraPreRunE so the reload
	// goroutine and watcher shut down.
	sv.onTermHooks.Fire()
}

func TestCommonHTTPEndpoints(t *testing.T) {
	sv := newTestServEnv()
	sv.RegisterCommonHTTPEndpoints()

	t.Run("config debug handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/debug/config", nil)
		rec := httptest.NewRecorder()
		sv.mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "http-port")
	})

	t.Run("metrics handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		sv.mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("pprof only when enabled", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil)
		rec := httptest.NewRecorder()
		sv.mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestLoggerSetup(t *testing.T) {
	reg := viperutil.NewRegistry()
	lg := NewLogger(reg)

	assert.Equal(t, "info", lg.GetLogLevel())
	assert.Equal(t, "json", lg.GetLogFormat())
	assert.Equal(t, "stdout", lg.GetLogOutput())

	lg.SetupLogging()
	require.NotNil(t, lg.GetLogger())

	changed := false
	lg.OnLoggingChange(func(*slog.Logger) { changed = true })

	lg.logLevel.Set("debug")
	lg.ApplyConfigChange()
	assert.Equal(t, slog.LevelDebug, lg.level.Level())
	assert.True(t, changed, "change hooks fire when the level changes")

	// Unchanged level is a no-op.
	changed = false
	lg.ApplyConfigChange()
	assert.False(t, changed)
}
