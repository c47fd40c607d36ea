// Copyright 2023 The Vitess Authors.
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
//
// Modifications Copyright 2025 Supabase, Inc.

package servenv

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rowcall/rowcall/go/tools/event"
	"github.com/rowcall/rowcall/go/viperutil"
	viperdebug "github.com/rowcall/rowcall/go/viperutil/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ServEnv holds the process environment for a rowcall binary: its config
// registry, logging setup, lifecycle hooks, and the debug HTTP endpoint.
// Each binary owns one instance rather than sharing package globals, so
// tests and embedded uses stay isolated.
type ServEnv struct {
	// Configuration registry
	reg *viperutil.Registry

	// Configuration
	httpPort       viperutil.Value[int]
	bindAddress    viperutil.Value[string]
	hostname       viperutil.Value[string]
	lameduckPeriod viperutil.Value[time.Duration]
	onTermTimeout  viperutil.Value[time.Duration]
	onCloseTimeout viperutil.Value[time.Duration]
	pidFile        viperutil.Value[string]
	httpPprof      viperutil.Value[bool]
	catchSigpipe   bool
	maxStackSize   int
	initStartTime  time.Time
	vc             *viperutil.ViperConfig

	// Hooks
	onInitHooks     event.Hooks
	onTermHooks     event.Hooks
	onTermSyncHooks event.Hooks
	onRunHooks      event.Hooks
	onRunEHooks     event.ErrorHooks
	onCloseHooks    event.Hooks

	// State
	mu           sync.Mutex
	inited       bool
	listeningURL url.URL

	mux *http.ServeMux
	// exitChan waits for a signal that tells the process to terminate
	exitChan chan os.Signal
	lg       *Logger
}

// NewServEnv creates a new ServEnv instance with the given registry.
func NewServEnv(reg *viperutil.Registry) *ServEnv {
	return NewServEnvWithConfig(reg, NewLogger(reg), viperutil.NewViperConfig(reg))
}

// NewServEnvWithConfig creates a new ServEnv instance with an external
// logger and viper config. This allows sharing those instances across
// multiple components to avoid duplicate flag registrations and binding
// conflicts.
func NewServEnvWithConfig(reg *viperutil.Registry, lg *Logger, vc *viperutil.ViperConfig) *ServEnv {
	sv := &ServEnv{
		reg: reg,
		httpPort: viperutil.Configure(reg, "http-port", viperutil.Options[int]{
			Default:  0,
			FlagName: "http-port",
		}),
		bindAddress: viperutil.Configure(reg, "bind-address", viperutil.Options[string]{
			Default:  "",
			FlagName: "bind-address",
		}),
		hostname: viperutil.Configure(reg, "hostname", viperutil.Options[string]{
			Default:  "",
			FlagName: "hostname",
		}),
		lameduckPeriod: viperutil.Configure(reg, "lameduck-period", viperutil.Options[time.Duration]{
			Default:  50 * time.Millisecond,
			FlagName: "lameduck-period",
		}),
		onTermTimeout: viperutil.Configure(reg, "onterm-timeout", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "onterm-timeout",
		}),
		onCloseTimeout: viperutil.Configure(reg, "onclose-timeout", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "onclose-timeout",
		}),
		pidFile: viperutil.Configure(reg, "pid-file", viperutil.Options[string]{
			Default:  "",
			FlagName: "pid-file",
		}),
		httpPprof: viperutil.Configure(reg, "pprof-http", viperutil.Options[bool]{
			Default:  false,
			FlagName: "pprof-http",
		}),
		vc:           vc,
		maxStackSize: 64 * 1024 * 1024,
		mux:          http.NewServeMux(),
		lg:           lg,
		exitChan:     make(chan os.Signal, 1),
	}
	// Pid file hooks must be in place before Init fires OnInit.
	sv.registerPidFile()
	return sv
}

// GetInitStartTime returns the initialization start time.
func (sv *ServEnv) GetInitStartTime() time.Time {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.initStartTime
}

// SetListeningURL sets the listening URL.
func (sv *ServEnv) SetListeningURL(u url.URL) {
	sv.listeningURL = u
}

// ListeningURL returns the URL the HTTP server is reachable at. It is only
// populated while Run is active.
func (sv *ServEnv) ListeningURL() url.URL {
	return sv.listeningURL
}

// PopulateListeningURL sets the listening URL based on the configured
// hostname and port. The hostname should already be set by Init() before
// this is called.
func (sv *ServEnv) PopulateListeningURL(port int32) {
	hostname := sv.hostname.Get()
	slog.Info("Setting listening URL", "hostname", hostname, "port", port)
	sv.SetListeningURL(url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(hostname, strconv.Itoa(int(port))),
		Path:   "/",
	})
}

// populateHostname fills in the hostname value if the --hostname flag did
// not set one.
func (sv *ServEnv) populateHostname() {
	if sv.hostname.Get() != "" {
		slog.Info("Using explicitly configured hostname for service URL", "hostname", sv.hostname.Get())
		return
	}

	host, err := os.Hostname()
	if err != nil {
		slog.Error("os.Hostname() failed", "err", err)
		os.Exit(1)
	}
	sv.hostname.Set(host)
}

// GetHTTPPort returns the HTTP port value.
func (sv *ServEnv) GetHTTPPort() int {
	return sv.httpPort.Get()
}

// GetBindAddress returns the bind address value.
func (sv *ServEnv) GetBindAddress() string {
	return sv.bindAddress.Get()
}

// GetHostname returns the hostname value.
func (sv *ServEnv) GetHostname() string {
	return sv.hostname.Get()
}

// OnInit registers f to be run at the beginning of the app lifecycle.
func (sv *ServEnv) OnInit(f func()) {
	sv.onInitHooks.Add(f)
}

// OnTerm registers a function to be run when the process receives a SIGTERM.
// This allows the program to change its behavior during the lameduck period.
//
// All hooks are run in parallel, and there is no guarantee that the process
// will wait for them to finish before dying when the lameduck period expires.
//
// See also: OnTermSync
func (sv *ServEnv) OnTerm(f func()) {
	sv.onTermHooks.Add(f)
}

// OnTermSync registers a function to be run when the process receives SIGTERM.
//
// All hooks are run in parallel, and the process will do its best to wait
// (up to --onterm-timeout) for all of them to finish before dying.
//
// See also: OnTerm
func (sv *ServEnv) OnTermSync(f func()) {
	sv.onTermSyncHooks.Add(f)
}

// OnRun registers f to be run right at the beginning of Run. All hooks are
// run in parallel.
func (sv *ServEnv) OnRun(f func()) {
	sv.onRunHooks.Add(f)
}

// OnRunE registers an error-returning function to be run right at the
// beginning of Run. If the function returns an error, it will be collected
// and returned by FireRunHooks.
func (sv *ServEnv) OnRunE(f func() error) {
	sv.onRunEHooks.Add(f)
}

// OnClose registers f to be run at the end of the app lifecycle. This
// happens after the lameduck period just before the program exits. All
// hooks are run in parallel.
func (sv *ServEnv) OnClose(f func()) {
	sv.onCloseHooks.Add(f)
}

// FireRunHooks fires the hooks registered by OnRun and OnRunE. Returns an
// error if any OnRunE hooks fail.
func (sv *ServEnv) FireRunHooks() error {
	sv.onRunHooks.Fire()
	return sv.onRunEHooks.Fire()
}

// fireOnTermSyncHooks returns true iff all the hooks finish before the timeout.
func (sv *ServEnv) fireOnTermSyncHooks(timeout time.Duration) bool {
	return sv.fireHooksWithTimeout(timeout, "OnTermSync", sv.onTermSyncHooks.Fire)
}

// fireOnCloseHooks returns true iff all the hooks finish before the timeout.
func (sv *ServEnv) fireOnCloseHooks(timeout time.Duration) bool {
	return sv.fireHooksWithTimeout(timeout, "OnClose", func() {
		sv.onCloseHooks.Fire()
		sv.SetListeningURL(url.URL{})
	})
}

// fireHooksWithTimeout returns true iff all the hooks finish before the timeout.
func (sv *ServEnv) fireHooksWithTimeout(timeout time.Duration, name string, hookFn func()) bool {
	slog.Info("Firing hooks and waiting for them", "name", name, "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan struct{})
	go func() {
		hookFn()
		close(done)
	}()

	select {
	case <-done:
		slog.Info(fmt.Sprintf("%s hooks finished", name))
		return true
	case <-timer.C:
		slog.Info(fmt.Sprintf("%s hooks timed out", name))
		return false
	}
}

var (
	flagHooksM       sync.Mutex
	globalFlagHooks  []func(*pflag.FlagSet)
	commandFlagHooks = map[string][]func(*pflag.FlagSet){}
)

// OnParse registers a callback function to register flags on the flagset
// that are used by any caller of RegisterFlags or RegisterFlagsFor.
func OnParse(f func(fs *pflag.FlagSet)) {
	flagHooksM.Lock()
	defer flagHooksM.Unlock()

	globalFlagHooks = append(globalFlagHooks, f)
}

// OnParseFor registers a callback function to register flags on the flagset
// used by RegisterFlagsFor. The provided callback will only be called if the
// `cmd` argument passed to RegisterFlagsFor exactly matches the `cmd`
// argument passed to OnParseFor.
//
// To register flags for multiple commands, call this multiple times with the
// same callback function. To register flags for all commands globally, use
// OnParse instead.
func OnParseFor(cmd string, f func(fs *pflag.FlagSet)) {
	flagHooksM.Lock()
	defer flagHooksM.Unlock()

	commandFlagHooks[cmd] = append(commandFlagHooks[cmd], f)
}

func getGlobalFlagHooks() (hooks []func(fs *pflag.FlagSet)) {
	flagHooksM.Lock()
	defer flagHooksM.Unlock()

	hooks = append(hooks, globalFlagHooks...) // done deliberately to copy the slice
	return hooks
}

func getCommandFlagHooks(cmd string) (hooks []func(fs *pflag.FlagSet)) {
	flagHooksM.Lock()
	defer flagHooksM.Unlock()

	if commandHooks, ok := commandFlagHooks[cmd]; ok {
		hooks = append(hooks, commandHooks...)
	}
	return hooks
}

// RegisterFlags installs the servenv flags, including the logger and viper
// config flags, plus any hooks registered via OnParse.
func (sv *ServEnv) RegisterFlags(fs *pflag.FlagSet) {
	sv.registerFlags(fs, true)
}

// RegisterFlagsWithoutLoggerAndConfig registers servenv flags but skips
// logger and viper config flags. Use this when the logger and viper config
// are managed externally (e.g., as persistent flags in a root command).
func (sv *ServEnv) RegisterFlagsWithoutLoggerAndConfig(fs *pflag.FlagSet) {
	sv.registerFlags(fs, false)
}

// RegisterFlagsFor is RegisterFlags plus the hooks registered for cmd via
// OnParseFor.
func (sv *ServEnv) RegisterFlagsFor(fs *pflag.FlagSet, cmd string) {
	sv.registerFlags(fs, true)
	for _, hook := range getCommandFlagHooks(cmd) {
		hook(fs)
	}
}

func (sv *ServEnv) registerFlags(fs *pflag.FlagSet, includeLoggerAndConfig bool) {
	// Default flags
	fs.Int("http-port", sv.httpPort.Default(), "HTTP port for the server")
	fs.String("bind-address", sv.bindAddress.Default(), "Bind address for the server. If empty, the server will listen on all available unicast and anycast IP addresses of the local system.")
	fs.String("hostname", sv.hostname.Default(), "Hostname to use for the listening URL. If not set, will auto-detect using os.Hostname()")
	fs.Bool("pprof-http", sv.httpPprof.Default(), "enable pprof http endpoints")

	// Timeout flags
	fs.Duration("lameduck-period", sv.lameduckPeriod.Default(), "keep running at least this long after SIGTERM before stopping")
	fs.Duration("onterm-timeout", sv.onTermTimeout.Default(), "wait no more than this for OnTermSync handlers before stopping")
	fs.Duration("onclose-timeout", sv.onCloseTimeout.Default(), "wait no more than this for OnClose handlers before stopping")
	fs.String("pid-file", sv.pidFile.Default(), "If set, the process will write its pid to the named file, and delete it on graceful shutdown.")

	viperutil.BindFlags(fs, sv.httpPort, sv.bindAddress, sv.hostname, sv.lameduckPeriod, sv.onTermTimeout, sv.onCloseTimeout, sv.pidFile, sv.httpPprof)

	// Only register logger and viper config flags if requested.
	// Skip if these are managed externally (e.g., as persistent flags in a
	// root command).
	if includeLoggerAndConfig {
		sv.lg.RegisterFlags(fs)
		sv.vc.RegisterFlags(fs)
	}

	for _, hook := range getGlobalFlagHooks() {
		hook(fs)
	}
}

// CobraPreRunE returns the common function that commands will need to load
// viper infrastructure. It matches the signature of cobra's (Pre|Post)RunE-type
// functions.
func (sv *ServEnv) CobraPreRunE(cmd *cobra.Command) error {
	// Re-apply logging config on config file change.
	ch := make(chan struct{})
	viperutil.NotifyConfigReload(sv.reg, ch)
	go func() {
		for range ch {
			sv.lg.ApplyConfigChange()
			slog.Info("Change in configuration", "settings", viperdebug.AllSettings(sv.reg))
		}
	}()

	watchCancel, err := sv.vc.LoadConfig(sv.reg)
	if err != nil {
		return fmt.Errorf("%s: failed to read in config: %w", cmd.Name(), err)
	}

	sv.OnTerm(watchCancel)
	// Register a function to be called on termination that closes the channel.
	// This is done after the watchCancel has registered to ensure that we don't
	// end up sending on a closed channel.
	sv.OnTerm(func() { close(ch) })

	// Setup logging after config is loaded and flags are parsed
	sv.lg.SetupLogging()

	return nil
}
