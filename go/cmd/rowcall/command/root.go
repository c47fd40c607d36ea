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

package command

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/servenv"
	"github.com/rowcall/rowcall/go/sqlcalldb"
	"github.com/rowcall/rowcall/go/viperutil"
)

// driverFake selects the scripted in-memory backend instead of a
// database/sql driver. It is only reachable through scripts, which carry
// the statement catalog the fake answers from.
const driverFake = "fake"

// RowCallCommand holds the configuration for rowcall commands
type RowCallCommand struct {
	reg           *viperutil.Registry
	driver        viperutil.Value[string]
	dsn           viperutil.Value[string]
	cacheCapacity viperutil.Value[int]
	fetchSize     viperutil.Value[int]
	vc            *viperutil.ViperConfig
	lg            *servenv.Logger
	sv            *servenv.ServEnv
	fs            afero.Fs
}

// GetRootCommand creates and returns the root command for rowcall with all
// subcommands
func GetRootCommand() (*cobra.Command, *RowCallCommand) {
	reg := viperutil.NewRegistry()
	lg := servenv.NewLogger(reg)
	vc := viperutil.NewViperConfig(reg)
	rc := &RowCallCommand{
		reg: reg,
		driver: viperutil.Configure(reg, "driver", viperutil.Options[string]{
			Default:  "sqlite3",
			FlagName: "driver",
			Dynamic:  false,
		}),
		dsn: viperutil.Configure(reg, "dsn", viperutil.Options[string]{
			Default:  ":memory:",
			FlagName: "dsn",
			Dynamic:  false,
		}),
		cacheCapacity: viperutil.Configure(reg, "stmt-cache-capacity", viperutil.Options[int]{
			Default:  0,
			FlagName: "stmt-cache-capacity",
			Dynamic:  false,
		}),
		fetchSize: viperutil.Configure(reg, "fetch-size", viperutil.Options[int]{
			Default:  0,
			FlagName: "fetch-size",
			Dynamic:  false,
		}),
		vc: vc,
		lg: lg,
		sv: servenv.NewServEnvWithConfig(reg, lg, vc),
		fs: afero.NewOsFs(),
	}

	root := &cobra.Command{
		Use:   "rowcall",
		Short: "Statement execution workbench",
		Long: `rowcall drives the statement engine from the command line. It prepares
statements, binds values by position or name, executes and fetches against a
database/sql driver, or replays scripted exchanges against a fake backend.`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rc.sv.CobraPreRunE(cmd)
		},
	}

	root.PersistentFlags().String("driver", rc.driver.Default(), "Database driver (sqlite3, postgres)")
	root.PersistentFlags().String("dsn", rc.dsn.Default(), "Data source name passed to the driver")
	root.PersistentFlags().Int("stmt-cache-capacity", rc.cacheCapacity.Default(), "Idle prepared-statement cache capacity (0 uses the default)")
	root.PersistentFlags().Int("fetch-size", rc.fetchSize.Default(), "Rows fetched per server round trip (0 uses the engine default)")
	rc.vc.RegisterFlags(root.PersistentFlags())
	rc.lg.RegisterFlags(root.PersistentFlags())

	viperutil.BindFlags(root.PersistentFlags(),
		rc.driver,
		rc.dsn,
		rc.cacheCapacity,
		rc.fetchSize,
	)

	// Add all subcommands
	AddExecCommand(root, rc)
	AddScriptCommand(root, rc)
	AddBenchCommand(root, rc)

	return root, rc
}

// GetLogger returns the configured logger instance
func (rc *RowCallCommand) GetLogger() *slog.Logger {
	return rc.lg.GetLogger()
}

// GetFetchSize returns the configured fetch array size; zero keeps the
// engine default.
func (rc *RowCallCommand) GetFetchSize() (uint32, error) {
	size := rc.fetchSize.Get()
	if size < 0 {
		return 0, fmt.Errorf("fetch-size cannot be negative, got %d", size)
	}
	return uint32(size), nil
}

// openSession opens a session against the configured driver. The fake
// driver needs a statement catalog, so it is rejected here and served by
// the script command instead.
func (rc *RowCallCommand) openSession(ctx context.Context) (calldb.Session, error) {
	driver := rc.driver.Get()
	if driver == driverFake {
		return nil, fmt.Errorf("the %s driver needs a statement catalog; run 'rowcall script' with a catalog section instead", driverFake)
	}
	return rc.connect(ctx, driver, rc.dsn.Get())
}

// connect opens a database/sql backed session. In-memory SQLite is pinned
// to a single pool connection: every pool connection would otherwise see
// its own private database.
func (rc *RowCallCommand) connect(ctx context.Context, driver, dsn string) (calldb.Session, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect with driver %s: %w", driver, err)
	}
	if driver == "sqlite3" && (strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")) {
		db.SetMaxOpenConns(1)
	}
	return sqlcalldb.NewSession(db, sqlcalldb.Options{
		CacheCapacity: rc.cacheCapacity.Get(),
		Logger:        rc.GetLogger(),
	}), nil
}

// serveDebugHTTP starts the debug HTTP listener when --http-port is set,
// exposing /metrics, /debug/config and the pprof endpoints. The returned
// stop function closes the listener; it is a no-op when no port is
// configured.
func (rc *RowCallCommand) serveDebugHTTP() (func(), error) {
	port := rc.sv.GetHTTPPort()
	if port == 0 {
		return func() {}, nil
	}
	rc.sv.RegisterCommonHTTPEndpoints()
	rc.sv.HTTPRegisterPprofProfile()
	l, err := net.Listen("tcp", net.JoinHostPort(rc.sv.GetBindAddress(), strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on http port %d: %w", port, err)
	}
	go func() {
		if err := rc.sv.HTTPServe(l); err != nil {
			rc.GetLogger().Error("debug http server failed", "error", err)
		}
	}()
	rc.GetLogger().Info("debug endpoints listening", "addr", l.Addr().String())
	return func() { _ = l.Close() }, nil
}

// parseBindValue converts a flag or script literal into a bind value.
// Integer and float literals bind as numbers, true/false as booleans and
// the literal null as SQL NULL; everything else binds as a string.
func parseBindValue(s string) any {
	switch s {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// parseNamedBinds splits repeated name=value pairs into bind values.
func parseNamedBinds(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	binds := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid bind %q, expected name=value", p)
		}
		binds[name] = parseBindValue(value)
	}
	return binds, nil
}

// parseParams converts repeated positional values into bind values, in
// order.
func parseParams(values []string) []any {
	if len(values) == 0 {
		return nil
	}
	params := make([]any, len(values))
	for i, v := range values {
		params[i] = parseBindValue(v)
	}
	return params
}
