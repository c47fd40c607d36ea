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
	"time"

	"github.com/spf13/cobra"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/stmtcache"
	"github.com/rowcall/rowcall/go/stmtengine"
)

// benchTag keys bench statements in the statement cache, so repeated
// preparations of the same text land on the same cached handle.
const benchTag = "bench"

// BenchCmd holds the bench command configuration
type BenchCmd struct {
	rc *RowCallCommand

	iterations int
	binds      []string
	params     []string
	reprepare  bool
	commit     bool
	linger     time.Duration
}

// AddBenchCommand adds the bench subcommand to root
func AddBenchCommand(root *cobra.Command, rc *RowCallCommand) {
	b := &BenchCmd{rc: rc}
	root.AddCommand(b.createCommand())
}

func (b *BenchCmd) createCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench <sql>",
		Short: "Measure prepared-statement execution throughput",
		Long: `Bench executes the given statement repeatedly through the engine and
reports timing plus the session's statement cache counters. With --reprepare
every iteration closes and re-prepares the statement, exercising the cache;
otherwise one prepared statement is reused throughout.

With --http-port set, /metrics and the pprof endpoints are served for the
duration of the run; --linger keeps them up afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: b.runBench,
	}

	cmd.Flags().IntVar(&b.iterations, "iterations", 1000, "Number of executions to run")
	cmd.Flags().StringArrayVar(&b.binds, "bind", nil, "Named bind in name=value form; repeatable")
	cmd.Flags().StringArrayVar(&b.params, "param", nil, "Positional bind value; repeatable, bound in order")
	cmd.Flags().BoolVar(&b.reprepare, "reprepare", false, "Close and re-prepare the statement every iteration")
	cmd.Flags().BoolVar(&b.commit, "commit", false, "Commit in the same round trip after each successful execution")
	cmd.Flags().DurationVar(&b.linger, "linger", 0, "Keep serving the debug HTTP endpoints this long after the run")
	b.rc.sv.RegisterFlagsWithoutLoggerAndConfig(cmd.Flags())

	return cmd
}

func (b *BenchCmd) runBench(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if b.iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", b.iterations)
	}
	opts, err := b.benchOptions()
	if err != nil {
		return err
	}
	sess, err := b.rc.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Release()

	stop, err := b.rc.serveDebugHTTP()
	if err != nil {
		return err
	}
	defer stop()

	res, err := benchStatement(ctx, sess, args[0], opts)
	if err != nil {
		return err
	}

	fmt.Printf("%d executions in %v (%.1f/s)\n",
		res.Iterations, res.Elapsed.Round(time.Microsecond), res.PerSecond())
	if res.Rows > 0 {
		fmt.Printf("%d rows\n", res.Rows)
	}
	fmt.Printf("statement cache: %d hits, %d misses, %d evictions\n",
		res.Cache.Hits, res.Cache.Misses, res.Cache.Evictions)

	if b.linger > 0 {
		fmt.Printf("serving debug endpoints for %v\n", b.linger)
		time.Sleep(b.linger)
	}
	return nil
}

// benchOptions converts the bench flags into run options.
func (b *BenchCmd) benchOptions() (benchOptions, error) {
	binds, err := parseNamedBinds(b.binds)
	if err != nil {
		return benchOptions{}, err
	}
	fetchSize, err := b.rc.GetFetchSize()
	if err != nil {
		return benchOptions{}, err
	}
	return benchOptions{
		iterations: b.iterations,
		binds:      binds,
		params:     parseParams(b.params),
		fetchSize:  fetchSize,
		commit:     b.commit,
		reprepare:  b.reprepare,
		logger:     b.rc.GetLogger(),
	}, nil
}

type benchOptions struct {
	iterations int
	binds      map[string]any
	params     []any
	fetchSize  uint32
	commit     bool
	reprepare  bool
	logger     *slog.Logger
}

// BenchResult summarizes one bench run.
type BenchResult struct {
	Iterations int
	// Rows counts fetched rows for queries and affected rows for
	// everything else, summed over all iterations.
	Rows    uint64
	Elapsed time.Duration
	Cache   stmtcache.Stats
}

// PerSecond is the execution rate of the run.
func (r *BenchResult) PerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Iterations) / r.Elapsed.Seconds()
}

// benchStatement executes sql opts.iterations times through one prepared
// statement, or through a fresh preparation per iteration when reprepare is
// set, and reports timing plus the session's statement cache counters.
func benchStatement(ctx context.Context, sess calldb.Session, sql string, opts benchOptions) (*BenchResult, error) {
	mode := calldb.ExecDefault
	if opts.commit {
		mode |= calldb.ExecCommitOnSuccess
	}

	res := &BenchResult{Iterations: opts.iterations}
	start := time.Now()
	if opts.reprepare {
		for i := 0; i < opts.iterations; i++ {
			if err := benchOnce(ctx, sess, sql, mode, &opts, res); err != nil {
				return nil, fmt.Errorf("iteration %d: %w", i+1, err)
			}
		}
	} else {
		stmt, err := stmtengine.Prepare(ctx, sess, sql, stmtengine.Options{Tag: benchTag, Logger: opts.logger})
		if err != nil {
			return nil, err
		}
		defer func() { _ = stmt.Close(ctx) }()
		if err := applyBenchBinds(ctx, stmt, &opts); err != nil {
			return nil, err
		}
		for i := 0; i < opts.iterations; i++ {
			if err := benchExecute(ctx, stmt, mode, res); err != nil {
				return nil, fmt.Errorf("iteration %d: %w", i+1, err)
			}
		}
	}
	res.Elapsed = time.Since(start)

	if cs, ok := sess.(interface{ CacheStats() stmtcache.Stats }); ok {
		res.Cache = cs.CacheStats()
	}
	return res, nil
}

// benchOnce prepares, binds, executes and closes one statement. The close
// parks the handle in the statement cache under the bench tag, so the next
// preparation hits.
func benchOnce(ctx context.Context, sess calldb.Session, sql string, mode calldb.ExecMode, opts *benchOptions, res *BenchResult) error {
	stmt, err := stmtengine.Prepare(ctx, sess, sql, stmtengine.Options{Tag: benchTag, Logger: opts.logger})
	if err != nil {
		return err
	}
	if err := applyBenchBinds(ctx, stmt, opts); err != nil {
		_ = stmt.Close(ctx)
		return err
	}
	if err := benchExecute(ctx, stmt, mode, res); err != nil {
		_ = stmt.Close(ctx)
		return err
	}
	return stmt.Close(ctx)
}

func applyBenchBinds(ctx context.Context, stmt *stmtengine.Statement, opts *benchOptions) error {
	if opts.fetchSize > 0 {
		if err := stmt.SetFetchArraySize(ctx, opts.fetchSize); err != nil {
			return err
		}
	}
	for i, p := range opts.params {
		if err := stmt.BindValueByPos(ctx, uint32(i)+1, p); err != nil {
			return err
		}
	}
	for name, v := range opts.binds {
		if err := stmt.BindValueByName(ctx, name, v); err != nil {
			return err
		}
	}
	return nil
}

// benchExecute runs one iteration and drains any result set without
// reading the column values.
func benchExecute(ctx context.Context, stmt *stmtengine.Statement, mode calldb.ExecMode, res *BenchResult) error {
	if _, err := stmt.Execute(ctx, mode); err != nil {
		return err
	}
	info, err := stmt.Info(ctx)
	if err != nil {
		return err
	}
	if !info.IsQuery {
		affected, err := stmt.RowCount(ctx)
		if err != nil {
			return err
		}
		res.Rows += affected
		return nil
	}
	for {
		_, n, more, err := stmt.FetchRows(ctx, stmt.FetchArraySize())
		if err != nil {
			return err
		}
		res.Rows += uint64(n)
		if n == 0 || !more {
			return nil
		}
	}
}
