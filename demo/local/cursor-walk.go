// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// cursor-walk is a tool for walking the statement engine end to end against
// the fake call backend.
//
// Usage:
//
//	go run cursor-walk.go                # Interactive mode
//	go run cursor-walk.go --yes          # Automatic mode
//	go run cursor-walk.go --yes --debug  # With engine debug logging
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/fakecalldb"
	"github.com/rowcall/rowcall/go/stmtengine"
)

// ANSI color codes
const (
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
	colorReset  = "\033[0m"
)

// Canned statements every act runs against.
const (
	wordsSQL  = "select id, word from words order by id"
	insertSQL = "insert into words (id, word) values (:id, :word)"
	gaugeSQL  = "select name, size_mb, redundant from gauges"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1) //nolint:forbidigo // main() is allowed to call os.Exit
	}
}

var rootCmd = &cobra.Command{
	Use:   "cursor-walk",
	Short: "Statement engine walkthrough against the fake call backend",
	Long: `Walk the statement lifecycle end to end: describe output columns,
windowed forward fetch, scrollable repositioning, batched DML with per-row
error collection, statement cache reuse and stale-metadata recovery.

Examples:
  # Run interactive mode (ask before each act)
  ./cursor-walk

  # Run all acts without prompts
  ./cursor-walk --yes

  # Enable engine debug logging
  ./cursor-walk --yes --debug`,
	RunE: runCursorWalk,
}

var (
	autoYes bool
	debug   bool
)

func init() {
	rootCmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "Run every act without confirmation")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable engine debug logging")
}

func runCursorWalk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM) //nolint:gocritic // entry point for CLI tool
	defer cancel()

	if debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	logInfo("Statement Engine Walkthrough (Fake Backend)")
	if autoYes {
		logWarn("Auto-yes mode enabled - will run every act without confirmation")
	}
	fmt.Fprintln(os.Stderr)

	db := buildCatalog()
	sess := db.NewSession(calldb.APIModern)
	defer sess.Release()
	logSuccess("Loaded catalog with 3 canned statements")

	acts := []struct {
		name string
		run  func(context.Context, *fakecalldb.DB, *fakecalldb.Session) error
	}{
		{"describe output columns", actDescribe},
		{"windowed forward fetch", actForwardFetch},
		{"scrollable repositioning", actScroll},
		{"batched DML with error collection", actBatch},
		{"statement cache reuse", actCacheReuse},
		{"stale-metadata recovery", actRecovery},
	}

	for i, act := range acts {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			logInfo("Interrupted by user")
			return nil
		default:
		}

		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "======================================")
		logInfo(fmt.Sprintf("Act %d: %s", i+1, act.name))
		fmt.Fprintln(os.Stderr, "======================================")

		if !confirm() {
			logInfo("Skipping this act")
			continue
		}

		if err := act.run(ctx, db, sess); err != nil {
			logError(fmt.Sprintf("Act failed: %v", err))
			return err
		}
		logSuccess(fmt.Sprintf("Act %d complete", i+1))

		if debug {
			stats := sess.CacheStats()
			fmt.Fprintf(os.Stderr, "  [DEBUG] cache: %d idle, %d hits, %d misses, %d evictions\n",
				stats.IdleStatements, stats.Hits, stats.Misses, stats.Evictions)
		}
	}

	fmt.Fprintln(os.Stderr)
	logSuccess("Walkthrough complete")
	return nil
}

// buildCatalog registers the canned results: eight words for the fetch and
// scroll acts, an insert whose third row collides, and a small gauges query
// for describe and recovery.
func buildCatalog() *fakecalldb.DB {
	db := fakecalldb.New(nil)

	db.AddQuery(wordsSQL, &fakecalldb.ExpectedResult{
		Columns: []fakecalldb.Column{
			{Name: "id", Type: calldb.TypeNativeInt, Precision: 10},
			{Name: "word", Type: calldb.TypeVarchar, Size: 32, NullOK: true},
		},
		Rows: [][]any{
			{int64(1), "alpha"},
			{int64(2), "beta"},
			{int64(3), "gamma"},
			{int64(4), "delta"},
			{int64(5), "epsilon"},
			{int64(6), "zeta"},
			{int64(7), "eta"},
			{int64(8), "theta"},
		},
	})

	db.AddQuery(insertSQL, &fakecalldb.ExpectedResult{
		IterationErrors: map[uint32]uint32{2: calldb.ServerErrUniqueViolation},
	})

	db.AddQuery(gaugeSQL, &fakecalldb.ExpectedResult{
		Columns: []fakecalldb.Column{
			{Name: "name", Type: calldb.TypeVarchar, Size: 24},
			{Name: "size_mb", Type: calldb.TypeNumber, Precision: 12, Scale: 2},
			{Name: "redundant", Type: calldb.TypeBoolean},
		},
		Rows: [][]any{
			{"wal", 512.25, true},
			{"heap", 8192.0, false},
		},
	})

	return db
}

// actDescribe prepares the gauges query and prints every output column.
func actDescribe(ctx context.Context, db *fakecalldb.DB, sess *fakecalldb.Session) error {
	stmt, err := stmtengine.Prepare(ctx, sess, gaugeSQL, stmtengine.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close(ctx) }()

	numCols, err := stmt.Execute(ctx, calldb.ExecDefault)
	if err != nil {
		return err
	}

	logInfo(fmt.Sprintf("Statement produces %d columns:", numCols))
	for pos := uint32(1); pos <= numCols; pos++ {
		ci, err := stmt.QueryColumnInfo(ctx, pos)
		if err != nil {
			return err
		}
		nullable := "not null"
		if ci.NullOK {
			nullable = "nullable"
		}
		fmt.Fprintf(os.Stderr, "  %d: %s %s (precision=%d scale=%d size=%d) %s\n",
			pos, ci.Name, ci.DataType, ci.Precision, ci.Scale, ci.ClientSizeInBytes, nullable)
	}
	return nil
}

// actForwardFetch drains the words query through a three row fetch window.
func actForwardFetch(ctx context.Context, db *fakecalldb.DB, sess *fakecalldb.Session) error {
	stmt, err := stmtengine.Prepare(ctx, sess, wordsSQL, stmtengine.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close(ctx) }()

	if err := stmt.SetFetchArraySize(ctx, 3); err != nil {
		return err
	}
	if _, err := stmt.Execute(ctx, calldb.ExecDefault); err != nil {
		return err
	}

	rows := 0
	for {
		found, _, err := stmt.Fetch(ctx)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		id, err := stmt.QueryValue(ctx, 1)
		if err != nil {
			return err
		}
		word, err := stmt.QueryValue(ctx, 2)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "  row %v: %v\n", id, word)
		rows++
	}

	logInfo(fmt.Sprintf("%d rows drained in %d fetch round trips", rows, db.FetchCalls(wordsSQL)))
	return nil
}

// actScroll executes the words query scrollable and jumps around the result
// set. The relative and prior jumps land inside the buffered window, so they
// reposition without a server round trip.
func actScroll(ctx context.Context, db *fakecalldb.DB, sess *fakecalldb.Session) error {
	stmt, err := stmtengine.Prepare(ctx, sess, wordsSQL, stmtengine.Options{Scrollable: true})
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close(ctx) }()

	if err := stmt.SetFetchArraySize(ctx, 3); err != nil {
		return err
	}
	if _, err := stmt.Execute(ctx, calldb.ExecDefault); err != nil {
		return err
	}

	jumps := []struct {
		label  string
		mode   calldb.FetchMode
		offset int32
	}{
		{"last", calldb.FetchLast, 0},
		{"first", calldb.FetchFirst, 0},
		{"absolute 5", calldb.FetchAbsolute, 5},
		{"relative +2", calldb.FetchRelative, 2},
		{"prior", calldb.FetchPrior, 0},
	}

	for _, j := range jumps {
		if err := stmt.Scroll(ctx, j.mode, j.offset, 0); err != nil {
			return err
		}
		found, _, err := stmt.Fetch(ctx)
		if err != nil {
			return err
		}
		if !found {
			logWarn(fmt.Sprintf("  %s: no row", j.label))
			continue
		}
		id, err := stmt.QueryValue(ctx, 1)
		if err != nil {
			return err
		}
		word, err := stmt.QueryValue(ctx, 2)
		if err != nil {
			return err
		}
		pos, err := stmt.RowCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "  %-11s -> row %d: id=%v word=%v\n", j.label, pos, id, word)
	}
	return nil
}

// actBatch loads four rows through one statement execution. The canned
// catalog fails the third with a unique violation, which batch-error mode
// collects instead of aborting the load.
func actBatch(ctx context.Context, db *fakecalldb.DB, sess *fakecalldb.Session) error {
	stmt, err := stmtengine.Prepare(ctx, sess, insertSQL, stmtengine.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close(ctx) }()

	rows := []struct {
		id   int64
		word string
	}{
		{9, "iota"},
		{10, "kappa"},
		{1, "alpha"}, // duplicate id
		{11, "lambda"},
	}
	n := uint32(len(rows))

	ids, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType:  calldb.TypeNativeInt,
		ArraySize: n,
	})
	if err != nil {
		return err
	}
	words, err := sess.NewVariable(ctx, calldb.VariableOptions{
		DataType:    calldb.TypeVarchar,
		ArraySize:   n,
		Size:        16,
		SizeIsBytes: true,
	})
	if err != nil {
		ids.Release()
		return err
	}
	for i, r := range rows {
		if err := ids.SetValue(uint32(i), r.id); err != nil {
			ids.Release()
			words.Release()
			return err
		}
		if err := words.SetValue(uint32(i), r.word); err != nil {
			ids.Release()
			words.Release()
			return err
		}
	}
	ids.SetActualCount(n)
	words.SetActualCount(n)

	if err := stmt.BindByName(ctx, "id", ids); err != nil {
		ids.Release()
		words.Release()
		return err
	}
	ids.Release()
	if err := stmt.BindByName(ctx, "word", words); err != nil {
		words.Release()
		return err
	}
	words.Release()

	if err := stmt.ExecuteMany(ctx, calldb.ExecDefault|calldb.ExecBatchErrors, n); err != nil {
		return err
	}

	affected, err := stmt.RowCount(ctx)
	if err != nil {
		return err
	}
	count, err := stmt.BatchErrorCount(ctx)
	if err != nil {
		return err
	}
	logInfo(fmt.Sprintf("%d of %d rows loaded, %d failed:", affected, n, count))

	buf := make([]stmtengine.BatchError, count)
	if _, err := stmt.BatchErrors(ctx, buf); err != nil {
		return err
	}
	for _, be := range buf {
		fmt.Fprintf(os.Stderr, "  row %d: code %d: %s\n", be.RowOffset, be.Error.Code, be.Error.Message)
	}
	return nil
}

// actCacheReuse parks a tagged statement and shows the next preparation
// picking it back up.
func actCacheReuse(ctx context.Context, db *fakecalldb.DB, sess *fakecalldb.Session) error {
	before := sess.CacheStats()

	stmt, err := stmtengine.Prepare(ctx, sess, wordsSQL, stmtengine.Options{Tag: "walk"})
	if err != nil {
		return err
	}
	if _, err := stmt.Execute(ctx, calldb.ExecDefault); err != nil {
		_ = stmt.Close(ctx)
		return err
	}
	if err := stmt.Close(ctx); err != nil {
		return err
	}

	again, err := stmtengine.Prepare(ctx, sess, wordsSQL, stmtengine.Options{Tag: "walk"})
	if err != nil {
		return err
	}
	defer func() { _ = again.Close(ctx) }()

	after := sess.CacheStats()
	logInfo(fmt.Sprintf("Cache before: %d hits, %d misses", before.Hits, before.Misses))
	logInfo(fmt.Sprintf("Cache after:  %d hits, %d misses", after.Hits, after.Misses))
	if after.Hits > before.Hits {
		logInfo("Second preparation reused the parked handle")
	}
	return nil
}

// actRecovery mutates the catalog under a live statement and lets the engine
// recover from the stale-metadata failure on its own.
func actRecovery(ctx context.Context, db *fakecalldb.DB, sess *fakecalldb.Session) error {
	stmt, err := stmtengine.Prepare(ctx, sess, gaugeSQL, stmtengine.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close(ctx) }()

	numCols, err := stmt.Execute(ctx, calldb.ExecDefault)
	if err != nil {
		return err
	}
	logInfo(fmt.Sprintf("First execution described %d columns", numCols))

	logWarn("Dropping the last column out from under the prepared handle...")
	if err := db.DropColumn(gaugeSQL); err != nil {
		return err
	}

	executions := db.GetQueryCalledNum(gaugeSQL)
	numCols, err = stmt.Execute(ctx, calldb.ExecDefault)
	if err != nil {
		return err
	}
	logSuccess(fmt.Sprintf("Second execution recovered and described %d columns", numCols))
	if debug {
		fmt.Fprintf(os.Stderr, "  [DEBUG] server executions for the statement: %d (was %d)\n",
			db.GetQueryCalledNum(gaugeSQL), executions)
	}
	return nil
}

func confirm() bool {
	if autoYes {
		logInfo("Auto-yes enabled, proceeding automatically...")
		return true
	}
	fmt.Fprint(os.Stderr, "Run this act? (y/n): ")
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(response)) == "y"
}

func logInfo(msg string) {
	fmt.Fprintf(os.Stderr, "%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func logSuccess(msg string) {
	fmt.Fprintf(os.Stderr, "%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func logWarn(msg string) {
	fmt.Fprintf(os.Stderr, "%s[WARN]%s %s\n", colorYellow, colorReset, msg)
}

func logError(msg string) {
	fmt.Fprintf(os.Stderr, "%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}
