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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/stmtengine"
)

// ExecCmd holds the exec command configuration
type ExecCmd struct {
	rc *RowCallCommand

	binds     []string
	params    []string
	maxRows   uint32
	tag       string
	commit    bool
	parseOnly bool
}

// AddExecCommand adds the exec subcommand to root
func AddExecCommand(root *cobra.Command, rc *RowCallCommand) {
	e := &ExecCmd{rc: rc}
	root.AddCommand(e.createCommand())
}

func (e *ExecCmd) createCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <sql>",
		Short: "Prepare, bind and execute a single statement",
		Long: `Exec prepares the given statement against the configured driver, binds any
supplied values and executes it. Queries print their described columns and
fetched rows; everything else prints the affected row count.`,
		Args: cobra.ExactArgs(1),
		RunE: e.runExec,
	}

	cmd.Flags().StringArrayVar(&e.binds, "bind", nil, "Named bind in name=value form; repeatable")
	cmd.Flags().StringArrayVar(&e.params, "param", nil, "Positional bind value; repeatable, bound in order")
	cmd.Flags().Uint32Var(&e.maxRows, "max-rows", 0, "Stop fetching after this many rows (0 fetches everything)")
	cmd.Flags().StringVar(&e.tag, "tag", "", "Statement cache tag")
	cmd.Flags().BoolVar(&e.commit, "commit", false, "Commit in the same round trip on success")
	cmd.Flags().BoolVar(&e.parseOnly, "parse-only", false, "Send the statement for a server-side syntax check without executing it")

	return cmd
}

func (e *ExecCmd) runExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts, err := e.execOptions()
	if err != nil {
		return err
	}
	sess, err := e.rc.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Release()

	res, err := executeStatement(ctx, sess, args[0], opts)
	if err != nil {
		return err
	}
	if e.parseOnly {
		fmt.Printf("statement: %s\n", res.Info.Kind)
		fmt.Printf("parsed without execution\n")
		return nil
	}
	printStatementResult(res)
	return nil
}

// execOptions converts the exec flags into execution options.
func (e *ExecCmd) execOptions() (execOptions, error) {
	binds, err := parseNamedBinds(e.binds)
	if err != nil {
		return execOptions{}, err
	}
	fetchSize, err := e.rc.GetFetchSize()
	if err != nil {
		return execOptions{}, err
	}
	return execOptions{
		binds:     binds,
		params:    parseParams(e.params),
		fetchSize: fetchSize,
		maxRows:   e.maxRows,
		tag:       e.tag,
		commit:    e.commit,
		parseOnly: e.parseOnly,
		logger:    e.rc.GetLogger(),
	}, nil
}

// execOptions carries everything executeStatement needs besides the
// statement text.
type execOptions struct {
	binds      map[string]any
	params     []any
	fetchSize  uint32
	maxRows    uint32
	tag        string
	commit     bool
	parseOnly  bool
	scrollable bool
	logger     *slog.Logger
}

// StatementResult is the outcome of one statement execution.
type StatementResult struct {
	Info         stmtengine.StatementInfo
	Columns      []stmtengine.ColumnInfo
	Rows         [][]any
	RowsAffected uint64
	// Truncated reports that max-rows stopped the fetch before the result
	// set was drained.
	Truncated bool
}

// executeStatement runs one statement through the engine and gathers the
// outcome. Queries are described and drained up to opts.maxRows; everything
// else reports its affected row count.
func executeStatement(ctx context.Context, sess calldb.Session, sql string, opts execOptions) (*StatementResult, error) {
	stmt, err := stmtengine.Prepare(ctx, sess, sql, stmtengine.Options{
		Scrollable: opts.scrollable,
		Tag:        opts.tag,
		Logger:     opts.logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = stmt.Close(ctx) }()

	if opts.fetchSize > 0 {
		if err := stmt.SetFetchArraySize(ctx, opts.fetchSize); err != nil {
			return nil, err
		}
	}
	for i, p := range opts.params {
		if err := stmt.BindValueByPos(ctx, uint32(i)+1, p); err != nil {
			return nil, err
		}
	}
	for name, v := range opts.binds {
		if err := stmt.BindValueByName(ctx, name, v); err != nil {
			return nil, err
		}
	}

	mode := calldb.ExecDefault
	if opts.parseOnly {
		mode |= calldb.ExecParseOnly
	}
	if opts.commit {
		mode |= calldb.ExecCommitOnSuccess
	}

	numCols, err := stmt.Execute(ctx, mode)
	if err != nil {
		return nil, err
	}
	info, err := stmt.Info(ctx)
	if err != nil {
		return nil, err
	}
	res := &StatementResult{Info: info}
	if opts.parseOnly {
		return res, nil
	}

	for pos := uint32(1); pos <= numCols; pos++ {
		ci, err := stmt.QueryColumnInfo(ctx, pos)
		if err != nil {
			return nil, err
		}
		res.Columns = append(res.Columns, ci)
	}
	if !info.IsQuery {
		affected, err := stmt.RowCount(ctx)
		if err != nil {
			return nil, err
		}
		res.RowsAffected = affected
		return res, nil
	}
	res.Rows, res.Truncated, err = drainRows(ctx, stmt, numCols, opts.maxRows)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// drainRows fetches up to maxRows rows (0 means all), reading every column
// of each. When a cap is hit, one further probe fetch reports whether rows
// remained.
func drainRows(ctx context.Context, stmt *stmtengine.Statement, numCols, maxRows uint32) ([][]any, bool, error) {
	var rows [][]any
	for maxRows == 0 || uint32(len(rows)) < maxRows {
		found, _, err := stmt.Fetch(ctx)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return rows, false, nil
		}
		row, err := readRow(ctx, stmt, numCols)
		if err != nil {
			return nil, false, err
		}
		rows = append(rows, row)
	}
	found, _, err := stmt.Fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	return rows, found, nil
}

// readRow reads every column of the row the statement is positioned on.
func readRow(ctx context.Context, stmt *stmtengine.Statement, numCols uint32) ([]any, error) {
	row := make([]any, numCols)
	for pos := uint32(1); pos <= numCols; pos++ {
		v, err := stmt.QueryValue(ctx, pos)
		if err != nil {
			return nil, err
		}
		row[pos-1] = v
	}
	return row, nil
}

// printStatementResult writes the outcome in the order a reader scans for:
// statement class, then columns, then rows or the affected count.
func printStatementResult(res *StatementResult) {
	fmt.Printf("statement: %s\n", res.Info.Kind)
	if len(res.Columns) > 0 {
		cols := make([]string, len(res.Columns))
		for i, c := range res.Columns {
			cols[i] = fmt.Sprintf("%s %s", c.Name, c.DataType)
		}
		fmt.Printf("columns: %s\n", strings.Join(cols, ", "))
	}
	for _, row := range res.Rows {
		fmt.Printf("row: %s\n", formatRow(row))
	}
	if res.Info.IsQuery {
		if res.Truncated {
			fmt.Printf("%d rows fetched (more available)\n", len(res.Rows))
		} else {
			fmt.Printf("%d rows fetched\n", len(res.Rows))
		}
	} else {
		fmt.Printf("%d rows affected\n", res.RowsAffected)
	}
}

// formatRow renders one fetched row for display.
func formatRow(row []any) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = formatValue(v)
	}
	return strings.Join(parts, ", ")
}

// formatValue renders one column value; byte slices print as text and NULL
// prints uppercase.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}
