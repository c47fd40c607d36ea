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
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rowcall/rowcall/go/calldb"
	"github.com/rowcall/rowcall/go/fakecalldb"
	"github.com/rowcall/rowcall/go/stmtengine"
)

// Script is the YAML document the script command replays: an optional
// backend selection, a statement catalog for the fake driver, seed
// statements for live drivers, and the steps to run in order.
type Script struct {
	Backend BackendSpec   `yaml:"backend"`
	Catalog []CatalogSpec `yaml:"catalog"`
	Seed    []string      `yaml:"seed"`
	Steps   []StepSpec    `yaml:"steps"`
}

// BackendSpec overrides the driver flags for one script.
type BackendSpec struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CatalogSpec registers one canned statement with the fake driver.
type CatalogSpec struct {
	SQL     string       `yaml:"sql"`
	Columns []ColumnSpec `yaml:"columns"`
	Rows    [][]any      `yaml:"rows"`
	// RowsAffected is the affected count a DML execution reports; zero
	// means one row per iteration.
	RowsAffected uint64 `yaml:"rows_affected"`
	// IterationErrors injects per-iteration failures into batch
	// executions, keyed by 0-based iteration.
	IterationErrors map[uint32]uint32 `yaml:"iteration_errors"`
}

// ColumnSpec describes one output column of a catalog entry.
type ColumnSpec struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Precision int16  `yaml:"precision"`
	Scale     int8   `yaml:"scale"`
	Size      uint32 `yaml:"size"`
	NullOK    bool   `yaml:"null_ok"`
}

// StepSpec is one engine interaction. Params bind by position and Binds by
// name; Rows turns the step into a batch execution with one iteration per
// entry, each entry binding its values by name.
type StepSpec struct {
	Name        string           `yaml:"name"`
	SQL         string           `yaml:"sql"`
	Params      []any            `yaml:"params"`
	Binds       map[string]any   `yaml:"binds"`
	Rows        []map[string]any `yaml:"rows"`
	BatchErrors bool             `yaml:"batch_errors"`
	Commit      bool             `yaml:"commit"`
	Tag         string           `yaml:"tag"`
	FetchSize   uint32           `yaml:"fetch_size"`
	MaxRows     uint32           `yaml:"max_rows"`
	Scrollable  bool             `yaml:"scrollable"`
	Scroll      []ScrollSpec     `yaml:"scroll"`
}

// ScrollSpec repositions a scrollable cursor after the step's fetch pass;
// the row landed on is reported with the step outcome.
type ScrollSpec struct {
	Mode   string `yaml:"mode"`
	Offset int32  `yaml:"offset"`
}

// ScriptCmd holds the script command configuration
type ScriptCmd struct {
	rc *RowCallCommand
}

// AddScriptCommand adds the script subcommand to root
func AddScriptCommand(root *cobra.Command, rc *RowCallCommand) {
	s := &ScriptCmd{rc: rc}
	root.AddCommand(s.createCommand())
}

func (s *ScriptCmd) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "script <file>",
		Short: "Replay a YAML script of statement executions",
		Long: `Script reads a YAML file describing a sequence of statement executions and
replays it through the engine. Scripts carrying a statement catalog run
against the fake backend without any database; scripts with seed statements
run against the configured driver.`,
		Args: cobra.ExactArgs(1),
		RunE: s.runScript,
	}
}

func (s *ScriptCmd) runScript(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	script, err := loadScript(s.rc.fs, args[0])
	if err != nil {
		return err
	}
	fetchSize, err := s.rc.GetFetchSize()
	if err != nil {
		return err
	}
	sess, err := s.openScriptSession(ctx, script)
	if err != nil {
		return err
	}
	defer sess.Release()

	logger := s.rc.GetLogger()
	for i, seed := range script.Seed {
		if _, err := executeStatement(ctx, sess, seed, execOptions{logger: logger}); err != nil {
			return fmt.Errorf("seed statement %d failed: %w", i+1, err)
		}
	}

	results, err := runSteps(ctx, sess, script.Steps, fetchSize, logger)
	for i, res := range results {
		printStepResult(i, res)
	}
	return err
}

// openScriptSession opens the backend a script asks for, falling back to
// the driver flags when the script has no backend section.
func (s *ScriptCmd) openScriptSession(ctx context.Context, script *Script) (calldb.Session, error) {
	driver := script.Backend.Driver
	if driver == "" {
		driver = s.rc.driver.Get()
	}
	if driver == driverFake {
		if len(script.Seed) > 0 {
			return nil, fmt.Errorf("seed statements need a live driver; the fake driver serves its catalog instead")
		}
		if len(script.Catalog) == 0 {
			return nil, fmt.Errorf("the %s driver needs a catalog section", driverFake)
		}
		db, err := buildFakeDB(script.Catalog)
		if err != nil {
			return nil, err
		}
		return db.NewSession(calldb.APIModern), nil
	}
	if len(script.Catalog) > 0 {
		return nil, fmt.Errorf("catalog sections only apply to the %s driver", driverFake)
	}
	dsn := script.Backend.DSN
	if dsn == "" {
		dsn = s.rc.dsn.Get()
	}
	return s.rc.connect(ctx, driver, dsn)
}

// loadScript reads and decodes a script file.
func loadScript(fs afero.Fs, path string) (*Script, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file %s: %w", path, err)
	}
	script := &Script{}
	if err := yaml.Unmarshal(data, script); err != nil {
		return nil, fmt.Errorf("failed to parse script file %s: %w", path, err)
	}
	if len(script.Steps) == 0 {
		return nil, fmt.Errorf("script %s has no steps", path)
	}
	return script, nil
}

// buildFakeDB registers the script catalog with a fake backend.
func buildFakeDB(catalog []CatalogSpec) (*fakecalldb.DB, error) {
	db := fakecalldb.New(nil)
	for _, entry := range catalog {
		if entry.SQL == "" {
			return nil, fmt.Errorf("catalog entry has no sql")
		}
		result := &fakecalldb.ExpectedResult{
			Rows:            entry.Rows,
			RowsAffected:    entry.RowsAffected,
			IterationErrors: entry.IterationErrors,
		}
		for _, c := range entry.Columns {
			dataType, err := parseDataType(c.Type)
			if err != nil {
				return nil, fmt.Errorf("catalog entry %q: %w", entry.SQL, err)
			}
			result.Columns = append(result.Columns, fakecalldb.Column{
				Name:      c.Name,
				Type:      dataType,
				Precision: c.Precision,
				Scale:     c.Scale,
				Size:      c.Size,
				NullOK:    c.NullOK,
			})
		}
		db.AddQuery(entry.SQL, result)
	}
	return db, nil
}

// parseDataType maps a catalog column type name onto its declared type.
func parseDataType(s string) (calldb.DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "varchar":
		return calldb.TypeVarchar, nil
	case "nvarchar":
		return calldb.TypeNVarchar, nil
	case "char":
		return calldb.TypeChar, nil
	case "nchar":
		return calldb.TypeNChar, nil
	case "raw":
		return calldb.TypeRaw, nil
	case "number":
		return calldb.TypeNumber, nil
	case "int", "native_int":
		return calldb.TypeNativeInt, nil
	case "float", "native_float":
		return calldb.TypeNativeFloat, nil
	case "date":
		return calldb.TypeDate, nil
	case "timestamp":
		return calldb.TypeTimestamp, nil
	case "timestamp_tz":
		return calldb.TypeTimestampTZ, nil
	case "rowid":
		return calldb.TypeRowID, nil
	case "long":
		return calldb.TypeLong, nil
	case "long_raw":
		return calldb.TypeLongRaw, nil
	case "clob":
		return calldb.TypeCLOB, nil
	case "nclob":
		return calldb.TypeNCLOB, nil
	case "blob":
		return calldb.TypeBLOB, nil
	case "bool", "boolean":
		return calldb.TypeBoolean, nil
	}
	return 0, fmt.Errorf("unknown column type %q", s)
}

// parseFetchMode maps a script scroll mode onto a cursor repositioning
// mode.
func parseFetchMode(s string) (calldb.FetchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "next":
		return calldb.FetchNext, nil
	case "first":
		return calldb.FetchFirst, nil
	case "last":
		return calldb.FetchLast, nil
	case "prior":
		return calldb.FetchPrior, nil
	case "absolute":
		return calldb.FetchAbsolute, nil
	case "relative":
		return calldb.FetchRelative, nil
	}
	return 0, fmt.Errorf("unknown scroll mode %q", s)
}

// StepResult is the outcome of one script step.
type StepResult struct {
	Name      string
	Statement *StatementResult
	// BatchErrors are the per-iteration failures a batch execution
	// collected.
	BatchErrors []stmtengine.BatchError
	Scrolls     []ScrollResult
}

// ScrollResult records where one scroll operation landed. Row is nil when
// the cursor moved outside the result set.
type ScrollResult struct {
	Mode   string
	Offset int32
	Row    []any
}

// runSteps replays the script steps in order. The results of the steps
// completed so far are returned even when a step fails, so partial output
// still gets printed.
func runSteps(ctx context.Context, sess calldb.Session, steps []StepSpec, fetchSize uint32, logger *slog.Logger) ([]*StepResult, error) {
	var results []*StepResult
	for i, step := range steps {
		res, err := runStep(ctx, sess, step, fetchSize, logger)
		if err != nil {
			name := step.Name
			if name == "" {
				name = fmt.Sprintf("step %d", i+1)
			}
			return results, fmt.Errorf("%s failed: %w", name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// runStep executes one script step: prepare, bind, execute or batch
// execute, fetch, and reposition for each scroll operation.
func runStep(ctx context.Context, sess calldb.Session, step StepSpec, fetchSize uint32, logger *slog.Logger) (*StepResult, error) {
	if step.SQL == "" {
		return nil, fmt.Errorf("step has no sql")
	}
	if len(step.Scroll) > 0 && !step.Scrollable {
		return nil, fmt.Errorf("scroll operations need scrollable: true")
	}
	if len(step.Rows) > 0 {
		return runBatchStep(ctx, sess, step, logger)
	}

	stmt, err := stmtengine.Prepare(ctx, sess, step.SQL, stmtengine.Options{
		Scrollable: step.Scrollable,
		Tag:        step.Tag,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = stmt.Close(ctx) }()

	if step.FetchSize == 0 {
		step.FetchSize = fetchSize
	}
	if step.FetchSize > 0 {
		if err := stmt.SetFetchArraySize(ctx, step.FetchSize); err != nil {
			return nil, err
		}
	}
	for i, p := range step.Params {
		if err := stmt.BindValueByPos(ctx, uint32(i)+1, p); err != nil {
			return nil, err
		}
	}
	for name, v := range step.Binds {
		if err := stmt.BindValueByName(ctx, name, v); err != nil {
			return nil, err
		}
	}

	mode := calldb.ExecDefault
	if step.Commit {
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

	res := &StepResult{Name: step.Name, Statement: &StatementResult{Info: info}}
	if !info.IsQuery {
		affected, err := stmt.RowCount(ctx)
		if err != nil {
			return nil, err
		}
		res.Statement.RowsAffected = affected
		return res, nil
	}

	for pos := uint32(1); pos <= numCols; pos++ {
		ci, err := stmt.QueryColumnInfo(ctx, pos)
		if err != nil {
			return nil, err
		}
		res.Statement.Columns = append(res.Statement.Columns, ci)
	}
	res.Statement.Rows, res.Statement.Truncated, err = drainRows(ctx, stmt, numCols, step.MaxRows)
	if err != nil {
		return nil, err
	}

	for _, sc := range step.Scroll {
		fetchMode, err := parseFetchMode(sc.Mode)
		if err != nil {
			return nil, err
		}
		if err := stmt.Scroll(ctx, fetchMode, sc.Offset, 0); err != nil {
			return nil, err
		}
		found, _, err := stmt.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		var row []any
		if found {
			if row, err = readRow(ctx, stmt, numCols); err != nil {
				return nil, err
			}
		}
		res.Scrolls = append(res.Scrolls, ScrollResult{Mode: sc.Mode, Offset: sc.Offset, Row: row})
	}
	return res, nil
}

// runBatchStep executes one step's rows as a single batch: every bind name
// becomes an array variable holding one element per row.
func runBatchStep(ctx context.Context, sess calldb.Session, step StepSpec, logger *slog.Logger) (*StepResult, error) {
	stmt, err := stmtengine.Prepare(ctx, sess, step.SQL, stmtengine.Options{
		Tag:    step.Tag,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = stmt.Close(ctx) }()

	if err := bindRowArrays(ctx, sess, stmt, step.Rows); err != nil {
		return nil, err
	}

	mode := calldb.ExecDefault
	if step.Commit {
		mode |= calldb.ExecCommitOnSuccess
	}
	if step.BatchErrors {
		mode |= calldb.ExecBatchErrors
	}
	if err := stmt.ExecuteMany(ctx, mode, uint32(len(step.Rows))); err != nil {
		return nil, err
	}

	info, err := stmt.Info(ctx)
	if err != nil {
		return nil, err
	}
	affected, err := stmt.RowCount(ctx)
	if err != nil {
		return nil, err
	}
	res := &StepResult{
		Name:      step.Name,
		Statement: &StatementResult{Info: info, RowsAffected: affected},
	}
	if step.BatchErrors {
		n, err := stmt.BatchErrorCount(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			buf := make([]stmtengine.BatchError, n)
			if _, err := stmt.BatchErrors(ctx, buf); err != nil {
				return nil, err
			}
			res.BatchErrors = buf
		}
	}
	return res, nil
}

// bindRowArrays allocates one array variable per bind name across the
// step's rows and binds it, so a single round trip carries every iteration.
// A name missing from a row binds NULL for that iteration.
func bindRowArrays(ctx context.Context, sess calldb.Session, stmt *stmtengine.Statement, rows []map[string]any) error {
	n := uint32(len(rows))
	var names []string
	seen := map[string]bool{}
	for _, row := range rows {
		for name := range row {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	for _, name := range names {
		values := make([]any, n)
		for i, row := range rows {
			values[i] = row[name]
		}
		dataType, size := arrayBindType(values)
		v, err := sess.NewVariable(ctx, calldb.VariableOptions{
			DataType:    dataType,
			ArraySize:   n,
			Size:        size,
			SizeIsBytes: true,
		})
		if err != nil {
			return fmt.Errorf("failed to allocate array bind %q: %w", name, err)
		}
		for i, value := range values {
			if err := v.SetValue(uint32(i), value); err != nil {
				v.Release()
				return fmt.Errorf("failed to set bind %q row %d: %w", name, i+1, err)
			}
		}
		v.SetActualCount(n)
		if err := stmt.BindByName(ctx, name, v); err != nil {
			v.Release()
			return fmt.Errorf("failed to bind %q: %w", name, err)
		}
		// The statement holds its own reference now.
		v.Release()
	}
	return nil
}

// arrayBindType picks a declared type wide enough for every value of one
// bind array. Strings dominate so mixed arrays still bind.
func arrayBindType(values []any) (calldb.DataType, uint32) {
	dataType := calldb.TypeUnknown
	size := uint32(1)
	for _, v := range values {
		switch t := v.(type) {
		case string:
			dataType = calldb.TypeVarchar
			if uint32(len(t)) > size {
				size = uint32(len(t))
			}
		case bool:
			if dataType == calldb.TypeUnknown {
				dataType = calldb.TypeBoolean
			}
		case int, int64:
			if dataType == calldb.TypeUnknown {
				dataType = calldb.TypeNativeInt
			}
		case float64:
			if dataType == calldb.TypeUnknown || dataType == calldb.TypeNativeInt {
				dataType = calldb.TypeNativeFloat
			}
		}
	}
	if dataType == calldb.TypeUnknown {
		dataType = calldb.TypeVarchar
	}
	return dataType, size
}

// printStepResult writes one step outcome.
func printStepResult(i int, res *StepResult) {
	name := res.Name
	if name == "" {
		name = fmt.Sprintf("step %d", i+1)
	}
	fmt.Printf("--- %s\n", name)
	if res.Statement != nil {
		printStatementResult(res.Statement)
	}
	for _, sc := range res.Scrolls {
		label := sc.Mode
		if sc.Offset != 0 {
			label = fmt.Sprintf("%s %d", sc.Mode, sc.Offset)
		}
		if sc.Row == nil {
			fmt.Printf("scroll %s: no row\n", label)
		} else {
			fmt.Printf("scroll %s: %s\n", label, formatRow(sc.Row))
		}
	}
	for _, be := range res.BatchErrors {
		fmt.Printf("batch error: row %d: code %d: %s\n", be.RowOffset, be.Error.Code, be.Error.Message)
	}
}
