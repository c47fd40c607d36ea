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

package calldb

import "strings"

// ExecMode is a bitmask of execution options.
type ExecMode uint32

const (
	ExecDefault ExecMode = 0x0
	// ExecScrollableReadOnly is ORed in by the engine for statements opened
	// scrollable; callers never pass it themselves.
	ExecScrollableReadOnly ExecMode = 0x8
	ExecDescribeOnly       ExecMode = 0x10
	ExecCommitOnSuccess    ExecMode = 0x20
	ExecBatchErrors        ExecMode = 0x80
	ExecParseOnly          ExecMode = 0x100
	ExecArrayDMLRowCounts  ExecMode = 0x100000
)

func (m ExecMode) String() string {
	if m == ExecDefault {
		return "default"
	}
	var parts []string
	for _, f := range []struct {
		bit  ExecMode
		name string
	}{
		{ExecScrollableReadOnly, "scrollable-read-only"},
		{ExecDescribeOnly, "describe-only"},
		{ExecCommitOnSuccess, "commit-on-success"},
		{ExecBatchErrors, "batch-errors"},
		{ExecParseOnly, "parse-only"},
		{ExecArrayDMLRowCounts, "array-dml-row-counts"},
	} {
		if m&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// FetchMode selects the positioning of a fetch call on a scrollable cursor.
type FetchMode uint16

const (
	FetchNext     FetchMode = 0x2
	FetchFirst    FetchMode = 0x4
	FetchLast     FetchMode = 0x8
	FetchPrior    FetchMode = 0x10
	FetchAbsolute FetchMode = 0x20
	FetchRelative FetchMode = 0x40
)

var fetchModeNames = map[FetchMode]string{
	FetchNext:     "next",
	FetchFirst:    "first",
	FetchLast:     "last",
	FetchPrior:    "prior",
	FetchAbsolute: "absolute",
	FetchRelative: "relative",
}

func (m FetchMode) String() string {
	if s, ok := fetchModeNames[m]; ok {
		return s
	}
	return "unknown"
}

// APIVersion is the negotiated call-interface generation of a session,
// settled once at connect time.
type APIVersion uint8

const (
	// APILegacy limits row counts to 32 bits and has no per-iteration DML
	// row counts and no implicit results.
	APILegacy APIVersion = iota
	APIModern
)

func (v APIVersion) String() string {
	if v == APIModern {
		return "modern"
	}
	return "legacy"
}
