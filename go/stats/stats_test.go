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

package stats

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExecuteStatus(t *testing.T) {
	before := testutil.ToFloat64(executesTotal.WithLabelValues("select", "ok"))
	RecordExecute("select", nil)
	RecordExecute("select", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(executesTotal.WithLabelValues("select", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(executesTotal.WithLabelValues("select", "error")))
}

func TestOpenStatementsGauge(t *testing.T) {
	before := testutil.ToFloat64(openStatements)
	RecordPrepare()
	RecordPrepare()
	RecordClose()
	assert.Equal(t, before+1, testutil.ToFloat64(openStatements))
}

func TestScrollSplit(t *testing.T) {
	RecordScroll(true)
	RecordScroll(false)
	assert.GreaterOrEqual(t, testutil.ToFloat64(scrollsTotal.WithLabelValues("reposition")), float64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(scrollsTotal.WithLabelValues("server")), float64(1))
}

func TestHandlerServesRegistry(t *testing.T) {
	RecordFetch(7)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
