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

// Package stats exposes prometheus collectors for statement engine activity.
// Collectors live in a package-level registry so recording never needs an
// initialization step; binaries mount Handler on their debug listener.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rowcall"

var registry = prometheus.NewRegistry()

var (
	preparesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statement_prepares_total",
			Help:      "Statements prepared against a session",
		},
	)

	executesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statement_executes_total",
			Help:      "Statement executions by statement kind and outcome",
		},
		[]string{"kind", "status"},
	)

	fetchRoundTripsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_round_trips_total",
			Help:      "Fetch calls that reached the server",
		},
	)

	rowsFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_fetched_total",
			Help:      "Rows materialized into client buffers",
		},
	)

	scrollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrolls_total",
			Help:      "Scroll operations, split by in-window repositions and server fetches",
		},
		[]string{"kind"},
	)

	recoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reexecute_recoveries_total",
			Help:      "Stale-metadata re-prepare recoveries by outcome",
		},
		[]string{"status"},
	)

	batchErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_errors_collected_total",
			Help:      "Per-row errors collected from batch DML executions",
		},
	)

	openStatements = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_statements",
			Help:      "Statements currently open",
		},
	)

	rowsPerFetch = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rows_per_fetch",
			Help:      "Rows returned per server fetch call",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)
)

func init() {
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(
		preparesTotal,
		executesTotal,
		fetchRoundTripsTotal,
		rowsFetchedTotal,
		scrollsTotal,
		recoveriesTotal,
		batchErrorsTotal,
		openStatements,
		rowsPerFetch,
	)
}

// RecordPrepare records one successful statement preparation.
func RecordPrepare() {
	preparesTotal.Inc()
	openStatements.Inc()
}

// RecordClose records one statement close.
func RecordClose() {
	openStatements.Dec()
}

// RecordExecute records an execution attempt for a statement kind.
func RecordExecute(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	executesTotal.WithLabelValues(kind, status).Inc()
}

// RecordFetch records a server fetch call and the rows it returned.
func RecordFetch(rows uint32) {
	fetchRoundTripsTotal.Inc()
	rowsFetchedTotal.Add(float64(rows))
	rowsPerFetch.Observe(float64(rows))
}

// RecordScroll records a scroll operation. reposition is true when the target
// row was already buffered and no server call was needed.
func RecordScroll(reposition bool) {
	kind := "server"
	if reposition {
		kind = "reposition"
	}
	scrollsTotal.WithLabelValues(kind).Inc()
}

// RecordRecovery records a re-prepare recovery attempt and its outcome.
func RecordRecovery(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	recoveriesTotal.WithLabelValues(status).Inc()
}

// RecordBatchErrors records how many per-row errors a batch execution
// collected.
func RecordBatchErrors(n int) {
	batchErrorsTotal.Add(float64(n))
}

// Handler returns the scrape handler for the package registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry returns the package registry for custom collectors.
func Registry() *prometheus.Registry {
	return registry
}
