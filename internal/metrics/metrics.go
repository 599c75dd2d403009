// Package metrics exposes Prometheus collectors for dataset generation and
// record classification.
package metrics

import (
	"net/http"

	"github.com/liamcoop/perfrules/internal/logger"
	"github.com/liamcoop/perfrules/rules"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// runsTotal counts labeling passes by kind
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfrules_runs_total",
		Help: "Labeling runs by kind",
	}, []string{"kind"})

	// rowsLabeled counts labeled rows by kind and label
	rowsLabeled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfrules_rows_labeled_total",
		Help: "Rows labeled by run kind and label",
	}, []string{"kind", "label"})

	// rowsResampled counts rows whose label went through noise
	rowsResampled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perfrules_rows_resampled_total",
		Help: "Rows whose consolidated label was resampled by noise",
	})

	// rowsFallback counts rows labeled from the no-signal prior
	rowsFallback = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perfrules_rows_fallback_total",
		Help: "Rows on which no rule produced a score",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perfrules_run_duration_seconds",
		Help:    "Labeling run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"kind"})

	ruleSetsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perfrules_rule_sets_loaded",
		Help: "Compiled rule sets held in memory",
	})
)

func init() {
	counters := []struct {
		name, help string
		fn         func() float64
	}{
		{"perfrules_log_warnings_total", "Warnings logged, before sampling", func() float64 { return float64(logger.TotalWarnings.Load()) }},
		{"perfrules_log_errors_total", "Errors logged, before sampling", func() float64 { return float64(logger.TotalErrors.Load()) }},
		{"perfrules_http_4xx_total", "HTTP responses with a 4xx status", func() float64 { return float64(logger.Total4xxErrors.Load()) }},
		{"perfrules_http_400_total", "HTTP responses rejected as bad requests", func() float64 { return float64(logger.Total400Errors.Load()) }},
		{"perfrules_http_404_total", "HTTP responses for unknown rule sets or routes", func() float64 { return float64(logger.Total404Errors.Load()) }},
		{"perfrules_http_5xx_total", "HTTP responses with a 5xx status", func() float64 { return float64(logger.Total5xxErrors.Load()) }},
		{"perfrules_http_slow_requests_total", "HTTP requests slower than the warning threshold", func() float64 { return float64(logger.SlowRequests.Load()) }},
		{"perfrules_malformed_rules_total", "Rule entries skipped while loading rule documents", func() float64 { return float64(logger.MalformedRules.Load()) }},
	}
	for _, c := range counters {
		promauto.NewCounterFunc(prometheus.CounterOpts{Name: c.name, Help: c.help}, c.fn)
	}
}

// ObserveRun records the outcome of one labeling pass
func ObserveRun(kind rules.RunKind, dist rules.Distribution, resampled, fallbacks int, seconds float64) {
	k := string(kind)
	runsTotal.WithLabelValues(k).Inc()
	runDuration.WithLabelValues(k).Observe(seconds)
	for _, l := range []rules.Label{rules.LabelLow, rules.LabelMedium, rules.LabelHigh} {
		rowsLabeled.WithLabelValues(k, l.String()).Add(float64(dist.Count(l)))
	}
	rowsResampled.Add(float64(resampled))
	rowsFallback.Add(float64(fallbacks))
}

// SetRuleSetsLoaded reports the size of the compiled engine cache
func SetRuleSetsLoaded(n int) {
	ruleSetsLoaded.Set(float64(n))
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
