package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports execution metrics on a prometheus registry.
type PrometheusRecorder struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runDuration  prometheus.Histogram
	tests        *prometheus.CounterVec
	testDuration prometheus.Histogram
	boxesTotal   prometheus.Gauge
	boxesInUse   prometheus.Gauge
	boxesFree    prometheus.Gauge
}

// NewPrometheusRecorder registers the judgelet metric set on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "judgelet_runs_started_total",
			Help: "Streaming runs accepted.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judgelet_runs_finished_total",
			Help: "Streaming runs finished, by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "judgelet_run_duration_seconds",
			Help:    "Wall time of a whole streaming run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judgelet_tests_total",
			Help: "Classified test executions, by verdict status.",
		}, []string{"status"}),
		testDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "judgelet_test_duration_seconds",
			Help:    "Wall time of one test execution including sandbox setup.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		boxesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "judgelet_boxes_total",
			Help: "Configured sandbox box count.",
		}),
		boxesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "judgelet_boxes_in_use",
			Help: "Boxes currently held by executions.",
		}),
		boxesFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "judgelet_boxes_free",
			Help: "Boxes available for acquisition.",
		}),
	}
	reg.MustRegister(
		r.runsStarted, r.runsFinished, r.runDuration,
		r.tests, r.testDuration,
		r.boxesTotal, r.boxesInUse, r.boxesFree,
	)
	return r
}

func (r *PrometheusRecorder) RunStarted() {
	r.runsStarted.Inc()
}

func (r *PrometheusRecorder) TestFinished(status string, duration time.Duration) {
	r.tests.WithLabelValues(status).Inc()
	r.testDuration.Observe(duration.Seconds())
}

func (r *PrometheusRecorder) RunFinished(ok bool, duration time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	r.runsFinished.WithLabelValues(outcome).Inc()
	r.runDuration.Observe(duration.Seconds())
}

func (r *PrometheusRecorder) PoolState(total, inUse, free int) {
	r.boxesTotal.Set(float64(total))
	r.boxesInUse.Set(float64(inUse))
	r.boxesFree.Set(float64(free))
}

var _ MetricsRecorder = (*PrometheusRecorder)(nil)
