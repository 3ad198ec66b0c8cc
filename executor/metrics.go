package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/geopatch/workflow"
)

// WithPrometheus registers executor metrics on the given registerer
func WithPrometheus(reg prometheus.Registerer, namespace string) Option {
	return func(e *Executor) error {
		e.metrics = newMetrics(reg, namespace)
		return nil
	}
}

type metrics struct {
	executionsTotal   prometheus.Counter
	executionsFailed  prometheus.Counter
	executionDuration prometheus.Histogram
	nodesTotal        *prometheus.CounterVec
	batchSize         prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	m := &metrics{
		executionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Workflow executions finished",
		}),
		executionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executions_failed_total",
			Help:      "Workflow executions that failed",
		}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of workflow executions",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		nodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "nodes_total",
			Help:      "Node results by status",
		}, []string{"status"}),
		batchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "batch_size",
			Help:      "Size of the current execution batch",
		}),
	}
	reg.MustRegister(m.executionsTotal, m.executionsFailed, m.executionDuration, m.nodesTotal, m.batchSize)
	return m
}

func (m *metrics) batchStarted(size int) {
	m.batchSize.Set(float64(size))
}

func (m *metrics) executionFinished(r *workflow.Results, elapsed time.Duration) {
	m.executionsTotal.Inc()
	m.executionDuration.Observe(elapsed.Seconds())
	if r == nil || !r.Succeeded() {
		m.executionsFailed.Inc()
	}
	if r == nil {
		return
	}
	for _, nr := range r.Nodes {
		m.nodesTotal.WithLabelValues(nr.Status.String()).Inc()
	}
}
