// Package metrics exposes the service's Prometheus metrics and otel
// instrumentation, modeled on sentinel-x/internal/rag/metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kart-io/memory-mcp"

var tracer = otel.Tracer(tracerName)

// Registry bundles the Prometheus collectors the MCP adapter registers on
// its /metrics endpoint.
type Registry struct {
	OpLatency        *prometheus.HistogramVec
	OpTotal          *prometheus.CounterVec
	RebuildTotal     *prometheus.CounterVec
	DuplicateRunTotal *prometheus.CounterVec
}

// NewRegistry constructs and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		OpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memory_mcp",
			Name:      "operation_latency_seconds",
			Help:      "Latency of MemoryEngine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "persona"}),
		OpTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mcp",
			Name:      "operation_total",
			Help:      "Count of MemoryEngine operations by outcome.",
		}, []string{"op", "persona", "outcome"}),
		RebuildTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mcp",
			Name:      "vector_rebuild_total",
			Help:      "Count of vector index rebuild attempts by outcome.",
		}, []string{"persona", "outcome"}),
		DuplicateRunTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mcp",
			Name:      "duplicate_detector_run_total",
			Help:      "Count of duplicate-detector runs by outcome.",
		}, []string{"persona", "outcome"}),
	}
}

// ObserveOp records one operation's latency and outcome.
func (r *Registry) ObserveOp(op, persona string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.OpLatency.WithLabelValues(op, persona).Observe(time.Since(start).Seconds())
	r.OpTotal.WithLabelValues(op, persona, outcome).Inc()
}

// Meter exposes the otel metric.Meter for components that prefer
// instrument-based reporting over direct Prometheus collectors. No
// component in this module calls it.
func Meter() metric.Meter {
	return otel.Meter(tracerName)
}

// StartSpan opens a tracing span around a MemoryEngine or SearchPipeline
// call, modeled on sentinel-x/pkg/infra/tracing's request-scoped spans.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
