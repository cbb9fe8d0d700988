package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orderflow/internal/logging"
)

const namespace = "orderflow"

// Registry holds the pipeline metrics, all labelled by stream. Recording never fails the caller.
type Registry struct {
	reg    *prometheus.Registry
	logger *zap.Logger

	Processed       *prometheus.CounterVec
	Latency         *prometheus.HistogramVec
	DeadLettered    *prometheus.CounterVec
	Published       *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
}

func NewRegistry(l *zap.Logger) *Registry {
	r := prometheus.NewRegistry()
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_processed_total",
		Help:      "Orders persisted after validation and enrichment.",
	}, []string{"stream"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_processing_seconds",
		Help:      "Time from validation start to persistence completion.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stream"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_dead_lettered_total",
		Help:      "Orders rejected by validation.",
	}, []string{"stream"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_published_total",
		Help:      "Orders handed to the transport successfully.",
	}, []string{"stream"})
	publishFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_publish_failures_total",
		Help:      "Orders the transport rejected.",
	}, []string{"stream"})

	r.MustRegister(
		processed, latency, deadLettered, published, publishFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:             r,
		logger:          logging.OrNop(l).With(zap.String("component", "metrics")),
		Processed:       processed,
		Latency:         latency,
		DeadLettered:    deadLettered,
		Published:       published,
		PublishFailures: publishFailures,
	}
}

// safely runs fn and swallows a panic from the collector.
func (r *Registry) safely(metric string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("metric recording failed", zap.String("metric", metric), zap.Any("panic", p))
		}
	}()
	fn()
}

func (r *Registry) RecordProcessed(stream string) {
	r.safely("processed", func() { r.Processed.WithLabelValues(stream).Inc() })
}

func (r *Registry) RecordLatency(stream string, d time.Duration) {
	r.safely("latency", func() { r.Latency.WithLabelValues(stream).Observe(d.Seconds()) })
}

func (r *Registry) RecordDeadLettered(stream string) {
	r.safely("dead_lettered", func() { r.DeadLettered.WithLabelValues(stream).Inc() })
}

func (r *Registry) RecordPublished(stream string) {
	r.safely("published", func() { r.Published.WithLabelValues(stream).Inc() })
}

func (r *Registry) RecordPublishFailure(stream string) {
	r.safely("publish_failures", func() { r.PublishFailures.WithLabelValues(stream).Inc() })
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
