package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/userstream-go/core/es"
	"github.com/codewandler/userstream-go/core/metrics"
)

// esMetrics implements es.Metrics using Prometheus.
type esMetrics struct {
	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec
	eventsAppended       *prometheus.CounterVec

	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec

	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec

	consumerHandleDuration *prometheus.HistogramVec
	consumerEvents         *prometheus.CounterVec
	consumerLagged         *prometheus.CounterVec
	consumerLive           *prometheus.GaugeVec
}

// NewESMetrics creates and registers the event-sourcing metric set.
func NewESMetrics(reg prometheus.Registerer) es.Metrics {
	m := &esMetrics{
		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "userstream_es_repo_load_duration_seconds",
			Help:    "Aggregate hydration latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "userstream_es_repo_save_duration_seconds",
			Help:    "Aggregate save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userstream_es_concurrency_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userstream_es_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type"}),

		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "userstream_es_store_load_duration_seconds",
			Help:    "Event store load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "userstream_es_store_append_duration_seconds",
			Help:    "Event store append latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "userstream_es_snapshot_load_duration_seconds",
			Help:    "Snapshot load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "userstream_es_snapshot_save_duration_seconds",
			Help:    "Snapshot save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		consumerHandleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "userstream_es_consumer_handle_duration_seconds",
			Help:    "Event handling time in seconds",
			Buckets: defaultBuckets,
		}, []string{"consumer"}),

		consumerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userstream_es_consumer_events_total",
			Help: "Total number of events processed",
		}, []string{"consumer"}),

		consumerLagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userstream_es_consumer_lagged_total",
			Help: "Total number of times a consumer fell back to catch-up",
		}, []string{"consumer"}),

		consumerLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "userstream_es_consumer_live",
			Help: "1 while the consumer is caught up, 0 during replay",
		}, []string{"consumer"}),
	}

	reg.MustRegister(
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.concurrencyConflicts,
		m.eventsAppended,
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.consumerHandleDuration,
		m.consumerEvents,
		m.consumerLagged,
		m.consumerLive,
	)
	return m
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) EventsAppended(aggType string, n int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(n))
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) ConsumerHandleDuration(consumer string) metrics.Timer {
	return newTimer(m.consumerHandleDuration.WithLabelValues(consumer))
}

func (m *esMetrics) ConsumerEventsProcessed(consumer string, n int) {
	m.consumerEvents.WithLabelValues(consumer).Add(float64(n))
}

func (m *esMetrics) ConsumerLagged(consumer string) {
	m.consumerLagged.WithLabelValues(consumer).Inc()
}

func (m *esMetrics) ConsumerLive(consumer string, live bool) {
	v := 0.0
	if live {
		v = 1
	}
	m.consumerLive.WithLabelValues(consumer).Set(v)
}

var _ es.Metrics = (*esMetrics)(nil)
