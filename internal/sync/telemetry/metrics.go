package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"firestore-sync/internal/shared/eventbus"
	"firestore-sync/internal/sync/domain/model"
	"firestore-sync/internal/sync/usecase"
)

const (
	namespace = "firestore_sync"

	resultSuccess = "success"
	resultFailed  = "failed"
	resultDropped = "dropped"
)

// Metrics turns pipeline events into Prometheus series on a private registry
type Metrics struct {
	registry *prometheus.Registry

	ChangesRecorded     *prometheus.CounterVec
	ChangesDropped      *prometheus.CounterVec
	ConsolidationRuns   *prometheus.CounterVec
	ConsolidationRows   *prometheus.CounterVec
	ConsolidationDocs   *prometheus.HistogramVec
	ChangelogTrimmed    *prometheus.CounterVec
	LastCheckpoint      *prometheus.GaugeVec
	BackfillPages       *prometheus.CounterVec
	BackfillRows        *prometheus.CounterVec
	BackfillSkippedDocs *prometheus.CounterVec
}

// NewMetrics registers every series, labelled with the instance id, plus the
// Go runtime and process collectors
func NewMetrics(instanceID string) *Metrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"instance_id": instanceID}

	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
		registry.MustRegister(vec)
		return vec
	}

	m := &Metrics{
		registry: registry,

		ChangesRecorded: counter("recorder", "changes_recorded_total",
			"Change events appended to a tracker log", "config_id", "change_type"),
		ChangesDropped: counter("recorder", "changes_dropped_total",
			"Change events dropped before reaching a tracker log", "config_id", "reason"),

		ConsolidationRuns: counter("consolidation", "runs_total",
			"Consolidation runs by result", "config_id", "result"),
		ConsolidationRows: counter("consolidation", "rows_total",
			"Main table rows written by consolidation", "config_id", "operation"),
		ChangelogTrimmed: counter("consolidation", "changelog_trimmed_total",
			"Tracker log entries removed by retention", "config_id"),

		BackfillPages: counter("backfill", "pages_total",
			"Backfill pages by result", "config_id", "result"),
		BackfillRows: counter("backfill", "rows_total",
			"Rows bulk-inserted by backfill", "config_id"),
		BackfillSkippedDocs: counter("backfill", "skipped_documents_total",
			"Documents skipped during backfill", "config_id"),
	}

	m.ConsolidationDocs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   "consolidation",
		Name:        "window_documents",
		Help:        "Distinct documents changed per consolidation window",
		Buckets:     prometheus.ExponentialBuckets(1, 4, 10),
		ConstLabels: constLabels,
	}, []string{"config_id"})
	m.LastCheckpoint = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "consolidation",
		Name:        "checkpoint_timestamp_seconds",
		Help:        "End of the last successfully consolidated window",
		ConstLabels: constLabels,
	}, []string{"config_id"})
	registry.MustRegister(m.ConsolidationDocs, m.LastCheckpoint)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Subscribe wires the metrics to the pipeline events on bus
func (m *Metrics) Subscribe(bus eventbus.EventBusInterface) {
	bus.Subscribe(eventbus.EventTypeChangeRecorded, m.onChangeRecorded)
	bus.Subscribe(eventbus.EventTypeChangeDropped, m.onChangeDropped)
	bus.Subscribe(eventbus.EventTypeConsolidationCompleted, m.onConsolidation)
	bus.Subscribe(eventbus.EventTypeConsolidationFailed, m.onConsolidation)
	bus.Subscribe(eventbus.EventTypeBackfillPage, m.onBackfillPage)
}

func (m *Metrics) onChangeRecorded(_ context.Context, event eventbus.Event) error {
	data, ok := event.Data().(usecase.ChangeRecorded)
	if !ok {
		return nil
	}
	m.ChangesRecorded.WithLabelValues(data.ConfigID, string(data.ChangeType)).Inc()
	return nil
}

func (m *Metrics) onChangeDropped(_ context.Context, event eventbus.Event) error {
	data, ok := event.Data().(usecase.ChangeRecorded)
	if !ok {
		return nil
	}
	m.ChangesDropped.WithLabelValues(data.ConfigID, data.Reason).Inc()
	return nil
}

func (m *Metrics) onConsolidation(_ context.Context, event eventbus.Event) error {
	result, ok := event.Data().(model.ConsolidationResult)
	if !ok {
		return nil
	}
	if event.Type() == eventbus.EventTypeConsolidationFailed {
		m.ConsolidationRuns.WithLabelValues(result.ConfigID, resultFailed).Inc()
		return nil
	}

	m.ConsolidationRuns.WithLabelValues(result.ConfigID, resultSuccess).Inc()
	m.ConsolidationRows.WithLabelValues(result.ConfigID, "insert").Add(float64(result.Inserted))
	m.ConsolidationRows.WithLabelValues(result.ConfigID, "update").Add(float64(result.Updated))
	m.ConsolidationRows.WithLabelValues(result.ConfigID, "delete").Add(float64(result.Deleted))
	m.ChangelogTrimmed.WithLabelValues(result.ConfigID).Add(float64(result.Trimmed))
	m.ConsolidationDocs.WithLabelValues(result.ConfigID).Observe(float64(result.Documents))
	m.LastCheckpoint.WithLabelValues(result.ConfigID).Set(float64(result.WindowEnd.UnixNano()) / 1e9)
	return nil
}

func (m *Metrics) onBackfillPage(_ context.Context, event eventbus.Event) error {
	page, ok := event.Data().(usecase.BackfillPage)
	if !ok {
		return nil
	}
	result := resultSuccess
	if page.Dropped {
		result = resultDropped
	} else {
		m.BackfillRows.WithLabelValues(page.ConfigID).Add(float64(page.Rows))
	}
	m.BackfillPages.WithLabelValues(page.ConfigID, result).Inc()
	m.BackfillSkippedDocs.WithLabelValues(page.ConfigID).Add(float64(page.Skipped))
	return nil
}
