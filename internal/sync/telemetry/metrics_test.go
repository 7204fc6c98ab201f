package telemetry

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestore-sync/internal/shared/eventbus"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
	"firestore-sync/internal/sync/usecase"
)

func newSubscribedMetrics(t *testing.T) (*Metrics, *eventbus.EventBus) {
	t.Helper()
	m := NewMetrics("test")
	bus := eventbus.NewEventBus(logger.NewNopLogger())
	m.Subscribe(bus)
	return m, bus
}

func publish(t *testing.T, bus *eventbus.EventBus, eventType string, data interface{}) {
	t.Helper()
	require.NoError(t, bus.Publish(context.Background(), eventbus.NewBasicEvent(eventType, data, "test")))
}

func TestMetrics_RecorderEvents(t *testing.T) {
	m, bus := newSubscribedMetrics(t)

	publish(t, bus, eventbus.EventTypeChangeRecorded, usecase.ChangeRecorded{ConfigID: "users", ChangeType: model.ChangeTypeCreated})
	publish(t, bus, eventbus.EventTypeChangeRecorded, usecase.ChangeRecorded{ConfigID: "users", ChangeType: model.ChangeTypeCreated})
	publish(t, bus, eventbus.EventTypeChangeDropped, usecase.ChangeRecorded{Reason: "resolve"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChangesRecorded.WithLabelValues("users", "CREATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChangesDropped.WithLabelValues("", "resolve")))
}

func TestMetrics_ConsolidationEvents(t *testing.T) {
	m, bus := newSubscribedMetrics(t)
	end := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	publish(t, bus, eventbus.EventTypeConsolidationCompleted, model.ConsolidationResult{
		ConfigID: "users", WindowEnd: end, Documents: 5, Inserted: 2, Updated: 1, Deleted: 1, Trimmed: 7,
	})
	publish(t, bus, eventbus.EventTypeConsolidationFailed, model.ConsolidationResult{ConfigID: "users"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsolidationRuns.WithLabelValues("users", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsolidationRuns.WithLabelValues("users", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsolidationRows.WithLabelValues("users", "insert")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ChangelogTrimmed.WithLabelValues("users")))
	assert.Equal(t, float64(end.Unix()), testutil.ToFloat64(m.LastCheckpoint.WithLabelValues("users")))
}

func TestMetrics_BackfillEvents(t *testing.T) {
	m, bus := newSubscribedMetrics(t)

	publish(t, bus, eventbus.EventTypeBackfillPage, usecase.BackfillPage{ConfigID: "users", Page: 1, Rows: 3, Skipped: 1})
	publish(t, bus, eventbus.EventTypeBackfillPage, usecase.BackfillPage{ConfigID: "users", Page: 2, Rows: 4, Dropped: true})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackfillPages.WithLabelValues("users", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackfillPages.WithLabelValues("users", "dropped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BackfillRows.WithLabelValues("users")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackfillSkippedDocs.WithLabelValues("users")))
}

func TestMetrics_IgnoresForeignPayloads(t *testing.T) {
	m, bus := newSubscribedMetrics(t)
	publish(t, bus, eventbus.EventTypeChangeRecorded, "not a payload")
	assert.Equal(t, 0, testutil.CollectAndCount(m.ChangesRecorded))
}

func TestMetrics_Handler(t *testing.T) {
	m, bus := newSubscribedMetrics(t)
	publish(t, bus, eventbus.EventTypeChangeRecorded, usecase.ChangeRecorded{ConfigID: "users", ChangeType: model.ChangeTypeDeleted})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `firestore_sync_recorder_changes_recorded_total{change_type="DELETED",config_id="users",instance_id="test"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
