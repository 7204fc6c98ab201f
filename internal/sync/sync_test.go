package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/adapter/persistence"
	"firestore-sync/internal/sync/config"
	"firestore-sync/internal/sync/domain/model"
)

func newTestModule(t *testing.T) (*SyncModule, *persistence.MemoryWarehouse, *fiber.App) {
	t.Helper()
	wh := persistence.NewMemoryWarehouse()
	cfg := config.DefaultSyncConfig()
	cfg.InstanceID = "test"

	m, err := NewSyncModuleWithBackends(cfg, []model.CollectionConfig{{
		ID:              "users",
		CollectionPaths: []string{"users"},
		TableID:         "users",
		Fields: []model.FieldDefinition{
			{Name: "email", Type: model.FieldTypeString},
			{Name: "score", Type: model.FieldTypeNumeric},
		},
	}}, Backends{Tracker: wh, Table: wh, Checkpoints: wh, Source: wh}, logger.NewNopLogger())
	require.NoError(t, err)
	require.Empty(t, m.Skipped)

	app := fiber.New()
	m.RegisterRoutes(app)
	return m, wh, app
}

func post(t *testing.T, app *fiber.App, target, body string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func event(path string, before, after string, at time.Time) string {
	return fmt.Sprintf(`{"before":%s,"after":%s,"fullPath":%q,"timestamp":%q}`,
		before, after, path, at.UTC().Format(time.RFC3339Nano))
}

func TestSyncModule_IngestAndConsolidate(t *testing.T) {
	m, wh, app := newTestModule(t)
	now := time.Now()
	absent := `{"exists":false}`

	batch := "[" + strings.Join([]string{
		event("users/u1", absent, `{"exists":true,"data":{"email":"a@x.com","score":"3.14159"}}`, now.Add(-3*time.Minute)),
		event("users/u1", `{"exists":true,"data":{}}`, `{"exists":true,"data":{"email":"b@x.com"}}`, now.Add(-2*time.Minute)),
		event("users/u2", absent, `{"exists":true,"data":{"email":"c@x.com"}}`, now.Add(-2*time.Minute)),
		event("users/u2", `{"exists":true,"data":{}}`, absent, now.Add(-time.Minute)),
		event("products/p1", absent, `{"exists":true,"data":{}}`, now.Add(-time.Minute)),
	}, ",") + "]"

	ingested := post(t, app, "/v1/events", batch)
	assert.Equal(t, 4.0, ingested["recorded"])
	assert.Equal(t, 1.0, ingested["dropped"])

	result := post(t, app, "/v1/configs/users/consolidate", "")
	assert.Equal(t, 1.0, result["inserted"])

	cfg, ok := m.Resolver.Get("users")
	require.True(t, ok)
	rows := wh.Rows(&cfg.CollectionConfig)
	require.Contains(t, rows, "u1")
	assert.NotContains(t, rows, "u2")
	assert.Equal(t, model.String("b@x.com"), rows["u1"].Get("email"))

	checkpoint, err := wh.GetCheckpoint(context.Background(), "test", "users")
	require.NoError(t, err)
	assert.False(t, checkpoint.LastRunDate.Before(now))

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `firestore_sync_consolidation_runs_total{config_id="users",instance_id="test",result="success"} 1`)
	assert.Contains(t, string(body), `firestore_sync_recorder_changes_dropped_total`)
}

func TestSyncModule_Backfill(t *testing.T) {
	m, wh, app := newTestModule(t)
	wh.PutDocument("users/u1", model.FromInterface(map[string]interface{}{"email": "a@x.com"}))
	wh.PutDocument("users/u2", model.FromInterface(map[string]interface{}{"email": "b@x.com"}))
	wh.PutDocument("orders/o1", model.FromInterface(map[string]interface{}{"email": "c@x.com"}))

	result := post(t, app, "/v1/configs/users/backfill", "")
	assert.Equal(t, 2.0, result["inserted"])

	cfg, _ := m.Resolver.Get("users")
	assert.Len(t, wh.Rows(&cfg.CollectionConfig), 2)
}

func TestSyncModule_StartStop(t *testing.T) {
	m, wh, _ := newTestModule(t)
	m.Config.BackfillOnStart = true
	wh.PutDocument("users/u1", model.FromInterface(map[string]interface{}{"email": "a@x.com"}))

	m.Start(context.Background())
	assert.Equal(t, 1, m.Scheduler.Entries())

	cfg, _ := m.Resolver.Get("users")
	assert.Len(t, wh.Rows(&cfg.CollectionConfig), 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Close(ctx))
}

func TestNoDocumentSource(t *testing.T) {
	_, err := noDocumentSource{}.Page(context.Background(), model.BackfillScope{CollectionPath: "users"}, "", 10)
	assert.Error(t, err)
}
