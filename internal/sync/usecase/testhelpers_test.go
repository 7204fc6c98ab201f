package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/adapter/persistence"
	"firestore-sync/internal/sync/domain/model"
)

// MockTransformClient is a testify mock of repository.TransformClient
type MockTransformClient struct {
	mock.Mock
}

func (m *MockTransformClient) Transform(ctx context.Context, url string, documentID string, document model.Value) (model.Value, error) {
	args := m.Called(ctx, url, documentID, document)
	if fn, ok := args.Get(0).(func(context.Context, string, string, model.Value) model.Value); ok {
		return fn(ctx, url, documentID, document), args.Error(1)
	}
	return args.Get(0).(model.Value), args.Error(1)
}

// fakeClock hands out a fixed, manually advanced time
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(t *testing.T) *TransformRegistry {
	t.Helper()
	registry, err := NewTransformRegistry()
	require.NoError(t, err)
	return registry
}

func newTestResolver(t *testing.T, configs ...model.CollectionConfig) *ConfigResolver {
	t.Helper()
	resolver, skipped := NewConfigResolver(configs, newTestRegistry(t), logger.NewNopLogger())
	require.Empty(t, skipped)
	return resolver
}

func compileTestConfig(t *testing.T, cfg model.CollectionConfig) *CompiledConfig {
	t.Helper()
	compiled, err := CompileConfig(cfg, newTestRegistry(t))
	require.NoError(t, err)
	return compiled
}

func usersConfig() model.CollectionConfig {
	return model.CollectionConfig{
		ID:              "users",
		CollectionPaths: []string{"users"},
		TableID:         "users",
		Fields: []model.FieldDefinition{
			{Name: "email", Type: model.FieldTypeString},
			{Name: "createdOn", Type: model.FieldTypeTimestamp},
			{Name: "score", Type: model.FieldTypeNumeric},
		},
	}
}

func ordersConfig() model.CollectionConfig {
	return model.CollectionConfig{
		ID:                          "orders",
		CollectionPaths:             []string{"users/{userId}/orders"},
		TableID:                     "orders",
		IncludeParentIDInDocumentID: true,
		Fields: []model.FieldDefinition{
			{Name: "total", Type: model.FieldTypeNumeric},
			{Name: "parentId", Type: model.FieldTypeString},
		},
	}
}

func newTestEngines(t *testing.T, configs ...model.CollectionConfig) (*ConfigResolver, *CoercionEngine, *persistence.MemoryWarehouse) {
	t.Helper()
	return newTestResolver(t, configs...), NewCoercionEngine(nil, logger.NewNopLogger()), persistence.NewMemoryWarehouse()
}

func object(fields map[string]interface{}) model.Value {
	return model.FromInterface(fields)
}

func createdEvent(path string, data map[string]interface{}, at time.Time) model.ChangeEvent {
	return model.ChangeEvent{
		After:     model.DocumentSnapshot{Exists: true, Data: object(data)},
		FullPath:  path,
		Timestamp: &at,
	}
}

func updatedEvent(path string, data map[string]interface{}, at time.Time) model.ChangeEvent {
	e := createdEvent(path, data, at)
	e.Before = model.DocumentSnapshot{Exists: true}
	return e
}

func deletedEvent(path string, at time.Time) model.ChangeEvent {
	return model.ChangeEvent{
		Before:    model.DocumentSnapshot{Exists: true},
		FullPath:  path,
		Timestamp: &at,
	}
}
