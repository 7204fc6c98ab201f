package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
)

func TestConfigResolver_Resolve(t *testing.T) {
	resolver := newTestResolver(t, usersConfig(), ordersConfig())

	tests := []struct {
		name       string
		path       string
		configID   string
		documentID string
		parentID   string
		params     map[string]string
	}{
		{name: "top-level document", path: "users/u1", configID: "users", documentID: "u1"},
		{name: "collection path", path: "users", configID: "users"},
		{
			name:       "wildcard captures parent",
			path:       "users/u1/orders/o1",
			configID:   "orders",
			documentID: "o1",
			parentID:   "u1",
			params:     map[string]string{"userId": "u1"},
		},
		{
			name:       "resource name prefix is stripped",
			path:       "projects/p/databases/(default)/documents/users/u2",
			configID:   "users",
			documentID: "u2",
		},
		{name: "surrounding slashes", path: "/users/u3/", configID: "users", documentID: "u3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := resolver.Resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.configID, res.Config.ID)
			assert.Equal(t, tt.documentID, res.DocumentID)
			assert.Equal(t, tt.parentID, res.ParentID)
			assert.Equal(t, tt.params, res.Params)
		})
	}
}

func TestConfigResolver_ParentIDIsLastWildcard(t *testing.T) {
	resolver := newTestResolver(t, model.CollectionConfig{
		ID:              "items",
		CollectionPaths: []string{"shops/{shopId}/carts/{cartId}/items"},
		TableID:         "items",
		Fields:          []model.FieldDefinition{{Name: "sku", Type: model.FieldTypeString}},
	})

	res, err := resolver.Resolve("shops/s1/carts/c9/items/i1")
	require.NoError(t, err)
	assert.Equal(t, "c9", res.ParentID)
	assert.Equal(t, map[string]string{"shopId": "s1", "cartId": "c9"}, res.Params)
	assert.Equal(t, "shops/s1/carts/c9/items", res.CollectionPath)
}

func TestConfigResolver_NoMatch(t *testing.T) {
	resolver := newTestResolver(t, usersConfig(), ordersConfig())

	for _, path := range []string{"accounts/a1", "users/u1/invoices/i1", "users/u1/orders/o1/lines/l1"} {
		t.Run(path, func(t *testing.T) {
			res, err := resolver.Resolve(path)
			assert.Nil(t, res)
			require.Error(t, err)
			assert.True(t, errors.IsNoMatchingConfig(err))
		})
	}
}

func TestConfigResolver_FirstMatchWins(t *testing.T) {
	wildcard := model.CollectionConfig{
		ID:              "any-orders",
		CollectionPaths: []string{"{collection}/{id}/orders"},
		TableID:         "any_orders",
		Fields:          []model.FieldDefinition{{Name: "total", Type: model.FieldTypeNumeric}},
	}
	resolver := newTestResolver(t, wildcard, ordersConfig())

	res, err := resolver.Resolve("users/u1/orders/o1")
	require.NoError(t, err)
	assert.Equal(t, "any-orders", res.Config.ID)
	assert.Equal(t, "u1", res.ParentID)
}

func TestConfigResolver_CollectionGroup(t *testing.T) {
	resolver := newTestResolver(t, model.CollectionConfig{
		ID:              "comments",
		CollectionGroup: "comments",
		TableID:         "comments",
		Fields:          []model.FieldDefinition{{Name: "body", Type: model.FieldTypeString}},
	})

	res, err := resolver.Resolve("posts/p1/comments/c1")
	require.NoError(t, err)
	assert.Equal(t, "comments", res.Config.ID)
	assert.Equal(t, "p1", res.ParentID)

	res, err = resolver.Resolve("comments/c2")
	require.NoError(t, err)
	assert.Equal(t, "", res.ParentID)
}

func TestConfigResolver_SkipsInvalidConfigs(t *testing.T) {
	badMethod := usersConfig()
	badMethod.ID = "bad-method"
	badMethod.Fields = []model.FieldDefinition{{Name: "email", Type: model.FieldTypeString, Method: "value +"}}

	badPattern := usersConfig()
	badPattern.ID = "bad-pattern"
	badPattern.CollectionPaths = []string{"users/{}/orders"}

	duplicate := usersConfig()

	resolver, skipped := NewConfigResolver(
		[]model.CollectionConfig{usersConfig(), badMethod, badPattern, duplicate},
		newTestRegistry(t),
		logger.NewNopLogger(),
	)

	require.Len(t, skipped, 3)
	for _, err := range skipped {
		assert.True(t, errors.IsConfigValidation(err), err.Error())
	}
	require.Len(t, resolver.Configs(), 1)
	_, ok := resolver.Get("users")
	assert.True(t, ok)
	_, ok = resolver.Get("bad-method")
	assert.False(t, ok)
}

func TestConfigResolver_SkipsInvalidFieldNames(t *testing.T) {
	for _, name := range []string{"total*", "a/b", "a..b", ".total"} {
		t.Run(name, func(t *testing.T) {
			bad := ordersConfig()
			bad.Fields = []model.FieldDefinition{{Name: name, Type: model.FieldTypeString}}

			var (
				resolver *ConfigResolver
				skipped  []error
			)
			require.NotPanics(t, func() {
				resolver, skipped = NewConfigResolver(
					[]model.CollectionConfig{bad, usersConfig()},
					newTestRegistry(t),
					logger.NewNopLogger(),
				)
			})

			require.Len(t, skipped, 1)
			assert.True(t, errors.IsConfigValidation(skipped[0]))
			_, ok := resolver.Get("orders")
			assert.False(t, ok)
			_, ok = resolver.Get("users")
			assert.True(t, ok)
		})
	}
}

func TestCompileConfig_InvalidAccessorAndFormatter(t *testing.T) {
	accessor := usersConfig()
	accessor.Fields = []model.FieldDefinition{{Name: "email", Type: model.FieldTypeString, Accessor: "contact..email"}}
	_, err := CompileConfig(accessor, newTestRegistry(t))
	require.Error(t, err)
	assert.True(t, errors.IsConfigValidation(err))

	formatter := usersConfig()
	formatter.Fields = []model.FieldDefinition{{Name: "email", Type: model.FieldTypeString, Formatter: "fmt*"}}
	_, err = CompileConfig(formatter, newTestRegistry(t))
	require.Error(t, err)
	assert.True(t, errors.IsConfigValidation(err))

	nested := usersConfig()
	nested.Fields = []model.FieldDefinition{{Name: "city", Type: model.FieldTypeString, Accessor: "address.city"}}
	cfg := compileTestConfig(t, nested)
	assert.Equal(t, "address.city", cfg.Fields[0].Accessor.Raw())
}

func TestConfigResolver_RejectsTableNameCollisions(t *testing.T) {
	first := usersConfig()
	first.DatasetID = "a_b"
	first.TableID = "c"

	collides := ordersConfig()
	collides.DatasetID = "a"
	collides.TableID = "b_c"

	trackerClash := ordersConfig()
	trackerClash.ID = "tracker-clash"
	trackerClash.DatasetID = "a_b"
	trackerClash.TableID = "c_changelog"

	distinct := ordersConfig()
	distinct.ID = "distinct"
	distinct.DatasetID = "a"
	distinct.TableID = "orders"

	resolver, skipped := NewConfigResolver(
		[]model.CollectionConfig{first, collides, trackerClash, distinct},
		newTestRegistry(t),
		logger.NewNopLogger(),
	)

	require.Len(t, skipped, 2)
	for _, err := range skipped {
		assert.True(t, errors.IsConfigValidation(err))
		assert.Contains(t, err.Error(), "already used by config users")
	}
	ids := make([]string, 0, len(resolver.Configs()))
	for _, cfg := range resolver.Configs() {
		ids = append(ids, cfg.ID)
	}
	assert.Equal(t, []string{"users", "distinct"}, ids)
}

func TestCompileConfig_Defaults(t *testing.T) {
	cfg := compileTestConfig(t, usersConfig())

	assert.Equal(t, model.DefaultDatasetID, cfg.DatasetID)
	assert.Equal(t, model.DefaultSchedule, cfg.Schedule)
	assert.Equal(t, "UTC", cfg.Location.String())
	assert.Equal(t, []string{"users"}, cfg.Patterns())
	require.Len(t, cfg.Fields, 3)
	assert.Equal(t, "createdOn", cfg.Fields[1].Accessor.Raw())
}

func TestCompileConfig_UnknownTimeZone(t *testing.T) {
	cfg := usersConfig()
	cfg.TimeZone = "Mars/Olympus"

	_, err := CompileConfig(cfg, newTestRegistry(t))
	require.Error(t, err)
	assert.True(t, errors.IsConfigValidation(err))
}

func TestCompiledConfig_Match(t *testing.T) {
	cfg := compileTestConfig(t, ordersConfig())

	parentID, params, ok := cfg.Match([]string{"users", "u7", "orders"})
	require.True(t, ok)
	assert.Equal(t, "u7", parentID)
	assert.Equal(t, "u7", params["userId"])

	_, _, ok = cfg.Match([]string{"orders"})
	assert.False(t, ok)
}
