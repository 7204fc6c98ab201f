package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
)

func coerceOne(t *testing.T, def model.FieldDefinition, raw interface{}) model.Value {
	t.Helper()
	cfg := compileTestConfig(t, model.CollectionConfig{
		ID:              "c",
		CollectionPaths: []string{"c"},
		TableID:         "c",
		Fields:          []model.FieldDefinition{def},
	})
	engine := NewCoercionEngine(nil, logger.NewNopLogger())
	return engine.CoerceField(&cfg.Fields[0], model.FromInterface(raw))
}

func TestCoerce_UsersDocument(t *testing.T) {
	cfg := compileTestConfig(t, model.CollectionConfig{
		ID:              "users",
		CollectionPaths: []string{"users"},
		TableID:         "users",
		Fields: []model.FieldDefinition{
			{Name: "email", Type: model.FieldTypeString},
			{Name: "createdOn", Type: model.FieldTypeTimestamp},
		},
	})
	engine := NewCoercionEngine(nil, logger.NewNopLogger())

	raw := object(map[string]interface{}{"email": "a@b.com", "createdOn": 1700000000000, "ignored": true})
	row, err := engine.Coerce(context.Background(), raw, "doc1", "", cfg)
	require.NoError(t, err)

	assert.Equal(t, "doc1", row.DocumentID)
	assert.Len(t, row.Values, 2)
	assert.Equal(t, model.String("a@b.com"), row.Get("email"))
	assert.Equal(t, model.String("2023-11-14T22:13:20.000Z"), row.Get("createdOn"))
}

func TestCoerce_Numeric(t *testing.T) {
	def := model.FieldDefinition{Name: "n", Type: model.FieldTypeNumeric}
	tests := []struct {
		raw      interface{}
		expected model.Value
	}{
		{"3.14159", model.Number(3.14)},
		{1.236, model.Number(1.24)},
		{42, model.Number(42)},
		{"12abc", model.Number(12)},
		{"-0.5e1", model.Number(-5)},
		{"abc", model.Null},
		{true, model.Null},
		{nil, model.Null},
		{math.Inf(1), model.Null},
		{map[string]interface{}{"a": 1}, model.Null},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.raw), func(t *testing.T) {
			assert.Equal(t, tt.expected, coerceOne(t, def, tt.raw))
		})
	}
}

func TestCoerce_BigNumeric(t *testing.T) {
	def := model.FieldDefinition{Name: "n", Type: model.FieldTypeBigNumeric}

	v := coerceOne(t, def, "123456789012345678901234567890.123456789")
	d, ok := v.DecimalValue()
	require.True(t, ok)
	assert.Equal(t, "123456789012345678901234567890.123456789", d.Text('f'))

	v = coerceOne(t, def, "7.e2 apples")
	d, ok = v.DecimalValue()
	require.True(t, ok)
	assert.Equal(t, "700", d.Text('f'))

	v = coerceOne(t, def, 2.5)
	d, ok = v.DecimalValue()
	require.True(t, ok)
	assert.Equal(t, "2.5", d.Text('f'))

	// numbers decoded from a JSON body keep every digit
	var doc model.Value
	require.NoError(t, json.Unmarshal([]byte(`{"n": 123456789012345678901234567890.123456789}`), &doc))
	raw, ok := doc.Get("n")
	require.True(t, ok)
	v = coerceOne(t, def, raw)
	d, ok = v.DecimalValue()
	require.True(t, ok)
	assert.Equal(t, "123456789012345678901234567890.123456789", d.Text('f'))

	assert.True(t, coerceOne(t, def, "n/a").IsNull())
	assert.True(t, coerceOne(t, def, false).IsNull())
}

func TestCoerce_Array(t *testing.T) {
	strings := func(items ...string) model.Value {
		out := make([]model.Value, len(items))
		for i, s := range items {
			out[i] = model.String(s)
		}
		return model.Array(out)
	}

	t.Run("scalar is wrapped", func(t *testing.T) {
		def := model.FieldDefinition{Name: "tags", Type: model.FieldTypeArray}
		assert.Equal(t, strings("tag1"), coerceOne(t, def, "tag1"))
	})

	t.Run("nullish becomes empty", func(t *testing.T) {
		def := model.FieldDefinition{Name: "tags", Type: model.FieldTypeArray}
		assert.Equal(t, model.Array([]model.Value{}), coerceOne(t, def, nil))
		assert.Equal(t, model.Array([]model.Value{}), coerceOne(t, def, ""))
		assert.Equal(t, model.Array([]model.Value{}), coerceOne(t, def, math.NaN()))
	})

	t.Run("flattens one level and drops falsy", func(t *testing.T) {
		def := model.FieldDefinition{Name: "tags", Type: model.FieldTypeArray}
		raw := []interface{}{"a", []interface{}{"b", ""}, nil, 0, "c"}
		assert.Equal(t, strings("a", "b", "c"), coerceOne(t, def, raw))
	})

	t.Run("formatter extracts from objects", func(t *testing.T) {
		def := model.FieldDefinition{Name: "names", Type: model.FieldTypeArray, Formatter: "name"}
		raw := []interface{}{
			map[string]interface{}{"name": "x"},
			map[string]interface{}{"name": "y", "age": 3},
			"z",
		}
		assert.Equal(t, strings("x", "y", "z"), coerceOne(t, def, raw))
	})

	t.Run("transform runs per element", func(t *testing.T) {
		def := model.FieldDefinition{Name: "tags", Type: model.FieldTypeArray, Method: "uppercase"}
		assert.Equal(t, strings("A", "B"), coerceOne(t, def, []interface{}{"a", "b"}))
	})

	t.Run("array type coerces elements", func(t *testing.T) {
		def := model.FieldDefinition{Name: "amounts", Type: model.FieldTypeArray, ArrayType: model.FieldTypeNumeric}
		got := coerceOne(t, def, []interface{}{"1.234", "abc", 2})
		assert.Equal(t, model.Array([]model.Value{model.Number(1.23), model.Number(2)}), got)
	})
}

func TestCoerce_TimestampAndDate(t *testing.T) {
	ts := model.FieldDefinition{Name: "at", Type: model.FieldTypeTimestamp}
	date := model.FieldDefinition{Name: "on", Type: model.FieldTypeDate}
	const instant = "2023-11-14T22:13:20.000Z"

	tests := []struct {
		name string
		raw  interface{}
	}{
		{"millis", 1700000000000},
		{"iso string", "2023-11-14T22:13:20Z"},
		{"seconds object", map[string]interface{}{"_seconds": 1700000000, "_nanoseconds": 0}},
		{"proto object", map[string]interface{}{"seconds": 1700000000, "nanos": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, model.String(instant), coerceOne(t, ts, tt.raw))
			assert.Equal(t, model.String("2023-11-14"), coerceOne(t, date, tt.raw))
		})
	}

	for _, raw := range []interface{}{nil, 0, "", false, "not a date", []interface{}{1}} {
		assert.True(t, coerceOne(t, ts, raw).IsNull(), "expected null for %v", raw)
	}
}

func TestCoerce_Primitives(t *testing.T) {
	boolean := model.FieldDefinition{Name: "b", Type: model.FieldTypeBool}
	assert.Equal(t, model.Bool(false), coerceOne(t, boolean, nil))
	assert.Equal(t, model.Bool(false), coerceOne(t, boolean, 0))
	assert.Equal(t, model.Bool(true), coerceOne(t, boolean, "x"))
	assert.Equal(t, model.Bool(true), coerceOne(t, boolean, []interface{}{}))

	str := model.FieldDefinition{Name: "s", Type: model.FieldTypeString}
	assert.Equal(t, model.String("hello"), coerceOne(t, str, "hello"))
	assert.True(t, coerceOne(t, str, 5).IsNull())
	assert.True(t, coerceOne(t, str, true).IsNull())
}

func TestCoerce_Serialized(t *testing.T) {
	jsonField := model.FieldDefinition{Name: "j", Type: model.FieldTypeJSON}
	assert.Equal(t, model.String(`{"a":1,"b":["x"]}`), coerceOne(t, jsonField, map[string]interface{}{"b": []interface{}{"x"}, "a": 1}))
	assert.Equal(t, model.String(`[1,2]`), coerceOne(t, jsonField, []interface{}{1, 2}))
	assert.True(t, coerceOne(t, jsonField, "x").IsNull())
	assert.True(t, coerceOne(t, jsonField, 3).IsNull())

	repeated := model.FieldDefinition{Name: "r", Type: model.FieldTypeRepeated}
	list := []interface{}{1, "two"}
	assert.Equal(t, model.FromInterface(list), coerceOne(t, repeated, list))
	assert.True(t, coerceOne(t, repeated, "x").IsNull())
	assert.True(t, coerceOne(t, repeated, nil).IsNull())
}

func TestCoerce_Methods(t *testing.T) {
	upper := model.FieldDefinition{Name: "s", Type: model.FieldTypeString, Method: "uppercase"}
	assert.Equal(t, model.String("ABC"), coerceOne(t, upper, "abc"))

	doubled := model.FieldDefinition{Name: "n", Type: model.FieldTypeNumeric, Method: "value * 2.0"}
	assert.Equal(t, model.Number(3), coerceOne(t, doubled, 1.5))

	// a failing expression yields null, not an error
	failing := model.FieldDefinition{Name: "n", Type: model.FieldTypeNumeric, Method: "value * 2.0"}
	assert.True(t, coerceOne(t, failing, "abc").IsNull())

	nested := model.FieldDefinition{Name: "city", Type: model.FieldTypeString, Accessor: "address.city", Method: "trim"}
	assert.Equal(t, model.String("Paris"), coerceOne(t, nested, map[string]interface{}{"address": map[string]interface{}{"city": " Paris "}}))
}

func TestCoerce_ParentID(t *testing.T) {
	cfg := compileTestConfig(t, ordersConfig())
	engine := NewCoercionEngine(nil, logger.NewNopLogger())

	row, err := engine.Coerce(context.Background(), object(map[string]interface{}{"total": "10.556"}), "o1", "u1", cfg)
	require.NoError(t, err)
	assert.Equal(t, "u1-o1", row.DocumentID)
	assert.Equal(t, model.String("u1"), row.Get("parentId"))
	assert.Equal(t, model.Number(10.56), row.Get("total"))

	plain := ordersConfig()
	plain.IncludeParentIDInDocumentID = false
	row, err = engine.Coerce(context.Background(), object(map[string]interface{}{}), "o1", "u1", compileTestConfig(t, plain))
	require.NoError(t, err)
	assert.Equal(t, "o1", row.DocumentID)
	assert.Equal(t, model.String("u1"), row.Get("parentId"))
	assert.True(t, row.Get("total").IsNull())
}

func TestCoerce_Deterministic(t *testing.T) {
	cfg := compileTestConfig(t, usersConfig())
	engine := NewCoercionEngine(nil, logger.NewNopLogger())
	raw := object(map[string]interface{}{"email": "a@b.com", "createdOn": "2024-02-29", "score": "9.999"})

	first, err := engine.Coerce(context.Background(), raw, "u1", "", cfg)
	require.NoError(t, err)
	second, err := engine.Coerce(context.Background(), raw, "u1", "", cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCoerce_TransformWebhook(t *testing.T) {
	cfgDef := usersConfig()
	cfgDef.TransformURL = "http://transform.local/users"
	cfg := compileTestConfig(t, cfgDef)
	raw := object(map[string]interface{}{"email": "A@B.COM"})

	t.Run("response replaces document", func(t *testing.T) {
		client := new(MockTransformClient)
		client.On("Transform", mock.Anything, cfgDef.TransformURL, "u1", raw).
			Return(object(map[string]interface{}{"email": "a@b.com", "score": 3}), nil).Once()

		engine := NewCoercionEngine(client, logger.NewNopLogger())
		row, err := engine.Coerce(context.Background(), raw, "u1", "", cfg)
		require.NoError(t, err)
		assert.Equal(t, model.String("a@b.com"), row.Get("email"))
		assert.Equal(t, model.Number(3), row.Get("score"))
		client.AssertExpectations(t)
	})

	t.Run("failure fails the document", func(t *testing.T) {
		client := new(MockTransformClient)
		client.On("Transform", mock.Anything, cfgDef.TransformURL, "u1", raw).
			Return(model.Null, fmt.Errorf("connection refused")).Once()

		engine := NewCoercionEngine(client, logger.NewNopLogger())
		_, err := engine.Coerce(context.Background(), raw, "u1", "", cfg)
		require.Error(t, err)
		assert.True(t, errors.IsTransformWebhook(err))
		client.AssertExpectations(t)
	})

	t.Run("missing client", func(t *testing.T) {
		engine := NewCoercionEngine(nil, logger.NewNopLogger())
		_, err := engine.Coerce(context.Background(), raw, "u1", "", cfg)
		assert.True(t, errors.IsTransformWebhook(err))
	})
}
