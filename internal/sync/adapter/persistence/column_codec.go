package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"firestore-sync/internal/sync/domain/model"
)

// EncodeColumn serializes a column value as JSON text
func EncodeColumn(v model.Value) (string, error) {
	encoded, err := v.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeColumn restores a column written by EncodeColumn. The field type
// decides whether numbers come back as exact decimals.
func DecodeColumn(def model.FieldDefinition, raw []byte) (model.Value, error) {
	if len(raw) == 0 {
		return model.Null, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var x interface{}
	if err := decoder.Decode(&x); err != nil {
		return model.Null, fmt.Errorf("failed to decode column %s: %w", def.Name, err)
	}

	t := def.Type.Canonical()
	decimals := t == model.FieldTypeBigNumeric ||
		(t == model.FieldTypeArray && def.ArrayType.Canonical() == model.FieldTypeBigNumeric)
	return fromJSON(x, decimals), nil
}

func fromJSON(x interface{}, decimals bool) model.Value {
	switch t := x.(type) {
	case json.Number:
		if decimals {
			if d, _, err := apd.NewFromString(t.String()); err == nil {
				return model.Decimal(d)
			}
		}
		return model.FromInterface(t)
	case []interface{}:
		items := make([]model.Value, len(t))
		for i, item := range t {
			items[i] = fromJSON(item, decimals)
		}
		return model.Array(items)
	case map[string]interface{}:
		fields := make(map[string]model.Value, len(t))
		for k, member := range t {
			fields[k] = fromJSON(member, false)
		}
		return model.Object(fields)
	}
	return model.FromInterface(x)
}

// EncodeValues serializes a record's column map
func EncodeValues(values map[string]model.Value) (string, error) {
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeValues restores the columns of cfg from EncodeValues output. Columns
// missing from the payload stay absent.
func DecodeValues(cfg *model.CollectionConfig, raw []byte) (map[string]model.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var columns map[string]json.RawMessage
	if err := json.Unmarshal(raw, &columns); err != nil {
		return nil, fmt.Errorf("failed to decode change record values: %w", err)
	}
	if columns == nil {
		return nil, nil
	}
	values := make(map[string]model.Value, len(columns))
	for _, def := range cfg.Fields {
		column, ok := columns[def.Name]
		if !ok {
			continue
		}
		v, err := DecodeColumn(def, column)
		if err != nil {
			return nil, err
		}
		values[def.Name] = v
	}
	return values, nil
}
