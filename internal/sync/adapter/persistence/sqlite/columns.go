package sqlite

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"firestore-sync/internal/sync/adapter/persistence"
	"firestore-sync/internal/sync/domain/model"
)

// Fixed columns
const (
	colDocumentID = "documentId"
	colChangeType = "changeType"
	colTimestamp  = "timestamp"
)

func columnDDL(cfg *model.CollectionConfig) string {
	var b strings.Builder
	for _, def := range cfg.Fields {
		b.WriteString(", ")
		b.WriteString(quoteIdent(def.Name))
		b.WriteString(" ")
		b.WriteString(sqlType(def))
	}
	return b.String()
}

// sqlType maps a field to its column type. BIGNUMERIC is TEXT so no digits
// are lost; list and object columns hold JSON text.
func sqlType(def model.FieldDefinition) string {
	switch def.Type.Canonical() {
	case model.FieldTypeNumeric:
		return "REAL"
	case model.FieldTypeBool:
		return "INTEGER"
	}
	return "TEXT"
}

func toSQL(def model.FieldDefinition, v model.Value) (interface{}, error) {
	if v.IsNull() {
		return nil, nil
	}

	switch def.Type.Canonical() {
	case model.FieldTypeNumeric:
		if n, ok := v.NumberValue(); ok {
			return n, nil
		}
		if d, ok := v.DecimalValue(); ok {
			f, err := d.Float64()
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", def.Name, err)
			}
			return f, nil
		}
		return nil, nil
	case model.FieldTypeBool:
		if b, ok := v.BoolValue(); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return nil, nil
	case model.FieldTypeBigNumeric:
		if d, ok := v.DecimalValue(); ok {
			return d.Text('f'), nil
		}
		if n, ok := v.NumberValue(); ok {
			return strconv.FormatFloat(n, 'f', -1, 64), nil
		}
		return nil, nil
	case model.FieldTypeString, model.FieldTypeTimestamp, model.FieldTypeDate:
		if s, ok := v.StringValue(); ok {
			return s, nil
		}
		if t, ok := v.TimeValue(); ok {
			if def.Type.Canonical() == model.FieldTypeDate {
				return model.FormatDate(t), nil
			}
			return model.FormatInstant(t), nil
		}
		return nil, nil
	}

	encoded, err := persistence.EncodeColumn(v)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", def.Name, err)
	}
	return encoded, nil
}

func fromSQL(def model.FieldDefinition, raw interface{}) (model.Value, error) {
	if raw == nil {
		return model.Null, nil
	}

	switch def.Type.Canonical() {
	case model.FieldTypeNumeric:
		switch n := raw.(type) {
		case float64:
			return model.Number(n), nil
		case int64:
			return model.Number(float64(n)), nil
		}
		return model.Null, fmt.Errorf("column %s: unexpected %T", def.Name, raw)
	case model.FieldTypeBool:
		if n, ok := raw.(int64); ok {
			return model.Bool(n != 0), nil
		}
		return model.Null, fmt.Errorf("column %s: unexpected %T", def.Name, raw)
	}

	text, ok := asText(raw)
	if !ok {
		return model.Null, fmt.Errorf("column %s: unexpected %T", def.Name, raw)
	}

	switch def.Type.Canonical() {
	case model.FieldTypeBigNumeric:
		d, _, err := apd.NewFromString(text)
		if err != nil {
			return model.Null, fmt.Errorf("column %s: %w", def.Name, err)
		}
		return model.Decimal(d), nil
	case model.FieldTypeString, model.FieldTypeTimestamp, model.FieldTypeDate:
		return model.String(text), nil
	}
	return persistence.DecodeColumn(def, []byte(text))
}

func asText(raw interface{}) (string, bool) {
	switch t := raw.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	}
	return "", false
}
