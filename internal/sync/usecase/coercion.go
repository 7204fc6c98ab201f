package usecase

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
	"firestore-sync/internal/sync/domain/repository"
)

// ParentIDField is merged into documents that resolved with a parent id
const ParentIDField = "parentId"

// leadingFloat accepts the longest numeric prefix of a string
var leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// CoercionEngine turns raw documents into typed warehouse rows
type CoercionEngine struct {
	transformClient repository.TransformClient
	timestamps      *model.TimestampParser
	logger          logger.Logger
}

// NewCoercionEngine creates an engine. transformClient may be nil when no
// config uses a transform URL.
func NewCoercionEngine(transformClient repository.TransformClient, log logger.Logger) *CoercionEngine {
	return &CoercionEngine{
		transformClient: transformClient,
		timestamps:      model.NewTimestampParser(),
		logger:          log.WithComponent("coercion"),
	}
}

// Coerce converts raw into a row for cfg. Per-field problems yield null
// columns; only a failed remote transform fails the call.
func (e *CoercionEngine) Coerce(ctx context.Context, raw model.Value, documentID, parentID string, cfg *CompiledConfig) (model.Row, error) {
	doc := raw
	if parentID != "" {
		doc = doc.With(ParentIDField, model.String(parentID))
	}

	if cfg.TransformURL != "" {
		if e.transformClient == nil {
			return model.Row{}, errors.NewTransformWebhookError(cfg.TransformURL, errors.NewInternalError("no transform client configured"))
		}
		transformed, err := e.transformClient.Transform(ctx, cfg.TransformURL, documentID, doc)
		if err != nil {
			if errors.IsTransformWebhook(err) {
				return model.Row{}, err
			}
			return model.Row{}, errors.NewTransformWebhookError(cfg.TransformURL, err)
		}
		doc = transformed
	}

	row := model.NewRow(OutputDocumentID(cfg, documentID, parentID))
	for i := range cfg.Fields {
		field := &cfg.Fields[i]
		value, _ := doc.Lookup(field.Accessor)
		row.Values[field.Definition.Name] = e.CoerceField(field, value)
	}
	return row, nil
}

// OutputDocumentID prefixes the parent id when the config asks for it
func OutputDocumentID(cfg *CompiledConfig, documentID, parentID string) string {
	if cfg.IncludeParentIDInDocumentID && parentID != "" {
		return parentID + "-" + documentID
	}
	return documentID
}

// CoerceField applies a field's transform and type rule to one value
func (e *CoercionEngine) CoerceField(field *CompiledField, value model.Value) model.Value {
	switch field.Type {
	case model.FieldTypeArray:
		return e.coerceArray(field, value)
	case model.FieldTypeRepeated:
		return coerceRepeated(value)
	default:
		return e.coerceScalar(field.Type, e.apply(field, value))
	}
}

// apply runs the field transform; a transform error yields null
func (e *CoercionEngine) apply(field *CompiledField, value model.Value) model.Value {
	if field.Transform == nil {
		return value
	}
	out, err := field.Transform(value)
	if err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{"field": field.Definition.Name}).
			Debug("Field transform failed")
		return model.Null
	}
	return out
}

func (e *CoercionEngine) coerceScalar(fieldType model.FieldType, value model.Value) model.Value {
	switch fieldType {
	case model.FieldTypeNumeric:
		return coerceNumeric(value)
	case model.FieldTypeBigNumeric:
		return coerceBigNumeric(value)
	case model.FieldTypeBool:
		return model.Bool(value.Truthy())
	case model.FieldTypeTimestamp, model.FieldTypeDate:
		if !value.Truthy() {
			return model.Null
		}
		t, ok := e.timestamps.TryParseAsTimestamp(value)
		if !ok {
			return model.Null
		}
		if fieldType == model.FieldTypeDate {
			return model.String(model.FormatDate(t))
		}
		return model.String(model.FormatInstant(t))
	case model.FieldTypeString:
		if value.Kind() == model.KindString {
			return value
		}
		return model.Null
	case model.FieldTypeJSON:
		return coerceJSON(value)
	case model.FieldTypeRepeated:
		return coerceRepeated(value)
	}
	return model.Null
}

// coerceArray normalizes to a list, extracts the formatter path, applies the
// transform per element, flattens one level and drops falsy entries
func (e *CoercionEngine) coerceArray(field *CompiledField, value model.Value) model.Value {
	var elements []model.Value
	switch {
	case value.Kind() == model.KindArray:
		elements = value.Items()
	case isNullish(value):
		elements = nil
	default:
		elements = []model.Value{value}
	}

	out := make([]model.Value, 0, len(elements))
	appendTruthy := func(v model.Value) {
		if v.Truthy() {
			out = append(out, v)
		}
	}

	for _, element := range elements {
		if field.Formatter != nil && element.Kind() == model.KindObject {
			if extracted, ok := element.Lookup(field.Formatter); ok {
				element = extracted
			}
		}
		element = e.apply(field, element)

		if element.Kind() == model.KindArray {
			for _, nested := range element.Items() {
				appendTruthy(nested)
			}
			continue
		}
		appendTruthy(element)
	}

	if field.ArrayType != "" && field.ArrayType != model.FieldTypeArray {
		typed := out[:0]
		for _, element := range out {
			if coerced := e.coerceScalar(field.ArrayType, element); !coerced.IsNull() {
				typed = append(typed, coerced)
			}
		}
		out = typed
	}
	return model.Array(out)
}

// isNullish matches falsy values other than false and 0
func isNullish(v model.Value) bool {
	switch v.Kind() {
	case model.KindBool, model.KindNumber, model.KindDecimal:
		if n, ok := v.NumberValue(); ok && math.IsNaN(n) {
			return true
		}
		return false
	}
	return !v.Truthy()
}

func coerceNumeric(value model.Value) model.Value {
	n, ok := toFloat(value)
	if !ok {
		return model.Null
	}
	if n == math.Trunc(n) {
		return model.Number(n)
	}
	return model.Number(math.Round(n*100) / 100)
}

func coerceBigNumeric(value model.Value) model.Value {
	switch value.Kind() {
	case model.KindDecimal:
		d, _ := value.DecimalValue()
		if d.Form != apd.Finite {
			return model.Null
		}
		return value
	case model.KindNumber:
		n, _ := value.NumberValue()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return model.Null
		}
		d := new(apd.Decimal)
		if _, err := d.SetFloat64(n); err != nil {
			return model.Null
		}
		return model.Decimal(d)
	case model.KindString:
		s, _ := value.StringValue()
		prefix := leadingFloat.FindString(strings.TrimSpace(s))
		if prefix == "" {
			return model.Null
		}
		d, _, err := apd.NewFromString(normalizeDecimal(prefix))
		if err != nil {
			return model.Null
		}
		return model.Decimal(d)
	}
	return model.Null
}

// normalizeDecimal rewrites forms like "+1." and "2.e3" that
// apd does not accept
func normalizeDecimal(s string) string {
	s = strings.TrimPrefix(s, "+")
	s = strings.Replace(s, ".e", "e", 1)
	s = strings.Replace(s, ".E", "E", 1)
	return strings.TrimSuffix(s, ".")
}

// toFloat reads numbers, decimals and numeric string prefixes; the result
// is always finite
func toFloat(value model.Value) (float64, bool) {
	var n float64
	switch value.Kind() {
	case model.KindNumber:
		n, _ = value.NumberValue()
	case model.KindDecimal:
		d, _ := value.DecimalValue()
		f, err := d.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case model.KindString:
		s, _ := value.StringValue()
		prefix := leadingFloat.FindString(strings.TrimSpace(s))
		if prefix == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(prefix, 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// coerceJSON serializes composites; primitives are rejected
func coerceJSON(value model.Value) model.Value {
	if !value.IsComposite() {
		return model.Null
	}
	encoded, err := value.MarshalJSON()
	if err != nil {
		return model.Null
	}
	return model.String(string(encoded))
}

func coerceRepeated(value model.Value) model.Value {
	if value.IsPrimitive() {
		return model.Null
	}
	return value
}
