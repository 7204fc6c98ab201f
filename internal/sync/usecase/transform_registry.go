package usecase

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/google/cel-go/ext"
	"google.golang.org/protobuf/types/known/structpb"

	"firestore-sync/internal/sync/domain/model"
)

// TransformFunc is a pure per-field transform
type TransformFunc func(model.Value) (model.Value, error)

// celCostLimit bounds the work a single expression evaluation may do
const celCostLimit = 100000

var structValueType = reflect.TypeOf(&structpb.Value{})

// TransformRegistry resolves a field's method into a TransformFunc. Names of
// registered builtins win; anything else is compiled as a CEL expression
// over the variable `value`.
type TransformRegistry struct {
	mu       sync.RWMutex
	builtins map[string]TransformFunc
	celEnv   *cel.Env
}

// NewTransformRegistry creates a registry holding the builtin transforms
func NewTransformRegistry() (*TransformRegistry, error) {
	env, err := cel.NewEnv(
		cel.Declarations(decls.NewVar("value", decls.Dyn)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transform expression environment: %w", err)
	}

	r := &TransformRegistry{
		builtins: make(map[string]TransformFunc),
		celEnv:   env,
	}
	for name, fn := range builtinTransforms() {
		r.builtins[name] = fn
	}
	return r, nil
}

// Register adds or replaces a named transform
func (r *TransformRegistry) Register(name string, fn TransformFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[name] = fn
}

// Names lists the registered transforms
func (r *TransformRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builtins))
	for name := range r.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile resolves method once. An empty method yields a nil func.
func (r *TransformRegistry) Compile(method string) (TransformFunc, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, nil
	}

	r.mu.RLock()
	fn, ok := r.builtins[method]
	r.mu.RUnlock()
	if ok {
		return fn, nil
	}

	ast, issues := r.celEnv.Compile(method)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("transform expression compilation error: %w", issues.Err())
	}
	program, err := r.celEnv.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to create transform program: %w", err)
	}

	return func(v model.Value) (model.Value, error) {
		out, _, err := program.Eval(map[string]interface{}{"value": celInput(v)})
		if err != nil {
			return model.Null, fmt.Errorf("transform evaluation error: %w", err)
		}
		native, err := out.ConvertToNative(structValueType)
		if err != nil {
			return model.Null, fmt.Errorf("transform result is not JSON-compatible: %w", err)
		}
		return fromStructValue(native.(*structpb.Value)), nil
	}, nil
}

// celInput maps a Value onto types the CEL default adapter understands
func celInput(v model.Value) interface{} {
	switch v.Kind() {
	case model.KindDecimal:
		d, _ := v.DecimalValue()
		f, _ := d.Float64()
		return f
	case model.KindArray:
		items := v.Items()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = celInput(item)
		}
		return out
	case model.KindObject:
		fields := v.Fields()
		out := make(map[string]interface{}, len(fields))
		for k, member := range fields {
			out[k] = celInput(member)
		}
		return out
	default:
		return v.Interface()
	}
}

func fromStructValue(sv *structpb.Value) model.Value {
	if sv == nil {
		return model.Null
	}
	switch kind := sv.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return model.Bool(kind.BoolValue)
	case *structpb.Value_NumberValue:
		return model.Number(kind.NumberValue)
	case *structpb.Value_StringValue:
		return model.String(kind.StringValue)
	case *structpb.Value_ListValue:
		values := kind.ListValue.GetValues()
		items := make([]model.Value, len(values))
		for i, item := range values {
			items[i] = fromStructValue(item)
		}
		return model.Array(items)
	case *structpb.Value_StructValue:
		fields := make(map[string]model.Value, len(kind.StructValue.GetFields()))
		for k, member := range kind.StructValue.GetFields() {
			fields[k] = fromStructValue(member)
		}
		return model.Object(fields)
	}
	return model.Null
}

func builtinTransforms() map[string]TransformFunc {
	mapString := func(f func(string) string) TransformFunc {
		return func(v model.Value) (model.Value, error) {
			if s, ok := v.StringValue(); ok {
				return model.String(f(s)), nil
			}
			return v, nil
		}
	}

	return map[string]TransformFunc{
		"lowercase": mapString(strings.ToLower),
		"uppercase": mapString(strings.ToUpper),
		"trim":      mapString(strings.TrimSpace),
		"toString": func(v model.Value) (model.Value, error) {
			return stringify(v), nil
		},
		"toNumber": func(v model.Value) (model.Value, error) {
			if b, ok := v.BoolValue(); ok {
				if b {
					return model.Number(1), nil
				}
				return model.Number(0), nil
			}
			if n, ok := toFloat(v); ok {
				return model.Number(n), nil
			}
			return model.Null, nil
		},
		"secondsToMillis": func(v model.Value) (model.Value, error) {
			if n, ok := toFloat(v); ok {
				return model.Number(n * 1000), nil
			}
			return model.Null, nil
		},
		"length": func(v model.Value) (model.Value, error) {
			switch v.Kind() {
			case model.KindString:
				s, _ := v.StringValue()
				return model.Number(float64(utf8.RuneCountInString(s))), nil
			case model.KindArray:
				return model.Number(float64(len(v.Items()))), nil
			case model.KindObject:
				return model.Number(float64(len(v.Fields()))), nil
			}
			return model.Null, nil
		},
		"keys": func(v model.Value) (model.Value, error) {
			fields := v.Fields()
			if fields == nil {
				return model.Null, nil
			}
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			items := make([]model.Value, len(keys))
			for i, k := range keys {
				items[i] = model.String(k)
			}
			return model.Array(items), nil
		},
		"first": func(v model.Value) (model.Value, error) {
			if items := v.Items(); len(items) > 0 {
				return items[0], nil
			}
			return model.Null, nil
		},
		"last": func(v model.Value) (model.Value, error) {
			if items := v.Items(); len(items) > 0 {
				return items[len(items)-1], nil
			}
			return model.Null, nil
		},
		"boolean": func(v model.Value) (model.Value, error) {
			return model.Bool(v.Truthy()), nil
		},
	}
}

// stringify renders primitives as text and composites as JSON
func stringify(v model.Value) model.Value {
	switch v.Kind() {
	case model.KindNull:
		return model.Null
	case model.KindString:
		return v
	case model.KindBool:
		b, _ := v.BoolValue()
		return model.String(strconv.FormatBool(b))
	case model.KindNumber:
		n, _ := v.NumberValue()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return model.Null
		}
		return model.String(strconv.FormatFloat(n, 'f', -1, 64))
	case model.KindDecimal:
		d, _ := v.DecimalValue()
		return model.String(d.Text('f'))
	case model.KindTimestamp:
		t, _ := v.TimeValue()
		return model.String(t.UTC().Format(time.RFC3339Nano))
	default:
		return model.String(v.String())
	}
}
