package usecase

import (
	"fmt"
	"strings"
	"time"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/firestore"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
)

// CompiledField is a FieldDefinition with its accessors and transform
// resolved
type CompiledField struct {
	Definition model.FieldDefinition
	Type       model.FieldType
	ArrayType  model.FieldType
	Accessor   *model.FieldPath
	Formatter  *model.FieldPath
	Transform  TransformFunc
}

// CompiledConfig is an immutable, ready-to-use collection config
type CompiledConfig struct {
	model.CollectionConfig
	Fields   []CompiledField
	Location *time.Location

	patterns []pathPattern
}

// Patterns returns the raw path patterns in declaration order
func (c *CompiledConfig) Patterns() []string {
	out := make([]string, len(c.patterns))
	for i, p := range c.patterns {
		out[i] = p.raw
	}
	return out
}

type patternSegment struct {
	literal string
	param   string
}

func (s patternSegment) isWildcard() bool { return s.param != "" }

// pathPattern matches collection paths segment by segment
type pathPattern struct {
	raw          string
	segments     []patternSegment
	lastWildcard int
}

func compilePattern(raw string) (pathPattern, error) {
	parts := firestore.ParseDocumentPath(raw)
	if len(parts) == 0 {
		return pathPattern{}, fmt.Errorf("empty path pattern")
	}

	p := pathPattern{raw: strings.Join(parts, "/"), lastWildcard: -1}
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := strings.TrimSpace(part[1 : len(part)-1])
			if name == "" {
				return pathPattern{}, fmt.Errorf("wildcard segment %d of %q has no name", i, raw)
			}
			p.segments = append(p.segments, patternSegment{param: name})
			p.lastWildcard = i
			continue
		}
		if strings.ContainsAny(part, "{}") {
			return pathPattern{}, fmt.Errorf("malformed segment %q in %q", part, raw)
		}
		p.segments = append(p.segments, patternSegment{literal: part})
	}
	return p, nil
}

// match compares a collection path; it returns the named captures and the
// value of the last wildcard
func (p pathPattern) match(segments []string) (map[string]string, string, bool) {
	if len(segments) != len(p.segments) {
		return nil, "", false
	}
	var params map[string]string
	for i, seg := range p.segments {
		if seg.isWildcard() {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.param] = segments[i]
			continue
		}
		if seg.literal != segments[i] {
			return nil, "", false
		}
	}
	parentID := ""
	if p.lastWildcard >= 0 {
		parentID = segments[p.lastWildcard]
	}
	return params, parentID, true
}

// hasWildcard reports whether the pattern captures anything
func (p pathPattern) hasWildcard() bool { return p.lastWildcard >= 0 }

// groupID is the final collection id of the pattern
func (p pathPattern) groupID() string {
	last := p.segments[len(p.segments)-1]
	if last.isWildcard() {
		return ""
	}
	return last.literal
}

// Resolution is the outcome of resolving a path to its config
type Resolution struct {
	Config         *CompiledConfig
	CollectionPath string
	DocumentID     string
	ParentID       string
	Params         map[string]string
}

// ConfigResolver owns the process-wide compiled config set. It is built
// once and never mutated, so lookups need no locking.
type ConfigResolver struct {
	configs []*CompiledConfig
	byID    map[string]*CompiledConfig
	logger  logger.Logger
}

// NewConfigResolver compiles configs in order. A config that fails to compile
// is logged and skipped; its ConfigValidationError is returned.
func NewConfigResolver(configs []model.CollectionConfig, registry *TransformRegistry, log logger.Logger) (*ConfigResolver, []error) {
	r := &ConfigResolver{
		byID:   make(map[string]*CompiledConfig, len(configs)),
		logger: log.WithComponent("config_resolver"),
	}

	var skipped []error
	tables := make(map[string]string, len(configs))
	for _, cfg := range configs {
		compiled, err := CompileConfig(cfg, registry)
		if err == nil {
			if _, dup := r.byID[compiled.ID]; dup {
				err = errors.NewConfigValidationError(cfg.ID, "duplicate collection config id")
			} else {
				err = claimTables(tables, compiled)
			}
		}
		if err != nil {
			r.logger.WithError(err).WithFields(map[string]interface{}{"config_id": cfg.ID}).
				Error("Skipping collection config")
			skipped = append(skipped, err)
			continue
		}
		r.configs = append(r.configs, compiled)
		r.byID[compiled.ID] = compiled
		tables[compiled.TableName()] = compiled.ID
		tables[compiled.TrackerTableName()] = compiled.ID
	}

	r.logger.WithFields(map[string]interface{}{
		"loaded":  len(r.configs),
		"skipped": len(skipped),
	}).Info("Collection configs compiled")
	return r, skipped
}

// claimTables rejects a config whose main or tracker table name is already
// used by a loaded config. Dataset and table ids are joined with "_", so
// distinct pairs can still collide.
func claimTables(tables map[string]string, cfg *CompiledConfig) error {
	for _, name := range []string{cfg.TableName(), cfg.TrackerTableName()} {
		if owner, taken := tables[name]; taken {
			return errors.NewConfigValidationError(cfg.ID, "table "+name+" is already used by config "+owner)
		}
	}
	return nil
}

// CompileConfig validates cfg and resolves its patterns, accessors and transforms
func CompileConfig(cfg model.CollectionConfig, registry *TransformRegistry) (*CompiledConfig, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	location, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, errors.NewConfigValidationError(cfg.ID, "unknown timeZone "+cfg.TimeZone).WithCause(err)
	}

	compiled := &CompiledConfig{CollectionConfig: cfg, Location: location}
	for _, raw := range cfg.CollectionPaths {
		p, err := compilePattern(raw)
		if err != nil {
			return nil, errors.NewConfigValidationError(cfg.ID, "invalid collection path").WithCause(err)
		}
		compiled.patterns = append(compiled.patterns, p)
	}

	for _, def := range cfg.Fields {
		accessor, err := model.NewFieldPath(def.SourcePath())
		if err != nil {
			return nil, errors.NewConfigValidationError(cfg.ID, "invalid accessor for field "+def.Name).WithCause(err)
		}
		field := CompiledField{
			Definition: def,
			Type:       def.Type.Canonical(),
			ArrayType:  def.ArrayType.Canonical(),
			Accessor:   accessor,
		}
		if def.Formatter != "" {
			formatter, err := model.NewFieldPath(def.Formatter)
			if err != nil {
				return nil, errors.NewConfigValidationError(cfg.ID, "invalid formater for field "+def.Name).WithCause(err)
			}
			field.Formatter = formatter
		}
		if def.Method != "" {
			if registry == nil {
				return nil, errors.NewConfigValidationError(cfg.ID, "field "+def.Name+" has a method but no transform registry is available")
			}
			fn, err := registry.Compile(def.Method)
			if err != nil {
				return nil, errors.NewConfigValidationError(cfg.ID, "invalid method for field "+def.Name).WithCause(err)
			}
			field.Transform = fn
		}
		compiled.Fields = append(compiled.Fields, field)
	}
	return compiled, nil
}

// Configs returns the compiled configs in declaration order
func (r *ConfigResolver) Configs() []*CompiledConfig {
	return r.configs
}

// Get looks a config up by id
func (r *ConfigResolver) Get(id string) (*CompiledConfig, bool) {
	cfg, ok := r.byID[id]
	return cfg, ok
}

// Resolve finds the first config owning path. Document paths resolve through
// their parent collection; full resource names are accepted.
func (r *ConfigResolver) Resolve(path string) (*Resolution, error) {
	info, err := firestore.ParsePath(path)
	if err != nil {
		return nil, err
	}

	collectionSegments := info.Segments
	documentID := ""
	if info.IsDocument {
		collectionSegments = info.Segments[:len(info.Segments)-1]
		documentID = info.Segments[len(info.Segments)-1]
	}
	collectionPath := strings.Join(collectionSegments, "/")

	for _, cfg := range r.configs {
		parentID, params, ok := cfg.Match(collectionSegments)
		if !ok {
			continue
		}
		return &Resolution{
			Config:         cfg,
			CollectionPath: collectionPath,
			DocumentID:     documentID,
			ParentID:       parentID,
			Params:         params,
		}, nil
	}

	return nil, errors.NewNoMatchingConfigError(info.DocumentPath)
}

// Match tests collection segments against the config: path patterns first,
// then the collection group, whose parent id is the enclosing document id
func (c *CompiledConfig) Match(collectionSegments []string) (string, map[string]string, bool) {
	for _, p := range c.patterns {
		if params, parentID, ok := p.match(collectionSegments); ok {
			return parentID, params, true
		}
	}
	n := len(collectionSegments)
	if c.CollectionGroup != "" && n > 0 && collectionSegments[n-1] == c.CollectionGroup {
		parentID := ""
		if n >= 2 {
			parentID = collectionSegments[n-2]
		}
		return parentID, nil, true
	}
	return "", nil, false
}
