package model

import (
	"regexp"
	"strings"

	"firestore-sync/internal/shared/errors"
)

// FieldType is the warehouse column type of a FieldDefinition
type FieldType string

const (
	FieldTypeString     FieldType = "STRING"
	FieldTypeNumeric    FieldType = "NUMERIC"
	FieldTypeFloat64    FieldType = "FLOAT64"
	FieldTypeInt64      FieldType = "INT64"
	FieldTypeBigNumeric FieldType = "BIGNUMERIC"
	FieldTypeBigDecimal FieldType = "BIGDECIMAL"
	FieldTypeBool       FieldType = "BOOL"
	FieldTypeTimestamp  FieldType = "TIMESTAMP"
	FieldTypeDatetime   FieldType = "DATETIME"
	FieldTypeDate       FieldType = "DATE"
	FieldTypeArray      FieldType = "ARRAY"
	FieldTypeJSON       FieldType = "JSON"
	FieldTypeRepeated   FieldType = "REPEATED"
)

// Canonical folds type aliases: FLOAT64/INT64 to NUMERIC, BIGDECIMAL to
// BIGNUMERIC and DATETIME to TIMESTAMP
func (t FieldType) Canonical() FieldType {
	switch FieldType(strings.ToUpper(string(t))) {
	case FieldTypeNumeric, FieldTypeFloat64, FieldTypeInt64:
		return FieldTypeNumeric
	case FieldTypeBigNumeric, FieldTypeBigDecimal:
		return FieldTypeBigNumeric
	case FieldTypeTimestamp, FieldTypeDatetime:
		return FieldTypeTimestamp
	case FieldTypeString:
		return FieldTypeString
	case FieldTypeBool:
		return FieldTypeBool
	case FieldTypeDate:
		return FieldTypeDate
	case FieldTypeArray:
		return FieldTypeArray
	case FieldTypeJSON:
		return FieldTypeJSON
	case FieldTypeRepeated:
		return FieldTypeRepeated
	}
	return ""
}

func (t FieldType) IsValid() bool { return t.Canonical() != "" }

// IsSerialized reports whether the tracker log stores the column as JSON text
func (t FieldType) IsSerialized() bool {
	switch t.Canonical() {
	case FieldTypeArray, FieldTypeJSON, FieldTypeRepeated:
		return true
	}
	return false
}

// FieldDefinition describes one warehouse column
type FieldDefinition struct {
	Name      string    `json:"name" yaml:"name"`
	Type      FieldType `json:"type" yaml:"type"`
	Accessor  string    `json:"accessor,omitempty" yaml:"accessor,omitempty"`
	Formatter string    `json:"formater,omitempty" yaml:"formater,omitempty"`
	Method    string    `json:"method,omitempty" yaml:"method,omitempty"`
	ArrayType FieldType `json:"arrayType,omitempty" yaml:"arrayType,omitempty"`
}

// SourcePath is the accessor, defaulting to the column name
func (f FieldDefinition) SourcePath() string {
	if f.Accessor != "" {
		return f.Accessor
	}
	return f.Name
}

// columnNamePattern is the warehouse column identifier syntax
var columnNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,299}$`)

// Collection config defaults
const (
	DefaultDatasetID       = "firestore_sync"
	DefaultDatasetLocation = "eu"
	DefaultSchedule        = "0 0 * * *"
	DefaultTimeZone        = "UTC"
)

// CollectionConfig binds document path patterns to a warehouse table
type CollectionConfig struct {
	ID                          string            `json:"id" yaml:"id"`
	CollectionPaths             []string          `json:"collectionPaths" yaml:"collectionPaths"`
	CollectionGroup             string            `json:"collectionGroup,omitempty" yaml:"collectionGroup,omitempty"`
	DatasetID                   string            `json:"datasetId" yaml:"datasetId"`
	TableID                     string            `json:"tableId" yaml:"tableId"`
	DatasetLocation             string            `json:"datasetLocation" yaml:"datasetLocation"`
	Backfill                    *bool             `json:"backfill,omitempty" yaml:"backfill,omitempty"`
	IncludeParentIDInDocumentID bool              `json:"includeParentIdInDocumentId,omitempty" yaml:"includeParentIdInDocumentId,omitempty"`
	TransformURL                string            `json:"transformUrl,omitempty" yaml:"transformUrl,omitempty"`
	Schedule                    string            `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	TimeZone                    string            `json:"timeZone,omitempty" yaml:"timeZone,omitempty"`
	Fields                      []FieldDefinition `json:"fields" yaml:"fields"`
}

// ApplyDefaults fills unset optional settings
func (c *CollectionConfig) ApplyDefaults() {
	if c.DatasetID == "" {
		c.DatasetID = DefaultDatasetID
	}
	if c.DatasetLocation == "" {
		c.DatasetLocation = DefaultDatasetLocation
	}
	if c.Backfill == nil {
		enabled := true
		c.Backfill = &enabled
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.TimeZone == "" {
		c.TimeZone = DefaultTimeZone
	}
}

// BackfillEnabled defaults to true when unset
func (c *CollectionConfig) BackfillEnabled() bool {
	return c.Backfill == nil || *c.Backfill
}

// TableName is the main table identifier inside the warehouse
func (c *CollectionConfig) TableName() string {
	return c.DatasetID + "_" + c.TableID
}

// TrackerTableName is the change log identifier inside the warehouse
func (c *CollectionConfig) TrackerTableName() string {
	return c.TableName() + "_changelog"
}

// Validate checks required settings. It returns a ConfigValidationError
// listing every problem found.
func (c *CollectionConfig) Validate() error {
	ve := errors.NewValidationErrors()

	if strings.TrimSpace(c.ID) == "" {
		ve.Add("id", "is required", c.ID)
	}
	if len(c.CollectionPaths) == 0 && c.CollectionGroup == "" {
		ve.Add("collectionPaths", "at least one path or a collectionGroup is required", nil)
	}
	for _, p := range c.CollectionPaths {
		segments := strings.Split(strings.Trim(p, "/"), "/")
		if strings.Trim(p, "/") == "" || len(segments)%2 == 0 {
			ve.Add("collectionPaths", "must be a collection path with an odd number of segments", p)
		}
	}
	if c.TableID == "" {
		ve.Add("tableId", "is required", nil)
	}
	if len(c.Fields) == 0 {
		ve.Add("fields", "at least one field is required", nil)
	}

	seen := make(map[string]bool, len(c.Fields))
	for i, f := range c.Fields {
		switch {
		case f.Name == "":
			ve.Add("fields", "name is required", i)
		case f.Name == "documentId" || f.Name == "changeType" || f.Name == "timestamp":
			ve.Add("fields", "name is reserved", f.Name)
		case seen[f.Name]:
			ve.Add("fields", "name must be unique", f.Name)
		case !columnNamePattern.MatchString(f.Name):
			ve.Add("fields", "name must be letters, digits or underscores and not start with a digit", f.Name)
		}
		seen[f.Name] = true

		if !f.Type.IsValid() {
			ve.Add("fields."+f.Name+".type", "unknown type", string(f.Type))
		}
		if f.ArrayType != "" && !f.ArrayType.IsValid() {
			ve.Add("fields."+f.Name+".arrayType", "unknown type", string(f.ArrayType))
		}
		if src := f.SourcePath(); src != "" {
			if _, err := NewFieldPath(src); err != nil {
				ve.Add("fields."+f.Name+".accessor", err.Error(), src)
			}
		}
		if f.Formatter != "" {
			if _, err := NewFieldPath(f.Formatter); err != nil {
				ve.Add("fields."+f.Name+".formater", err.Error(), f.Formatter)
			}
		}
	}

	if appErr := ve.ToConfigError(c.ID); appErr != nil {
		return appErr
	}
	return nil
}
