package model

import (
	"errors"
	"fmt"
	"strings"
)

// FieldPath is a compiled dot-separated accessor into a document value.
// Numeric segments index into arrays, e.g. "items.0.sku".
type FieldPath struct {
	segments []string
	raw      string
}

const (
	MaxFieldPathDepth  = 100
	MaxFieldNameLength = 1500
)

var (
	ErrEmptyFieldPath         = errors.New("field path cannot be empty")
	ErrInvalidFieldPathFormat = errors.New("invalid field path format")
	ErrInvalidFieldName       = errors.New("invalid field name")
	ErrFieldPathTooDeep       = errors.New("field path exceeds maximum depth")
)

// NewFieldPath compiles an accessor such as "customer.address.city"
func NewFieldPath(path string) (*FieldPath, error) {
	if path == "" {
		return nil, ErrEmptyFieldPath
	}
	if strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
		return nil, ErrInvalidFieldPathFormat
	}

	segments := strings.Split(path, ".")
	if len(segments) > MaxFieldPathDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds maximum %d", ErrFieldPathTooDeep, len(segments), MaxFieldPathDepth)
	}
	for _, segment := range segments {
		if !isValidSegment(segment) {
			return nil, fmt.Errorf("%w: invalid segment '%s'", ErrInvalidFieldName, segment)
		}
	}

	return &FieldPath{segments: segments, raw: path}, nil
}

// MustNewFieldPath panics on an invalid path; for literals only
func MustNewFieldPath(path string) *FieldPath {
	fp, err := NewFieldPath(path)
	if err != nil {
		panic(fmt.Sprintf("invalid field path '%s': %v", path, err))
	}
	return fp
}

func (fp *FieldPath) Raw() string { return fp.raw }

func (fp *FieldPath) String() string { return fp.raw }

// Segments returns a copy of the path segments
func (fp *FieldPath) Segments() []string {
	return append([]string{}, fp.segments...)
}

func (fp *FieldPath) Depth() int { return len(fp.segments) }

func (fp *FieldPath) IsNested() bool { return len(fp.segments) > 1 }

func isValidSegment(name string) bool {
	if name == "" || len(name) > MaxFieldNameLength {
		return false
	}
	return !strings.ContainsAny(name, "/[]*`")
}
