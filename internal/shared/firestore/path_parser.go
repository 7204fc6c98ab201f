package firestore

import (
	"regexp"
	"strings"

	"firestore-sync/internal/shared/errors"
)

// PathInfo represents a parsed document or collection path
type PathInfo struct {
	ProjectID    string
	DatabaseID   string
	DocumentPath string
	IsDocument   bool
	IsCollection bool
	Segments     []string
}

var (
	// Resource name form: projects/{PROJECT_ID}/databases/{DATABASE_ID}/documents/{DOCUMENT_PATH}
	firestorePathRegex = regexp.MustCompile(`^projects/([^/]+)/databases/([^/]+)/documents/(.*)$`)

	// Reserved IDs look like __name__
	reservedIDPattern = regexp.MustCompile(`^__.*__$`)
)

// MaxIDLength is the largest document or collection ID accepted, in bytes
const MaxIDLength = 1500

// ParsePath parses either a full resource name or a relative path such as
// "users/u1/orders/o1". Relative paths leave ProjectID and DatabaseID empty.
func ParsePath(path string) (*PathInfo, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, errors.NewValidationError("path cannot be empty").WithCause(errors.ErrInvalidPath)
	}

	info := &PathInfo{DocumentPath: path}
	if matches := firestorePathRegex.FindStringSubmatch(path); len(matches) == 4 {
		info.ProjectID = matches[1]
		info.DatabaseID = matches[2]
		info.DocumentPath = matches[3]
	}

	segments := ParseDocumentPath(info.DocumentPath)
	if len(segments) == 0 {
		return nil, errors.NewValidationError("document path cannot be empty").
			WithCause(errors.ErrInvalidPath).
			WithDetail("provided_path", path)
	}

	for i, segment := range segments {
		if !IsValidID(segment) {
			return nil, errors.NewValidationError("invalid path segment").
				WithCause(errors.ErrInvalidPath).
				WithDetail("segment", segment).
				WithDetail("position", i)
		}
	}

	info.DocumentPath = BuildDocumentPath(segments...)
	info.Segments = segments
	info.IsDocument = len(segments)%2 == 0
	info.IsCollection = !info.IsDocument
	return info, nil
}

// ParseDocumentPath splits a relative path into its non-empty segments
func ParseDocumentPath(documentPath string) []string {
	if documentPath == "" {
		return []string{}
	}

	segments := strings.Split(documentPath, "/")
	result := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment != "" {
			result = append(result, segment)
		}
	}
	return result
}

// BuildDocumentPath constructs a path from segments
func BuildDocumentPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// GetCollectionPath returns the collection path for a document, or the path itself
// when it already names a collection
func GetCollectionPath(documentPath string) (string, error) {
	segments := ParseDocumentPath(documentPath)
	if len(segments) == 0 {
		return "", errors.NewValidationError("empty document path").WithCause(errors.ErrInvalidPath)
	}

	if len(segments)%2 == 1 {
		return BuildDocumentPath(segments...), nil
	}
	return BuildDocumentPath(segments[:len(segments)-1]...), nil
}

// GetDocumentID returns the last segment of a document path
func GetDocumentID(documentPath string) (string, error) {
	segments := ParseDocumentPath(documentPath)
	if len(segments) == 0 {
		return "", errors.NewValidationError("empty document path").WithCause(errors.ErrInvalidPath)
	}
	if len(segments)%2 == 1 {
		return "", errors.NewValidationError("path is a collection, not a document").WithCause(errors.ErrInvalidPath)
	}
	return segments[len(segments)-1], nil
}

// GetCollectionID returns the ID of the innermost collection on a path
func GetCollectionID(path string) (string, error) {
	segments := ParseDocumentPath(path)
	if len(segments) == 0 {
		return "", errors.NewValidationError("empty path").WithCause(errors.ErrInvalidPath)
	}
	if len(segments)%2 == 0 {
		return segments[len(segments)-2], nil
	}
	return segments[len(segments)-1], nil
}

// IsValidID checks a single document or collection ID
func IsValidID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if len(id) > MaxIDLength {
		return false
	}
	if strings.Contains(id, "/") {
		return false
	}
	return !reservedIDPattern.MatchString(id)
}

// IsDocumentPath checks if a path represents a document
func IsDocumentPath(path string) bool {
	segments := ParseDocumentPath(path)
	return len(segments) > 0 && len(segments)%2 == 0
}

// IsCollectionPath checks if a path represents a collection
func IsCollectionPath(path string) bool {
	segments := ParseDocumentPath(path)
	return len(segments) > 0 && len(segments)%2 == 1
}

// JoinPaths joins path fragments, dropping empty ones
func JoinPaths(segments ...string) string {
	var validSegments []string
	for _, segment := range segments {
		if trimmed := strings.Trim(segment, "/"); trimmed != "" {
			validSegments = append(validSegments, trimmed)
		}
	}
	return strings.Join(validSegments, "/")
}
