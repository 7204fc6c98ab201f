package firestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantPath     string
		wantProject  string
		wantDocument bool
		wantErr      bool
	}{
		{name: "relative document", input: "users/u1", wantPath: "users/u1", wantDocument: true},
		{name: "relative collection", input: "users/u1/orders", wantPath: "users/u1/orders"},
		{name: "leading and trailing slashes", input: "/users/u1/", wantPath: "users/u1", wantDocument: true},
		{
			name:         "resource name",
			input:        "projects/p1/databases/(default)/documents/users/u1",
			wantPath:     "users/u1",
			wantProject:  "p1",
			wantDocument: true,
		},
		{name: "empty", input: "", wantErr: true},
		{name: "reserved id", input: "users/__id__", wantErr: true},
		{name: "dot segment", input: "users/..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParsePath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, info.DocumentPath)
			assert.Equal(t, tt.wantProject, info.ProjectID)
			assert.Equal(t, tt.wantDocument, info.IsDocument)
			assert.Equal(t, !tt.wantDocument, info.IsCollection)
		})
	}
}

func TestPathHelpers(t *testing.T) {
	collection, err := GetCollectionPath("users/u1/orders/o1")
	require.NoError(t, err)
	assert.Equal(t, "users/u1/orders", collection)

	collection, err = GetCollectionPath("users")
	require.NoError(t, err)
	assert.Equal(t, "users", collection)

	id, err := GetDocumentID("users/u1/orders/o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", id)

	_, err = GetDocumentID("users")
	assert.Error(t, err)

	collectionID, err := GetCollectionID("users/u1/orders/o1")
	require.NoError(t, err)
	assert.Equal(t, "orders", collectionID)

	assert.True(t, IsDocumentPath("a/b"))
	assert.True(t, IsCollectionPath("a/b/c"))
	assert.Equal(t, "a/b/c", JoinPaths("/a/", "", "b", "c/"))
	assert.Equal(t, []string{"a", "b"}, ParseDocumentPath("a//b/"))
}

func TestIsValidID(t *testing.T) {
	assert.True(t, IsValidID("user 1@example.com"))
	assert.False(t, IsValidID(""))
	assert.False(t, IsValidID("a/b"))
	assert.False(t, IsValidID("__name__"))
}
