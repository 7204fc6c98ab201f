package utils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSetContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithConfigID(ctx, "users")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithDocumentPath(ctx, "users/u1")

	configID, err := GetConfigIDFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "users", configID)

	runID, err := GetRunIDFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	assert.Equal(t, "users", GetConfigIDOrDefault(ctx, "default"))
}

func TestContextUtils_MissingValues(t *testing.T) {
	ctx := context.Background()

	_, err := GetConfigIDFromContext(ctx)
	assert.ErrorIs(t, err, ErrConfigIDNotFound)

	_, err = GetRunIDFromContext(ctx)
	assert.ErrorIs(t, err, ErrRunIDNotFound)

	assert.Equal(t, "fallback", GetConfigIDOrDefault(ctx, "fallback"))
}
