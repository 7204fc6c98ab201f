//go:build unit
// +build unit

package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKey_String(t *testing.T) {
	key := contextKey("testKey")
	assert.Equal(t, "firestore-sync context key testKey", key.String())
}

func TestContextKeys_Usage(t *testing.T) {
	ctx := context.Background()
	ctx = context.WithValue(ctx, InstanceIDKey, "eu-1")
	ctx = context.WithValue(ctx, ConfigIDKey, "users")
	ctx = context.WithValue(ctx, DocumentPathKey, "users/u1")
	ctx = context.WithValue(ctx, RunIDKey, "run-1")
	ctx = context.WithValue(ctx, ComponentKey, "consolidation")

	assert.Equal(t, "eu-1", ctx.Value(InstanceIDKey))
	assert.Equal(t, "users", ctx.Value(ConfigIDKey))
	assert.Equal(t, "users/u1", ctx.Value(DocumentPathKey))
	assert.Equal(t, "run-1", ctx.Value(RunIDKey))
	assert.Equal(t, "consolidation", ctx.Value(ComponentKey))

	assert.Nil(t, ctx.Value(contextKey("other")))
	assert.Nil(t, ctx.Value("configID"), "plain strings do not collide")
}
