package utils

import (
	"context"
	"errors"

	"firestore-sync/internal/shared/contextkeys"
)

// Common context errors
var (
	ErrConfigIDNotFound  = errors.New("configID not found in context")
	ErrConfigIDNotString = errors.New("configID in context is not a string")
	ErrRunIDNotFound     = errors.New("runID not found in context")
	ErrRunIDNotString    = errors.New("runID in context is not a string")
)

// GetConfigIDFromContext retrieves the collection configuration ID from the context.
func GetConfigIDFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(contextkeys.ConfigIDKey)
	if val == nil {
		return "", ErrConfigIDNotFound
	}
	configID, ok := val.(string)
	if !ok {
		return "", ErrConfigIDNotString
	}
	return configID, nil
}

// GetRunIDFromContext retrieves the consolidation/backfill run ID from the context.
func GetRunIDFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(contextkeys.RunIDKey)
	if val == nil {
		return "", ErrRunIDNotFound
	}
	runID, ok := val.(string)
	if !ok {
		return "", ErrRunIDNotString
	}
	return runID, nil
}

// Context builder functions

// WithInstanceID adds the sync instance ID to context
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, contextkeys.InstanceIDKey, instanceID)
}

// WithConfigID adds the collection configuration ID to context
func WithConfigID(ctx context.Context, configID string) context.Context {
	return context.WithValue(ctx, contextkeys.ConfigIDKey, configID)
}

// WithDocumentPath adds the document path to context
func WithDocumentPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, contextkeys.DocumentPathKey, path)
}

// WithRunID adds a run ID to context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, contextkeys.RunIDKey, runID)
}

// WithComponent adds component name to context
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, contextkeys.ComponentKey, component)
}

// GetConfigIDOrDefault retrieves the config ID from context or returns a default value
func GetConfigIDOrDefault(ctx context.Context, def string) string {
	if v, err := GetConfigIDFromContext(ctx); err == nil {
		return v
	}
	return def
}
