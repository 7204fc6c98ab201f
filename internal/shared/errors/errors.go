package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies failures across the sync pipeline
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "VALIDATION_ERROR"
	ErrorTypeConfigValidation ErrorType = "CONFIG_VALIDATION_ERROR"
	ErrorTypeNoMatchingConfig ErrorType = "NO_MATCHING_CONFIG"
	ErrorTypeTransformWebhook ErrorType = "TRANSFORM_WEBHOOK_ERROR"
	ErrorTypeConsolidation    ErrorType = "CONSOLIDATION_ERROR"
	ErrorTypeBackfillInsert   ErrorType = "BACKFILL_PAGE_INSERT_ERROR"
	ErrorTypeLeaseHeld        ErrorType = "LEASE_HELD"
	ErrorTypeLeaseLost        ErrorType = "LEASE_LOST"
	ErrorTypeAuthentication   ErrorType = "AUTHENTICATION_ERROR"
	ErrorTypeNotFound         ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeInfrastructure   ErrorType = "INFRASTRUCTURE_ERROR"
	ErrorTypeInternal         ErrorType = "INTERNAL_ERROR"
)

// Sentinel errors
var (
	ErrNotFound                = errors.New("resource not found")
	ErrInvalidPath             = errors.New("invalid document path")
	ErrNoMatchingConfig        = errors.New("no collection configuration matches path")
	ErrConsolidationInProgress = errors.New("consolidation already running for configuration")
	ErrLeaseLost               = errors.New("lease expired or was taken over")
	ErrUnauthorized            = errors.New("unauthorized")
)

// AppError represents a custom application error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	HTTPCode  int                    `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, httpCode int) *AppError {
	return &AppError{
		Type:     errorType,
		Message:  message,
		HTTPCode: httpCode,
		Details:  make(map[string]interface{}),
	}
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewValidationError creates a request validation error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewConfigValidationError reports a collection configuration that cannot be loaded
func NewConfigValidationError(configID, message string) *AppError {
	return NewAppError(ErrorTypeConfigValidation, message, http.StatusUnprocessableEntity).
		WithDetail("config_id", configID)
}

// NewNoMatchingConfigError reports a document path no configuration owns
func NewNoMatchingConfigError(path string) *AppError {
	return NewAppError(ErrorTypeNoMatchingConfig, "no matching configuration", http.StatusNotFound).
		WithCause(ErrNoMatchingConfig).
		WithDetail("path", path)
}

// NewTransformWebhookError reports a failed remote transform call
func NewTransformWebhookError(url string, cause error) *AppError {
	return NewAppError(ErrorTypeTransformWebhook, "transform webhook failed", http.StatusBadGateway).
		WithCause(cause).
		WithDetail("url", url)
}

// NewConsolidationError reports a failed consolidation step for one configuration
func NewConsolidationError(configID, step string, cause error) *AppError {
	return NewAppError(ErrorTypeConsolidation, "consolidation failed during "+step, http.StatusInternalServerError).
		WithCause(cause).
		WithDetail("config_id", configID).
		WithDetail("step", step)
}

// NewBackfillPageInsertError reports a page of backfill rows the warehouse rejected
func NewBackfillPageInsertError(configID string, page int, rows int, cause error) *AppError {
	return NewAppError(ErrorTypeBackfillInsert, "backfill page insert failed", http.StatusInternalServerError).
		WithCause(cause).
		WithDetail("config_id", configID).
		WithDetail("page", page).
		WithDetail("rows", rows)
}

// NewLeaseHeldError reports that another run owns the configuration's lease
func NewLeaseHeldError(key string) *AppError {
	return NewAppError(ErrorTypeLeaseHeld, "lease is held by another run", http.StatusConflict).
		WithCause(ErrConsolidationInProgress).
		WithDetail("lease", key)
}

// NewLeaseLostError reports that a holder no longer owns its lease
func NewLeaseLostError(key string) *AppError {
	return NewAppError(ErrorTypeLeaseLost, "lease is no longer held", http.StatusConflict).
		WithCause(ErrLeaseLost).
		WithDetail("lease", key)
}

// NewAuthenticationError creates an authentication error
func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, message, http.StatusUnauthorized).WithCause(ErrUnauthorized)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound).
		WithCause(ErrNotFound)
}

// NewInfrastructureError creates an infrastructure error
func NewInfrastructureError(message string) *AppError {
	return NewAppError(ErrorTypeInfrastructure, message, http.StatusInternalServerError)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// ValidationError represents a validation failure on a single field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationErrors collects validation failures
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s: %s", ve.Errors[0].Field, ve.Errors[0].Message)
}

// NewValidationErrors creates a new validation errors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make([]ValidationError, 0),
	}
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, message string, value interface{}) *ValidationErrors {
	ve.Errors = append(ve.Errors, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
	return ve
}

// HasErrors returns true if there are validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ToConfigError converts the collected failures into a ConfigValidationError
func (ve *ValidationErrors) ToConfigError(configID string) *AppError {
	if !ve.HasErrors() {
		return nil
	}
	appErr := NewConfigValidationError(configID, ve.Error())
	appErr.Details["validation_errors"] = ve.Errors
	return appErr
}

// WrapError wraps an error with context unless it already is an AppError
func WrapError(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

// TypeOf returns the ErrorType of the first AppError in err's chain
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// HTTPStatus returns the HTTP status carried by err, or 500
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPCode != 0 {
		return appErr.HTTPCode
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound || errors.Is(err, ErrNotFound)
}

// IsNoMatchingConfig checks if an error means no configuration owns a path
func IsNoMatchingConfig(err error) bool {
	return TypeOf(err) == ErrorTypeNoMatchingConfig || errors.Is(err, ErrNoMatchingConfig)
}

// IsConfigValidation checks if an error is a configuration validation error
func IsConfigValidation(err error) bool {
	return TypeOf(err) == ErrorTypeConfigValidation
}

// IsTransformWebhook checks if an error came from the remote transform
func IsTransformWebhook(err error) bool {
	return TypeOf(err) == ErrorTypeTransformWebhook
}

// IsLeaseHeld checks if an error means a concurrent run owns the lease
func IsLeaseHeld(err error) bool {
	return TypeOf(err) == ErrorTypeLeaseHeld || errors.Is(err, ErrConsolidationInProgress)
}

// IsLeaseLost checks if an error means a run lost its lease while running
func IsLeaseLost(err error) bool {
	return TypeOf(err) == ErrorTypeLeaseLost || errors.Is(err, ErrLeaseLost)
}
