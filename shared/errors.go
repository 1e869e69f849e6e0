package shared

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error that carries the HTTP status it should be rendered with.
type AppError struct {
	StatusCode int
	Message    string
	Data       interface{}
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(statusCode int, message string, data interface{}) *AppError {
	return &AppError{StatusCode: statusCode, Message: message, Data: data}
}

// GetAppError maps an error chain onto an AppError. Security errors get their natural status codes.
func GetAppError(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return &AppError{StatusCode: http.StatusInternalServerError, Message: "Security configuration error", Err: err}, true
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return &AppError{StatusCode: http.StatusBadRequest, Message: valErr.Error(), Data: valErr.Field, Err: err}, true
	}

	var storeErr *StoreUnavailableError
	if errors.As(err, &storeErr) {
		return &AppError{StatusCode: http.StatusServiceUnavailable, Message: "Security store unavailable", Err: err}, true
	}

	return nil, false
}

// ConfigurationError signals a deployment bug such as an unknown rate limit action.
// It is never swallowed.
type ConfigurationError struct {
	Action string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("rate limit configuration error for action %q: %s", e.Action, e.Reason)
	}
	return "rate limit configuration error: " + e.Reason
}

func NewConfigurationError(action, reason string) *ConfigurationError {
	return &ConfigurationError{Action: action, Reason: reason}
}

// StoreUnavailableError wraps a transient failure of the counter/blocklist or audit store.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func NewStoreUnavailableError(op string, err error) *StoreUnavailableError {
	return &StoreUnavailableError{Op: op, Err: err}
}

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsStoreUnavailable(err error) bool {
	var target *StoreUnavailableError
	return errors.As(err, &target)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
