// Package errors provides custom error types for the dashboard's failure taxonomy:
// transport failures, payload shape failures and business rejections.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotFound             = errors.New("not found")
	ErrUnknownInstance      = errors.New("unknown instance")
	ErrInvalidAction        = errors.New("invalid control action")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrConfirmationExpired  = errors.New("confirmation expired")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrClosed               = errors.New("component closed")
	ErrDatabaseError        = errors.New("database error")
)

// TransportError represents a network failure or a non-2xx response.
// StatusCode is zero when the request never produced a response.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transport error [%s %s]: %v", e.Method, e.URL, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("transport error [%s %s]: http %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("transport error [%s %s]: http %d", e.Method, e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError.
func NewTransportError(method, url string, statusCode int, body string, err error) *TransportError {
	return &TransportError{
		Method:     method,
		URL:        url,
		StatusCode: statusCode,
		Body:       body,
		Err:        err,
	}
}

// ShapeError represents a payload that is not structured data at all.
// Missing or malformed optional fields never produce a ShapeError; they are defaulted.
type ShapeError struct {
	Resource string
	Err      error
}

func (e *ShapeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("shape error [%s]: %v", e.Resource, ErrInvalidPayload)
	}
	return fmt.Sprintf("shape error [%s]: %v", e.Resource, e.Err)
}

func (e *ShapeError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidPayload
	}
	return e.Err
}

// Is reports every shape error as ErrInvalidPayload.
func (e *ShapeError) Is(target error) bool {
	return target == ErrInvalidPayload
}

// NewShapeError creates a new ShapeError.
func NewShapeError(resource string, err error) *ShapeError {
	return &ShapeError{
		Resource: resource,
		Err:      err,
	}
}

// RejectionError represents a control, install or delete refused by the server.
type RejectionError struct {
	Operation  string
	InstanceID string
	Message    string
}

func (e *RejectionError) Error() string {
	if e.InstanceID != "" {
		return fmt.Sprintf("rejected [%s %s]: %s", e.Operation, e.InstanceID, e.Message)
	}
	return fmt.Sprintf("rejected [%s]: %s", e.Operation, e.Message)
}

// NewRejectionError creates a new RejectionError.
func NewRejectionError(operation, instanceID, message string) *RejectionError {
	return &RejectionError{
		Operation:  operation,
		InstanceID: instanceID,
		Message:    message,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejection reports whether err carries a RejectionError.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// Message returns a short human readable message for UI display.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Message
	}
	var te *TransportError
	if errors.As(err, &te) {
		if te.StatusCode == 0 {
			return fmt.Sprintf("backend unreachable: %v", te.Err)
		}
		if te.Body != "" {
			return fmt.Sprintf("%d - %s", te.StatusCode, te.Body)
		}
		return fmt.Sprintf("API error: %d", te.StatusCode)
	}
	return err.Error()
}
