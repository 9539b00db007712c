package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across layers.
var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch means an embedding vector does not have the
	// configured dimension. It is a configuration fault, never truncated.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrRationaleUnavailable marks a rationale attempt that failed in a way
	// the matcher tolerates (timeout, network, breaker open, empty answer).
	ErrRationaleUnavailable = errors.New("rationale unavailable")
)

// MatchError represents a standardized error response
type MatchError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	cause     error
}

// Error implements the error interface
func (e *MatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *MatchError) Unwrap() error {
	return e.cause
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput   = "INVALID_INPUT"
	ErrValidation     = "VALIDATION_ERROR"
	ErrEmbedding      = "EMBEDDING_ERROR"
	ErrRetrieval      = "RETRIEVAL_ERROR"
	ErrConfiguration  = "CONFIGURATION_ERROR"
	ErrDatabaseError  = "DATABASE_ERROR"
	ErrExternalAPI    = "EXTERNAL_API_ERROR"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewMatchError creates a new MatchError with timestamp. cause may be nil.
func NewMatchError(code, message string, cause error) *MatchError {
	e := &MatchError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// WithRequestID returns the error tagged with a request id.
func (e *MatchError) WithRequestID(requestID string) *MatchError {
	e.RequestID = requestID
	return e
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ErrorCode classifies err into one of the error codes above. Dimension
// mismatches are configuration faults regardless of where they surface.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrDimensionMismatch) {
		return ErrConfiguration
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return ErrValidation
	}
	var merr *MatchError
	if errors.As(err, &merr) {
		return merr.Code
	}
	return ErrInternalServer
}
