// Package errors provides standardized error handling for the loan pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Business failures: recorded as an ErrorRecord and acknowledged.
	ErrCodeDecodeError      ErrorCode = "DECODE_ERROR"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeEnrichmentFailed ErrorCode = "ENRICHMENT_FAILED"

	// Operational failures.
	ErrCodePersistenceFailed  ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeCounterStoreFailed ErrorCode = "COUNTER_STORE_FAILED"
	ErrCodeChangeStreamFailed ErrorCode = "CHANGE_STREAM_FAILED"
	ErrCodeQueueFailed        ErrorCode = "QUEUE_FAILED"
	ErrCodeSearchIndexFailed  ErrorCode = "SEARCH_INDEX_FAILED"
	ErrCodeAlertSendFailed    ErrorCode = "ALERT_SEND_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorRecord errorType tags.
const (
	ErrorTypeDecode     = "decode_error"
	ErrorTypeProcessing = "processing_error"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewDecodeError is raised when a queued payload is not a JSON object.
func NewDecodeError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDecodeError,
		Message:   "Malformed message",
		Details:   errDetails(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewValidationFailedError carries the human readable validation summary as its message.
func NewValidationFailedError(message string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   message,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewEnrichmentFailedError(applicantID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEnrichmentFailed,
		Message:   "Enrichment failed",
		Details:   fmt.Sprintf("applicantId: %s, error: %s", applicantID, errDetails(err)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewPersistenceFailedError is retryable: the message stays pending and is redelivered.
func NewPersistenceFailedError(entity string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailed,
		Message:   "Record store write failed",
		Details:   fmt.Sprintf("entity: %s, error: %s", entity, errDetails(err)),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewCounterStoreFailedError(key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCounterStoreFailed,
		Message:   "Counter store operation failed",
		Details:   fmt.Sprintf("key: %s, error: %s", key, errDetails(err)),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewChangeStreamFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeChangeStreamFailed,
		Message:   "Error record change stream failed",
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewQueueFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueFailed,
		Message:   "Ingestion queue operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, errDetails(err)),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewSearchIndexFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchIndexFailed,
		Message:   "Search index write failed",
		Details:   errDetails(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewAlertSendFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlertSendFailed,
		Message:   "Alert publish failed",
		Details:   errDetails(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 3. Classification
// ==========================

// AsStandardError extracts a StandardError from the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first StandardError in the chain, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsBusinessError reports whether err is an outcome that gets recorded as an
// ErrorRecord, as opposed to an operational failure.
func IsBusinessError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDecodeError, ErrCodeValidationFailed, ErrCodeEnrichmentFailed:
		return true
	default:
		return false
	}
}

// ErrorTypeFor maps a business error code onto the ErrorRecord errorType tag.
func ErrorTypeFor(code ErrorCode) string {
	if code == ErrCodeDecodeError {
		return ErrorTypeDecode
	}
	return ErrorTypeProcessing
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	switch code {
	case ErrCodePersistenceFailed, ErrCodeCounterStoreFailed, ErrCodeChangeStreamFailed, ErrCodeQueueFailed:
		return true
	default:
		return false
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "DECODE") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "ENRICHMENT"):
		return "ENRICHMENT"
	case strings.Contains(codeStr, "PERSISTENCE") || strings.Contains(codeStr, "CHANGE_STREAM"):
		return "DATABASE"
	case strings.Contains(codeStr, "COUNTER") || strings.Contains(codeStr, "QUEUE"):
		return "REDIS"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "ALERT"):
		return "NOTIFICATION"
	default:
		return "OTHER"
	}
}
