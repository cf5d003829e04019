// internal/common/errors/handler.go
package errors

import (
	"time"
)

// ErrorHandler logs failures in a uniform shape across components.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle normalizes err and logs it with the supplied context. Business
// failures are expected outcomes and are logged at warn level.
func (h *ErrorHandler) Handle(component string, err error, fields map[string]interface{}) *StandardError {
	stdErr := h.normalizeError(err)

	out := map[string]interface{}{
		"component":     component,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	for k, v := range stdErr.Metadata {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}

	if IsBusinessError(stdErr) {
		h.logger.Warn("Message rejected", out)
	} else {
		h.logger.Error("Operation failed", out)
	}
	return stdErr
}

// normalizeError ensures we always have a StandardError
func (h *ErrorHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   errDetails(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}
