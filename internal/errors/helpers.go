package errors

import (
	"fmt"
	"time"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation)
}

// NewTransientStoreError reports a single failed store write. It is
// recoverable through mesh fallback or the retry queue.
func NewTransientStoreError(messageID string, err error) *AppError {
	return WrapRetryable(err, ErrCodeTransientStore, "store write failed").
		WithContext("message_id", messageID)
}

// NewMeshUnavailableError reports a mesh send attempted before the mesh is up.
func NewMeshUnavailableError(messageID string) *AppError {
	appErr := New(ErrCodeMeshUnavailable, "mesh transport not initialized").
		WithContext("message_id", messageID)
	appErr.Retryable = true
	return appErr
}

// NewMeshSendError wraps a failure returned by the mesh transport.
func NewMeshSendError(messageID string, err error) *AppError {
	return WrapRetryable(err, ErrCodeMeshSend, "mesh send failed").
		WithContext("message_id", messageID)
}

// NewAllMethodsFailedError reports that every attempted path failed.
func NewAllMethodsFailedError(messageID string, method string, causes ...error) *AppError {
	var cause error
	switch len(causes) {
	case 0:
	case 1:
		cause = causes[0]
	default:
		cause = joinCauses(causes)
	}
	return WrapRetryable(cause, ErrCodeAllMethodsFailed, "all delivery methods failed").
		WithContext("message_id", messageID).
		WithContext("delivery_method", method)
}

// NewRetryExhaustedError marks a message that used up its retry budget.
func NewRetryExhaustedError(messageID string, attempts int) *AppError {
	return New(ErrCodeRetryExhausted, fmt.Sprintf("retry limit reached after %d attempts", attempts)).
		WithContext("message_id", messageID).
		WithContext("attempts", attempts)
}

// NewUnsupportedTypeError reports a message type with no store record shape.
func NewUnsupportedTypeError(messageType string) *AppError {
	return New(ErrCodeUnsupportedType, fmt.Sprintf("unsupported message type: %s", messageType)).
		WithContext("message_type", messageType)
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration time.Duration) *AppError {
	appErr := New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration.String())
	appErr.Retryable = true
	return appErr
}

// ErrNotInitialized is returned when the service is used before Initialize.
var ErrNotInitialized = New(ErrCodeNotInitialized, "messaging service not initialized")

type multiCause []error

func (m multiCause) Error() string {
	s := ""
	for i, err := range m {
		if i > 0 {
			s += "; "
		}
		s += err.Error()
	}
	return s
}

func (m multiCause) Unwrap() []error {
	return m
}

func joinCauses(causes []error) error {
	out := make(multiCause, 0, len(causes))
	for _, c := range causes {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}
