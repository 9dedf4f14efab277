package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Registry errors
	ErrVersionNotFound  = errors.New("model version not found")
	ErrVersionActive    = errors.New("cannot delete active version")
	ErrNoActiveModel    = errors.New("no active model available")
	ErrArtifactNotFound = errors.New("model artifact not found")
	ErrArtifactCorrupt  = errors.New("model artifact is corrupt")

	// Prediction errors
	ErrPredictionFailed = errors.New("model prediction failed")
	ErrFeatureMismatch  = errors.New("feature vector does not match model schema")
	ErrBatchTooLarge    = errors.New("batch exceeds maximum size")

	// Storage errors
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrStorageWriteFailed      = errors.New("storage write failed")
	ErrStorageReadFailed       = errors.New("storage read failed")
	ErrStorageTimeout          = errors.New("storage operation timeout")

	// Training errors
	ErrTrainingInProgress = errors.New("training already in progress")
	ErrTrainingFailed     = errors.New("model training failed")

	// Rate limiting errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Internal errors
	ErrInternal    = errors.New("internal error")
	ErrUnavailable = errors.New("service unavailable")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeRegistry   ErrorType = "registry"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypePrediction ErrorType = "prediction"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeInternal   ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Retryable:  false,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  isRetryable(err),
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewNotFoundError creates a registry not-found error
func NewNotFoundError(code, message string) *AppError {
	return NewAppError(ErrorTypeRegistry, code, message)
}

// NewConflictError creates a conflict error
func NewConflictError(code, message string) *AppError {
	return NewAppError(ErrorTypeConflict, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewPredictionError creates a prediction error
func NewPredictionError(code, message string) *AppError {
	return NewAppError(ErrorTypePrediction, code, message)
}

// NewUnavailableError creates a service-unavailable error, surfaced
// distinctly from generic failures so callers can retry with backoff
func NewUnavailableError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       CodeServiceUnavailable,
		Message:    message,
		Retryable:  true,
		HTTPStatus: 503,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Code:       CodeRateLimitExceeded,
		Message:    message,
		Retryable:  true,
		HTTPStatus: 429,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       CodeInternalError,
		Message:    message,
		Retryable:  false,
		HTTPStatus: 500,
	}
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation:
		return 400
	case ErrorTypeRegistry:
		return 404
	case ErrorTypeConflict:
		return 409
	case ErrorTypeRateLimit:
		return 429
	case ErrorTypePrediction, ErrorTypeInternal:
		return 500
	case ErrorTypeStorage:
		return 503
	default:
		return 500
	}
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrStorageTimeout):
		return true
	case errors.Is(err, ErrStorageConnectionFailed):
		return true
	case errors.Is(err, ErrRateLimitExceeded):
		return true
	case errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}

// ErrorResponse represents an error response for APIs
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeInvalidInput   = "INVALID_INPUT"
	CodeMissingField   = "MISSING_FIELD"
	CodeOutOfRange     = "OUT_OF_RANGE"
	CodeInvalidJobType = "INVALID_JOB_TYPE"
	CodeBatchTooLarge  = "BATCH_TOO_LARGE"

	// Registry error codes
	CodeVersionNotFound = "VERSION_NOT_FOUND"
	CodeVersionActive   = "VERSION_ACTIVE"
	CodeVersionDeleting = "VERSION_DELETING"
	CodeNoActiveModel   = "NO_ACTIVE_MODEL"

	// Prediction error codes
	CodePredictionFailed = "PREDICTION_FAILED"
	CodeFeatureMismatch  = "FEATURE_MISMATCH"
	CodeModelLoadFailed  = "MODEL_LOAD_FAILED"

	// Storage error codes
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"
	CodeStorageTimeout   = "STORAGE_TIMEOUT"

	// Training error codes
	CodeTrainingInProgress = "TRAINING_IN_PROGRESS"
	CodeTrainingFailed     = "TRAINING_FAILED"

	// Rate limiting error codes
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	// Internal error codes
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
