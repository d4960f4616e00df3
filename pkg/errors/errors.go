package errors

import "fmt"

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	// Recognition errors
	ErrorTypeSegmentation  ErrorType = "segmentation"
	ErrorTypeLowConfidence ErrorType = "low_confidence"
	ErrorTypeModelCorrupt  ErrorType = "model_corrupt"

	// Site interaction errors
	ErrorTypeProfileUpdate ErrorType = "profile_update"
	ErrorTypeLinkNotFound  ErrorType = "link_not_found"
	ErrorTypeTransfer      ErrorType = "transfer"
	ErrorTypeAuthExpired   ErrorType = "auth_expired"

	// Verification errors
	ErrorTypeMissingTicker   ErrorType = "missing_required_ticker"
	ErrorTypeForbiddenTicker ErrorType = "unexpected_forbidden_ticker"
	ErrorTypeUnparsable      ErrorType = "unparsable_file"

	// Transport errors
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a stooqfetch error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New creates a typed error without an HTTP code
func New(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// NewWithCode creates a typed error carrying an HTTP status code
func NewWithCode(t ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Code: code}
}

// IsRetryable checks if an error type should be retried with fresh inputs.
// Recognition failures are retryable because a new challenge image can be
// requested; structural failures (a corrupt model, a missing ticker in a
// downloaded file) will not change on retry.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeServerError, ErrorTypeSegmentation, ErrorTypeLowConfidence:
		return true
	case ErrorTypeModelCorrupt, ErrorTypeAuthExpired, ErrorTypeMissingTicker,
		ErrorTypeForbiddenTicker, ErrorTypeUnparsable, ErrorTypeLinkNotFound:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}
