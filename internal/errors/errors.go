package errors

import "fmt"

// ErrorCode represents an nci error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrInvalidKey      ErrorCode = "INVALID_KEY"
	ErrInvalidDocument ErrorCode = "INVALID_DOCUMENT"
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrMissingMetadata ErrorCode = "MISSING_METADATA" // fatal to one assembly
	ErrQueryTimeout    ErrorCode = "QUERY_TIMEOUT"    // fatal to one query
	ErrInternal        ErrorCode = "INTERNAL"

	// Recovered conditions. These never surface as returned errors; they are
	// recorded next to the result they were skipped from.
	ErrMalformedChunk        ErrorCode = "MALFORMED_CHUNK"
	ErrChunkIndexOutOfRange  ErrorCode = "CHUNK_INDEX_OUT_OF_RANGE"
	ErrMissingChunkIndex     ErrorCode = "MISSING_CHUNK_INDEX"
	ErrDuplicateChunk        ErrorCode = "DUPLICATE_CHUNK"
	ErrAuthorMismatch        ErrorCode = "AUTHOR_MISMATCH"
	ErrEndpointFailure       ErrorCode = "ENDPOINT_FAILURE"
	ErrInvalidEventSignature ErrorCode = "INVALID_EVENT_SIGNATURE"
)

// NciError represents a structured error with code, message, and details.
type NciError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *NciError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates an error for invalid request parameters.
func NewInvalidRequest(msg string) *NciError {
	return &NciError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewInvalidKey creates an error for a malformed secret or public key.
func NewInvalidKey(msg string) *NciError {
	return &NciError{
		Code:    ErrInvalidKey,
		Message: msg,
	}
}

// NewInvalidDocument creates an error for a content index file that failed
// to parse or validate. fields maps field names to the failed rule.
func NewInvalidDocument(msg string, fields map[string]string) *NciError {
	e := &NciError{
		Code:    ErrInvalidDocument,
		Message: msg,
	}
	if len(fields) > 0 {
		e.Details = map[string]any{"fields": fields}
	}
	return e
}

// NewNotFound creates an error for a missing local resource.
func NewNotFound(identifier string) *NciError {
	return &NciError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewMissingMetadata creates an error for an assembly with no metadata event.
func NewMissingMetadata(primaryKey string) *NciError {
	return &NciError{
		Code:    ErrMissingMetadata,
		Message: fmt.Sprintf("metadata event missing for %q", primaryKey),
		Details: map[string]any{"primary_key": primaryKey},
	}
}

// NewQueryTimeout creates an error for a query that produced no result in time.
func NewQueryTimeout(seconds int) *NciError {
	return &NciError{
		Code:    ErrQueryTimeout,
		Message: fmt.Sprintf("query timeout after %ds", seconds),
		Details: map[string]any{"timeout_seconds": seconds},
	}
}

// NewInternal creates an error for unexpected internal errors.
func NewInternal(err error) *NciError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &NciError{
		Code:    ErrInternal,
		Message: msg,
	}
}

// Is checks if an error is an NciError with the given code.
func Is(err error, code ErrorCode) bool {
	if nErr, ok := err.(*NciError); ok {
		return nErr.Code == code
	}
	return false
}
