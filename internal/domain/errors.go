package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError with the same code and message, so wrapped
// sentinels still satisfy errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeInvalidOperation  = "INVALID_OPERATION"
	ErrCodeEmbedding         = "EMBEDDING_ERROR"
	ErrCodeSearch            = "SEARCH_ERROR"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
)

// Validation errors
var (
	ErrInvalidDocumentStatus = NewDomainError(ErrCodeValidation, "invalid document status")
	ErrInvalidJobStatus      = NewDomainError(ErrCodeValidation, "invalid processing job status")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
	ErrDimensionMismatch     = NewDomainError(ErrCodeValidation, "embedding dimensions do not match vector length")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrJobNotFound      = NewDomainError(ErrCodeNotFound, "processing job not found")
)

// Already exists errors
var (
	ErrDocumentAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "document already exists for location")
)

// Operation errors
var (
	ErrInvalidTransition = NewDomainError(ErrCodeInvalidOperation, "invalid document status transition")
	ErrAsyncUnavailable  = NewDomainError(ErrCodeInvalidOperation, "async processing requires the postgres store")
)

// NewEmbeddingError wraps a provider, network or response-format failure.
func NewEmbeddingError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeEmbedding, message, err)
}

// NewSearchError wraps a failure in query embedding or candidate retrieval.
func NewSearchError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeSearch, message, err)
}

// NewParseError reports malformed parser input.
func NewParseError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeParse, message, err)
}

// NewUnsupportedFormatError reports a document type no parser handles.
func NewUnsupportedFormatError(format string) *DomainError {
	return NewDomainError(ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported document format %q", format))
}

// HasCode reports whether err is, or wraps, a DomainError with the given code.
func HasCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

func IsEmbeddingError(err error) bool   { return HasCode(err, ErrCodeEmbedding) }
func IsSearchError(err error) bool      { return HasCode(err, ErrCodeSearch) }
func IsParseError(err error) bool       { return HasCode(err, ErrCodeParse) }
func IsUnsupportedFormat(err error) bool { return HasCode(err, ErrCodeUnsupportedFormat) }
