package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/cloo-solutions/docvec/internal/domain"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorBody carries an error code and a human readable message
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("api: failed to encode response: %v", err)
		}
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response. The code is derived from the status.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorBody{Code: codeForStatus(status), Message: message}})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return domain.ErrCodeValidation
	case http.StatusNotFound:
		return domain.ErrCodeNotFound
	case http.StatusConflict:
		return domain.ErrCodeInvalidOperation
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusUnsupportedMediaType:
		return domain.ErrCodeUnsupportedFormat
	default:
		return domain.ErrCodeInternalError
	}
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation, domain.ErrCodeParse:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeAlreadyExists, domain.ErrCodeInvalidOperation:
		return http.StatusConflict
	case domain.ErrCodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case domain.ErrCodeEmbedding, domain.ErrCodeSearch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an appropriate error response based on the error type.
// Errors outside the domain taxonomy are logged and hidden from the client.
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		log.Printf("api: internal error: %v", err)
		JSON(w, status, ErrorResponse{Error: ErrorBody{Code: domain.ErrCodeInternalError, Message: "internal server error"}})
		return
	}
	JSON(w, status, ErrorResponse{Error: ErrorBody{Code: domainErr.Code, Message: err.Error()}})
}
