package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    "BAD_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func TooManyRequests(message string) *AppError {
	return &AppError{
		Code:    "TOO_MANY_REQUESTS",
		Message: message,
		Status:  http.StatusTooManyRequests,
		Err:     nil,
	}
}

// Mapping signals a server payload that is missing a required field. The
// offending item is dropped from rendered output, never the whole list.
func Mapping(message string, err error) *AppError {
	return &AppError{
		Code:    "MAPPING_ERROR",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     err,
	}
}

// Channel signals a realtime subscription that could not be opened or
// maintained. Callers degrade to a disconnected state and offer retry.
func Channel(message string, err error) *AppError {
	return &AppError{
		Code:    "CHANNEL_ERROR",
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

// Write signals a failed message write, durable or realtime. The affected
// message is marked failed; no other message is touched.
func Write(message string, err error) *AppError {
	return &AppError{
		Code:    "WRITE_ERROR",
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
