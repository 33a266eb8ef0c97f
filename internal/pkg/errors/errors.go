// Package errors defines the errors the directory core returns to its
// callers. Every failure a caller can act on is an AppError whose Code names
// the failure class; Params and FieldErrors carry the offending ids, keys and
// fields. Infrastructure failures are returned wrapped with %w, unchanged.
//
// Import Path: orgdir.io/orgdir/internal/pkg/errors
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a classified failure of a command, an event push or a request.
type AppError struct {
	// Code is the failure class, one of the Code* constants.
	Code string `json:"code"`

	Message string `json:"message"`

	// HTTPStatus is the status the ops API answers with; see StatusOf.
	HTTPStatus int `json:"-"`

	// Params names the entities, keys and values involved.
	Params map[string]interface{} `json:"params,omitempty"`

	FieldErrors []FieldError `json:"field_errors,omitempty"`

	Err error `json:"-"`
}

// FieldError describes one invalid input field. Field is a path such as
// "[0].values.email".
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches AppErrors by code, so errors.Is(err, &AppError{Code: CodeKeyInUse})
// holds for any KEY_IN_USE error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// newError builds an AppError with the status of its code.
func newError(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: StatusOf(code), Err: cause}
}

// Wrap classifies err under code. The status follows the code.
func Wrap(err error, code, message string) *AppError {
	return newError(code, message, err)
}

// IsAppError checks if an error is an AppError and returns it.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}

// IsConflict reports whether err is a uniqueness conflict: a reserved
// natural key or a second CREATE. Callers may retry or surface it.
func IsConflict(err error) bool {
	return HasCode(err, CodeKeyInUse) || HasCode(err, CodeDuplicateCreate)
}

// StatusOf maps a code to its HTTP status. Unknown codes are internal errors.
func StatusOf(code string) int {
	switch code {
	case CodeValidationFailed, CodeInvalidEvent, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeEntityNotEligible:
		return http.StatusNotFound
	case CodeKeyInUse, CodeDuplicateCreate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
