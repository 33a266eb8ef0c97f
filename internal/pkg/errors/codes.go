package errors

import (
	"fmt"
	"strings"
)

// Input error codes, raised before any write.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInvalidEvent     = "INVALID_EVENT"
	CodeInvalidRequest   = "INVALID_REQUEST"
)

// Lifecycle and uniqueness error codes.
const (
	CodeEntityNotEligible = "ENTITY_NOT_ELIGIBLE"
	CodeKeyInUse          = "KEY_IN_USE"
	CodeDuplicateCreate   = "DUPLICATE_CREATE"
)

// ErrValidationf reports invalid command input for subject, one FieldError
// per invalid field.
func ErrValidationf(subject string, fieldErrors []FieldError) *AppError {
	err := newError(CodeValidationFailed, fmt.Sprintf("invalid %s input", subject), nil)
	err.FieldErrors = fieldErrors
	return err
}

// ErrInvalidEvent reports events that fail the event schema. The whole push
// is rejected.
func ErrInvalidEvent(fieldErrors []FieldError) *AppError {
	err := newError(CodeInvalidEvent, "event failed schema validation", nil)
	err.FieldErrors = fieldErrors
	return err
}

// ErrInvalidRequestf reports a request that cannot be interpreted at all.
func ErrInvalidRequestf(format string, args ...any) *AppError {
	return newError(CodeInvalidRequest, fmt.Sprintf(format, args...), nil)
}

// ErrNotEligiblef reports entities that are not in the state a command
// requires. Missing entities are reported the same way.
func ErrNotEligiblef(entityType, required string, entityIDs []string) *AppError {
	err := newError(CodeEntityNotEligible,
		fmt.Sprintf("%s not found: %s", entityType, strings.Join(entityIDs, ", ")), nil)
	err.Params = map[string]interface{}{
		"entity_type": entityType,
		"entity_ids":  entityIDs,
		"required":    required,
	}
	return err
}

// ErrKeyInUsef reports a natural key already reserved by another entity.
func ErrKeyInUsef(entityType, key, value string, cause error) *AppError {
	err := newError(CodeKeyInUse, fmt.Sprintf("%s %s '%s' is already in use", entityType, key, value), cause)
	err.Params = map[string]interface{}{
		"entity_type": entityType,
		"key":         key,
		"value":       value,
	}
	return err
}

// ErrDuplicateCreatef reports a second CREATE for an entity.
func ErrDuplicateCreatef(entityType, entityID string, cause error) *AppError {
	err := newError(CodeDuplicateCreate, fmt.Sprintf("%s '%s' already exists", entityType, entityID), cause)
	err.Params = map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   entityID,
	}
	return err
}
