// Package validate wraps go-playground/validator with the directory's custom
// tags and converts failures into field errors.
//
// Import Path: orgdir.io/orgdir/internal/pkg/validate
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "orgdir.io/orgdir/internal/pkg/errors"
)

var (
	commandPattern  = regexp.MustCompile(`^[A-Z]+(_[A-Z]+)*$`)
	slugPattern     = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	// ":" joins composite ids and workspace keys.
	entityIDPattern = regexp.MustCompile(`^[^:\s]+$`)
)

var (
	instance *validator.Validate
	once     sync.Once
)

// EntityTypeChecker is satisfied by domain.EntityType; kept as an interface to
// avoid an import cycle.
type EntityTypeChecker interface {
	Valid() bool
}

// V returns the shared validator. validator.Validate caches struct metadata
// and is safe for concurrent use.
func V() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonName)
		_ = v.RegisterValidation("command", func(fl validator.FieldLevel) bool {
			return commandPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("entity_type", func(fl validator.FieldLevel) bool {
			if c, ok := fl.Field().Interface().(EntityTypeChecker); ok {
				return c.Valid()
			}
			return false
		})
		_ = v.RegisterValidation("entity_id", func(fl validator.FieldLevel) bool {
			return entityIDPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
			return slugPattern.MatchString(fl.Field().String())
		})
		instance = v
	})
	return instance
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// Struct validates s and returns a VALIDATION_FAILED AppError listing every
// invalid field, or nil.
func Struct(subject string, s any) error {
	err := V().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Wrap(err, apperrors.CodeValidationFailed, "invalid "+subject+" input")
	}
	return apperrors.ErrValidationf(subject, FieldErrors(verrs))
}

// FieldErrors converts validator errors into the API field error shape.
func FieldErrors(verrs validator.ValidationErrors) []apperrors.FieldError {
	out := make([]apperrors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, apperrors.FieldError{
			Field:   fieldPath(fe.Namespace()),
			Code:    fe.Tag(),
			Message: message(fe),
		})
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "command":
		return "must be an uppercase verb such as CHANGE_NAME"
	case "entity_type":
		return "must be a known entity type"
	case "slug":
		return "must contain only lowercase letters, digits and dashes"
	case "entity_id":
		return "must not contain ':' or whitespace"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
