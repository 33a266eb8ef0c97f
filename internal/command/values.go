package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
	"orgdir.io/orgdir/internal/pkg/validate"
)

// Manager roles.
const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

// Member roles. RoleAdmin is shared with managers.
const (
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// KeyedValues is the create input of applications and organizations. Key
// defaults to the slug of Name.
type KeyedValues struct {
	Name string `json:"name" validate:"required,max=200"`
	Key  string `json:"key,omitempty" validate:"omitempty,slug,max=100"`
}

// NameValues changes a display name.
type NameValues struct {
	Name string `json:"name" validate:"required,max=200"`
}

// UserValues is the create input of users.
type UserValues struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=320"`
}

// EmailValues changes a user's email.
type EmailValues struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

// WorkspaceValues is the create input of workspaces. Key defaults to the slug
// of Name and is unique per application and organization.
type WorkspaceValues struct {
	App  string `json:"app" validate:"required,entity_id"`
	Org  string `json:"org" validate:"required,entity_id"`
	Key  string `json:"key,omitempty" validate:"omitempty,slug,max=100"`
	Name string `json:"name" validate:"required,max=200"`
}

// ManagerValues links a user to an organization.
type ManagerValues struct {
	Org  string `json:"org" validate:"required,entity_id"`
	User string `json:"user" validate:"required,entity_id"`
	Role string `json:"role" validate:"required,oneof=owner admin manager"`
}

// ManagerRoleValues changes a manager's role.
type ManagerRoleValues struct {
	Role string `json:"role" validate:"required,oneof=owner admin manager"`
}

// MemberValues links a user to a workspace.
type MemberValues struct {
	Workspace string `json:"workspace" validate:"required,entity_id"`
	User      string `json:"user" validate:"required,entity_id"`
	Role      string `json:"role" validate:"required,oneof=admin editor viewer"`
}

// MemberRoleValues changes a member's role.
type MemberRoleValues struct {
	Role string `json:"role" validate:"required,oneof=admin editor viewer"`
}

// idRule says what checkItems expects of Item.EntityID.
type idRule int

const (
	// idOptional: a new plain entity; a supplied id must not contain ":".
	idOptional idRule = iota
	// idRequired: an existing entity.
	idRequired
	// idComposite: a new relation; relationIDs checks the id.
	idComposite
)

// checkItems validates a batch. Values are validated on their own so field
// paths read "[i].values.name".
func checkItems[V any](subject string, items []Item[V], ids idRule) error {
	if len(items) == 0 {
		return apperrors.ErrInvalidRequestf("at least one %s item is required", subject)
	}
	var errs []apperrors.FieldError
	for i, it := range items {
		prefix := fmt.Sprintf("[%d].", i)
		id := strings.TrimSpace(it.EntityID)
		switch {
		case ids == idRequired && id == "":
			errs = append(errs, apperrors.FieldError{Field: prefix + "entityId", Code: "required", Message: "is required"})
		case ids == idOptional && id != "":
			if err := validate.V().Var(id, "entity_id"); err != nil {
				errs = append(errs, apperrors.FieldError{
					Field: prefix + "entityId", Code: "entity_id", Message: "must not contain ':' or whitespace",
				})
			}
		}
		errs = append(errs, valueErrors(prefix+"values.", it.Values)...)
	}
	if len(errs) > 0 {
		return apperrors.ErrValidationf(subject, errs)
	}
	return nil
}

// deriveKey fills an empty key with the slug of name and checks the result
// against the rules an explicit key must pass.
func deriveKey(i int, key *string, name string) *apperrors.FieldError {
	if *key == "" {
		*key = domain.Slugify(name)
	}
	if *key == "" {
		return &apperrors.FieldError{Field: indexed(i, "values.key"), Code: "slug", Message: "cannot be derived from name"}
	}
	if err := validate.V().Var(*key, fmt.Sprintf("slug,max=%d", domain.MaxKeyLength)); err != nil {
		return &apperrors.FieldError{Field: indexed(i, "values.key"), Code: "slug", Message: "derived key is not a valid slug"}
	}
	return nil
}

func checkTargets(subject string, targets []Target) error {
	if len(targets) == 0 {
		return apperrors.ErrInvalidRequestf("at least one %s target is required", subject)
	}
	var errs []apperrors.FieldError
	for i, t := range targets {
		errs = append(errs, valueErrors(fmt.Sprintf("[%d].", i), t)...)
	}
	if len(errs) > 0 {
		return apperrors.ErrValidationf(subject, errs)
	}
	return nil
}

func valueErrors(prefix string, v any) []apperrors.FieldError {
	err := validate.V().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []apperrors.FieldError{{Field: strings.TrimSuffix(prefix, "."), Code: "invalid", Message: err.Error()}}
	}
	out := validate.FieldErrors(verrs)
	for i := range out {
		out[i].Field = prefix + out[i].Field
	}
	return out
}

// toEntries converts validated items, mapping values with fn.
func toEntries[V any](items []Item[V], fn func(V) domain.Values) []entry {
	out := make([]entry, 0, len(items))
	for _, it := range items {
		out = append(out, entry{
			entityID: strings.TrimSpace(it.EntityID),
			date:     it.Date,
			userID:   it.UserID,
			values:   fn(it.Values),
		})
	}
	return out
}

func indexed(i int, field string) string {
	return fmt.Sprintf("[%d].%s", i, field)
}
