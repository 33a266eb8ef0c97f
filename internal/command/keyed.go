package command

import (
	"context"

	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
)

// KeyedHandler writes applications and organizations: named entities whose
// slug key is globally unique within their type.
type KeyedHandler struct {
	*Handler
}

// NewApplicationHandler creates the application handler.
func NewApplicationHandler(backend Backend) *KeyedHandler {
	return newKeyedHandler(domain.EntityApplication, backend)
}

// NewOrganizationHandler creates the organization handler.
func NewOrganizationHandler(backend Backend) *KeyedHandler {
	return newKeyedHandler(domain.EntityOrganization, backend)
}

func newKeyedHandler(t domain.EntityType, backend Backend) *KeyedHandler {
	return &KeyedHandler{Handler: newHandler(t, backend, &naturalKey{
		name:  domain.KeySlug,
		value: func(v domain.Values) string { return v.String("key") },
	})}
}

// Create creates entities and reserves their keys. A missing key is derived
// from the name.
func (h *KeyedHandler) Create(ctx context.Context, items ...Item[KeyedValues]) ([]domain.Event, error) {
	subject := string(h.entityType)
	if err := checkItems(subject, items, idOptional); err != nil {
		return nil, err
	}
	var errs []apperrors.FieldError
	for i := range items {
		if fe := deriveKey(i, &items[i].Values.Key, items[i].Values.Name); fe != nil {
			errs = append(errs, *fe)
		}
	}
	if len(errs) > 0 {
		return nil, apperrors.ErrValidationf(subject, errs)
	}
	return h.executeCreate(ctx, toEntries(items, func(v KeyedValues) domain.Values {
		return domain.Values{"name": v.Name, "key": v.Key}
	}))
}

// ChangeName renames entities. The key is kept.
func (h *KeyedHandler) ChangeName(ctx context.Context, items ...Item[NameValues]) ([]domain.Event, error) {
	if err := checkItems(string(h.entityType), items, idRequired); err != nil {
		return nil, err
	}
	return h.executeUpdate(ctx, domain.CommandChangeName, toEntries(items, nameValues))
}

// Delete soft-deletes entities and frees their keys.
func (h *KeyedHandler) Delete(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets(string(h.entityType), targets); err != nil {
		return nil, err
	}
	return h.executeDelete(ctx, targets)
}

// Restore revives deleted entities and reserves their keys again.
func (h *KeyedHandler) Restore(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets(string(h.entityType), targets); err != nil {
		return nil, err
	}
	return h.executeRestore(ctx, targetEntries(targets))
}

func nameValues(v NameValues) domain.Values { return domain.Values{"name": v.Name} }
