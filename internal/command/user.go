package command

import (
	"context"
	"strings"

	"orgdir.io/orgdir/internal/domain"
)

// UserHandler writes users. The lower-cased email is the natural key.
type UserHandler struct {
	*Handler
}

// NewUserHandler creates the user handler.
func NewUserHandler(backend Backend) *UserHandler {
	return &UserHandler{Handler: newHandler(domain.EntityUser, backend, &naturalKey{
		name:  domain.KeyEmail,
		value: func(v domain.Values) string { return v.String("email") },
	})}
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Create creates unverified users and reserves their emails.
func (h *UserHandler) Create(ctx context.Context, items ...Item[UserValues]) ([]domain.Event, error) {
	if err := checkItems("user", items, idOptional); err != nil {
		return nil, err
	}
	return h.executeCreate(ctx, toEntries(items, func(v UserValues) domain.Values {
		return domain.Values{
			"name":     strings.TrimSpace(v.Name),
			"email":    normalizeEmail(v.Email),
			"verified": false,
			"logins":   0,
		}
	}))
}

// ChangeName renames users.
func (h *UserHandler) ChangeName(ctx context.Context, items ...Item[NameValues]) ([]domain.Event, error) {
	if err := checkItems("user", items, idRequired); err != nil {
		return nil, err
	}
	return h.executeUpdate(ctx, domain.CommandChangeName, toEntries(items, nameValues))
}

// ChangeEmail releases each user's current email and reserves the new one in
// the same transaction as the CHANGE_EMAIL events. The new email is unverified.
func (h *UserHandler) ChangeEmail(ctx context.Context, items ...Item[EmailValues]) ([]domain.Event, error) {
	if err := checkItems("user", items, idRequired); err != nil {
		return nil, err
	}
	entries := toEntries(items, func(v EmailValues) domain.Values {
		return domain.Values{"email": normalizeEmail(v.Email), "verified": false}
	})
	when := domain.WhenCreated
	p := plan{command: domain.CommandChangeEmail, entries: entries, when: &when}
	for _, e := range entries {
		p.release = append(p.release, domain.Claim{EntityID: e.entityID, EntityType: domain.EntityUser, Key: domain.KeyEmail})
	}
	p.reserve = h.reservations(entries, nil)
	return h.run(ctx, p)
}

// VerifyEmail marks users' current emails as verified.
func (h *UserHandler) VerifyEmail(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets("user", targets); err != nil {
		return nil, err
	}
	return h.executeUpdate(ctx, domain.CommandVerifyEmail, targetEntries(targets))
}

// Login records a sign-in. Login events are kept out of the history and do
// not bump the modified stamp; the projection counts them.
func (h *UserHandler) Login(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets("user", targets); err != nil {
		return nil, err
	}
	when := domain.WhenCreated
	return h.run(ctx, plan{
		command:          domain.CommandLogin,
		entries:          targetEntries(targets),
		when:             &when,
		omitFromHistory:  true,
		omitFromModified: true,
	})
}

// Delete soft-deletes users and frees their emails.
func (h *UserHandler) Delete(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets("user", targets); err != nil {
		return nil, err
	}
	return h.executeDelete(ctx, targets)
}

// Restore revives deleted users and reserves their last email again.
func (h *UserHandler) Restore(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets("user", targets); err != nil {
		return nil, err
	}
	return h.executeRestore(ctx, targetEntries(targets))
}
