package command

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
)

// relation is the shared part of manager and member handlers: an edge between
// a parent entity and a user whose id is the composite "parent:user".
type relation struct {
	*Handler
	parentType  domain.EntityType
	parentField string
}

// create checks that both ends are CREATED and pushes CREATE events. The
// CREATE partial index rejects an edge that already exists.
func (r *relation) create(ctx context.Context, entries []entry) ([]domain.Event, error) {
	if err := r.checkEnds(ctx, entries); err != nil {
		return nil, err
	}
	return r.executeCreate(ctx, entries)
}

// checkEnds requires the parent and the user of every edge to be CREATED.
func (r *relation) checkEnds(ctx context.Context, entries []entry) error {
	var parents, users []string
	for _, e := range entries {
		parents = append(parents, e.values.String(r.parentField))
		users = append(users, e.values.String("user"))
	}
	if err := canPush(ctx, r.backend, r.parentType, parents, domain.WhenCreated, r.log); err != nil {
		return err
	}
	return canPush(ctx, r.backend, domain.EntityUser, users, domain.WhenCreated, r.log)
}

// createOrRestore creates the new edges and restores the soft-deleted ones in
// a single batch, so either every edge is written or none is. A live edge
// fails the batch with ENTITY_NOT_ELIGIBLE. Restore events carry the
// requested values. When a concurrent writer creates one of the edges first,
// the batch is planned again once.
func (r *relation) createOrRestore(ctx context.Context, entries []entry) ([]domain.Event, error) {
	if err := r.checkEnds(ctx, entries); err != nil {
		return nil, err
	}
	events, err := r.createOrRestoreOnce(ctx, entries)
	if apperrors.HasCode(err, apperrors.CodeDuplicateCreate) {
		r.log.Info("edge created concurrently, planning again")
		events, err = r.createOrRestoreOnce(ctx, entries)
	}
	return events, err
}

func (r *relation) createOrRestoreOnce(ctx context.Context, entries []entry) ([]domain.Event, error) {
	states, err := r.States(ctx, unique(entryIDs(entries)))
	if err != nil {
		return nil, fmt.Errorf("load %s states: %w", r.entityType, err)
	}
	var (
		creates, restores []entry
		live              []string
	)
	for _, e := range entries {
		st, ok := states[e.entityID]
		switch {
		case !ok:
			creates = append(creates, e)
		case st == domain.StateDeleted:
			restores = append(restores, e)
		default:
			live = append(live, e.entityID)
		}
	}
	if len(live) > 0 {
		r.log.Warn("edges already live", zap.Strings("entity_ids", live))
		return nil, apperrors.ErrNotEligiblef(string(r.entityType), domain.WhenDeleted.State, live)
	}
	if len(restores) > 0 {
		r.log.Info("edges exist, restoring instead", zap.Strings("entity_ids", entryIDs(restores)))
	}
	return r.run(ctx,
		plan{command: domain.CommandCreate, entries: creates},
		plan{command: domain.CommandRestore, entries: restores},
	)
}

// relationIDs assigns composite ids. A caller-supplied id must match and
// must split back into the parent and user it was composed from.
func relationIDs(subject string, entries []entry, parentField string, compose func(parent, user string) string) error {
	var errs []apperrors.FieldError
	for i := range entries {
		parent, user := entries[i].values.String(parentField), entries[i].values.String("user")
		want := compose(parent, user)
		if p, u, err := domain.SplitCompositeID(want); err != nil || p != parent || u != user {
			errs = append(errs, apperrors.FieldError{
				Field: indexed(i, "entityId"), Code: "composite", Message: "cannot compose an id from " + parentField + " and user",
			})
			continue
		}
		if entries[i].entityID != "" && entries[i].entityID != want {
			errs = append(errs, apperrors.FieldError{
				Field: indexed(i, "entityId"), Code: "composite", Message: "must equal " + want,
			})
			continue
		}
		entries[i].entityID = want
	}
	if len(errs) > 0 {
		return apperrors.ErrValidationf(subject, errs)
	}
	return nil
}

// ManagerHandler writes the manager edges between organizations and users.
type ManagerHandler struct {
	relation
}

// NewManagerHandler creates the manager handler.
func NewManagerHandler(backend Backend) *ManagerHandler {
	return &ManagerHandler{relation{
		Handler:     newHandler(domain.EntityManager, backend, nil),
		parentType:  domain.EntityOrganization,
		parentField: "org",
	}}
}

func (h *ManagerHandler) entries(items []Item[ManagerValues]) ([]entry, error) {
	if err := checkItems("manager", items, idComposite); err != nil {
		return nil, err
	}
	entries := toEntries(items, func(v ManagerValues) domain.Values {
		return domain.Values{"org": v.Org, "user": v.User, "role": v.Role}
	})
	if err := relationIDs("manager", entries, "org", domain.ManagerID); err != nil {
		return nil, err
	}
	return entries, nil
}

// Create links users to organizations.
func (h *ManagerHandler) Create(ctx context.Context, items ...Item[ManagerValues]) ([]domain.Event, error) {
	entries, err := h.entries(items)
	if err != nil {
		return nil, err
	}
	return h.create(ctx, entries)
}

// CreateOrRestore links users to organizations, restoring soft-deleted links.
func (h *ManagerHandler) CreateOrRestore(ctx context.Context, items ...Item[ManagerValues]) ([]domain.Event, error) {
	entries, err := h.entries(items)
	if err != nil {
		return nil, err
	}
	return h.createOrRestore(ctx, entries)
}

// ChangeRole changes managers' roles.
func (h *ManagerHandler) ChangeRole(ctx context.Context, items ...Item[ManagerRoleValues]) ([]domain.Event, error) {
	if err := checkItems("manager", items, idRequired); err != nil {
		return nil, err
	}
	return h.executeUpdate(ctx, domain.CommandChangeRole, toEntries(items, func(v ManagerRoleValues) domain.Values {
		return domain.Values{"role": v.Role}
	}))
}

// Delete removes manager links.
func (h *ManagerHandler) Delete(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets("manager", targets); err != nil {
		return nil, err
	}
	return h.executeDelete(ctx, targets)
}

// Restore revives removed manager links.
func (h *ManagerHandler) Restore(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets("manager", targets); err != nil {
		return nil, err
	}
	return h.executeRestore(ctx, targetEntries(targets))
}

// MemberHandler writes the member edges between workspaces and users.
type MemberHandler struct {
	relation
}

// NewMemberHandler creates the member handler.
func NewMemberHandler(backend Backend) *MemberHandler {
	return &MemberHandler{relation{
		Handler:     newHandler(domain.EntityMember, backend, nil),
		parentType:  domain.EntityWorkspace,
		parentField: "workspace",
	}}
}

func (h *MemberHandler) entries(items []Item[MemberValues]) ([]entry, error) {
	if err := checkItems("member", items, idComposite); err != nil {
		return nil, err
	}
	entries := toEntries(items, func(v MemberValues) domain.Values {
		return domain.Values{"workspace": v.Workspace, "user": v.User, "role": v.Role}
	})
	if err := relationIDs("member", entries, "workspace", domain.MemberID); err != nil {
		return nil, err
	}
	return entries, nil
}

// Create adds users to workspaces.
func (h *MemberHandler) Create(ctx context.Context, items ...Item[MemberValues]) ([]domain.Event, error) {
	entries, err := h.entries(items)
	if err != nil {
		return nil, err
	}
	return h.create(ctx, entries)
}

// CreateOrRestore adds users to workspaces, restoring soft-deleted memberships.
func (h *MemberHandler) CreateOrRestore(ctx context.Context, items ...Item[MemberValues]) ([]domain.Event, error) {
	entries, err := h.entries(items)
	if err != nil {
		return nil, err
	}
	return h.createOrRestore(ctx, entries)
}

// ChangeRole changes members' roles.
func (h *MemberHandler) ChangeRole(ctx context.Context, items ...Item[MemberRoleValues]) ([]domain.Event, error) {
	if err := checkItems("member", items, idRequired); err != nil {
		return nil, err
	}
	return h.executeUpdate(ctx, domain.CommandChangeRole, toEntries(items, func(v MemberRoleValues) domain.Values {
		return domain.Values{"role": v.Role}
	}))
}

// Delete removes memberships.
func (h *MemberHandler) Delete(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets("member", targets); err != nil {
		return nil, err
	}
	return h.executeDelete(ctx, targets)
}

// Restore revives removed memberships.
func (h *MemberHandler) Restore(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets("member", targets); err != nil {
		return nil, err
	}
	return h.executeRestore(ctx, targetEntries(targets))
}
