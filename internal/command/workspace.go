package command

import (
	"context"

	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
)

// WorkspaceHandler writes workspaces. A workspace belongs to one application
// and one organization, and its key is unique within that pair.
type WorkspaceHandler struct {
	*Handler
}

// NewWorkspaceHandler creates the workspace handler.
func NewWorkspaceHandler(backend Backend) *WorkspaceHandler {
	return &WorkspaceHandler{Handler: newHandler(domain.EntityWorkspace, backend, &naturalKey{
		name: domain.KeyAppOrgKey,
		value: func(v domain.Values) string {
			app, org, key := v.String("app"), v.String("org"), v.String("key")
			if app == "" || org == "" || key == "" {
				return ""
			}
			return domain.WorkspaceKey(app, org, key)
		},
	})}
}

// Create creates workspaces under CREATED applications and organizations and
// reserves their app:org:key.
func (h *WorkspaceHandler) Create(ctx context.Context, items ...Item[WorkspaceValues]) ([]domain.Event, error) {
	if err := checkItems("workspace", items, idOptional); err != nil {
		return nil, err
	}
	var (
		errs       []apperrors.FieldError
		apps, orgs []string
	)
	for i := range items {
		if fe := deriveKey(i, &items[i].Values.Key, items[i].Values.Name); fe != nil {
			errs = append(errs, *fe)
		}
		apps = append(apps, items[i].Values.App)
		orgs = append(orgs, items[i].Values.Org)
	}
	if len(errs) > 0 {
		return nil, apperrors.ErrValidationf("workspace", errs)
	}

	if err := canPush(ctx, h.backend, domain.EntityApplication, apps, domain.WhenCreated, h.log); err != nil {
		return nil, err
	}
	if err := canPush(ctx, h.backend, domain.EntityOrganization, orgs, domain.WhenCreated, h.log); err != nil {
		return nil, err
	}

	return h.executeCreate(ctx, toEntries(items, func(v WorkspaceValues) domain.Values {
		return domain.Values{"app": v.App, "org": v.Org, "key": v.Key, "name": v.Name}
	}))
}

// ChangeName renames workspaces. The key is kept.
func (h *WorkspaceHandler) ChangeName(ctx context.Context, items ...Item[NameValues]) ([]domain.Event, error) {
	if err := checkItems("workspace", items, idRequired); err != nil {
		return nil, err
	}
	return h.executeUpdate(ctx, domain.CommandChangeName, toEntries(items, nameValues))
}

// Delete soft-deletes workspaces and frees their keys.
func (h *WorkspaceHandler) Delete(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets("workspace", targets); err != nil {
		return nil, err
	}
	return h.executeDelete(ctx, targets)
}

// Restore revives deleted workspaces and reserves their keys again.
func (h *WorkspaceHandler) Restore(ctx context.Context, targets ...Target) ([]domain.Event, error) {
	if err := checkTargets("workspace", targets); err != nil {
		return nil, err
	}
	return h.executeRestore(ctx, targetEntries(targets))
}
