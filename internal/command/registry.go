package command

import (
	"context"
	"fmt"

	"orgdir.io/orgdir/internal/domain"
)

// EntityHandler is the verb set every entity type supports.
type EntityHandler interface {
	EntityType() domain.EntityType
	States(ctx context.Context, entityIDs []string) (map[string]domain.EntityState, error)
	Delete(ctx context.Context, targets ...Target) ([]domain.Event, error)
	Restore(ctx context.Context, targets ...Target) ([]domain.Event, error)
}

// Registry holds one handler per entity type. It is built once at startup
// and passed to whoever issues commands.
type Registry struct {
	Applications  *KeyedHandler
	Organizations *KeyedHandler
	Users         *UserHandler
	Managers      *ManagerHandler
	Members       *MemberHandler
	Workspaces    *WorkspaceHandler
}

// NewRegistry creates every handler on backend.
func NewRegistry(backend Backend) *Registry {
	return &Registry{
		Applications:  NewApplicationHandler(backend),
		Organizations: NewOrganizationHandler(backend),
		Users:         NewUserHandler(backend),
		Managers:      NewManagerHandler(backend),
		Members:       NewMemberHandler(backend),
		Workspaces:    NewWorkspaceHandler(backend),
	}
}

// For returns the handler of t. The switch lists every domain.EntityType.
func (r *Registry) For(t domain.EntityType) (EntityHandler, error) {
	switch t {
	case domain.EntityApplication:
		return r.Applications, nil
	case domain.EntityOrganization:
		return r.Organizations, nil
	case domain.EntityUser:
		return r.Users, nil
	case domain.EntityManager:
		return r.Managers, nil
	case domain.EntityMember:
		return r.Members, nil
	case domain.EntityWorkspace:
		return r.Workspaces, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", t)
}
