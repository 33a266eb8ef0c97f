package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Natural key names held in the reservation store.
const (
	KeyEmail     = "email"
	KeySlug      = "key"
	KeyAppOrgKey = "app_org_key"
)

// Reservation is a uniqueness claim on a natural-key value.
type Reservation struct {
	ID         uuid.UUID  `json:"_id"`
	EntityID   string     `json:"entityId"`
	EntityType EntityType `json:"entityType"`
	Key        string     `json:"key"`
	Value      string     `json:"value"`
}

// Claim identifies the reservation held by an entity for one key, regardless
// of value. Releases match on claims.
type Claim struct {
	EntityID   string
	EntityType EntityType
	Key        string
}

// Claim returns the value-agnostic identity of r.
func (r Reservation) Claim() Claim {
	return Claim{EntityID: r.EntityID, EntityType: r.EntityType, Key: r.Key}
}

// NewEntityID mints a time-ordered identifier for a new entity.
func NewEntityID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate entity id: %w", err)
	}
	return id.String(), nil
}

const compositeSep = ":"

// ManagerID is the entity id of the manager edge between an organization and a user.
func ManagerID(org, user string) string { return org + compositeSep + user }

// MemberID is the entity id of the member edge between a workspace and a user.
func MemberID(workspace, user string) string { return workspace + compositeSep + user }

// SplitCompositeID splits a manager or member id into its two parts.
func SplitCompositeID(id string) (string, string, error) {
	left, right, ok := strings.Cut(id, compositeSep)
	if !ok || left == "" || right == "" || strings.Contains(right, compositeSep) {
		return "", "", fmt.Errorf("invalid composite id %q", id)
	}
	return left, right, nil
}

// WorkspaceKey is the reserved value for a workspace key scoped to an
// application and organization.
func WorkspaceKey(app, org, key string) string {
	return app + compositeSep + org + compositeSep + key
}
