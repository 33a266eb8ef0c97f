// Package domain holds the core types of the directory: entity types,
// commands, events, reservations and the projected documents.
//
// Import Path: orgdir.io/orgdir/internal/domain
package domain

import (
	"fmt"
	"strings"
)

// EntityType is the closed set of directory nouns.
type EntityType string

const (
	EntityApplication  EntityType = "application"
	EntityOrganization EntityType = "organization"
	EntityUser         EntityType = "user"
	EntityManager      EntityType = "manager"
	EntityMember       EntityType = "member"
	EntityWorkspace    EntityType = "workspace"
)

// EntityTypes lists every entity type in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityApplication,
		EntityOrganization,
		EntityUser,
		EntityManager,
		EntityMember,
		EntityWorkspace,
	}
}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityApplication, EntityOrganization, EntityUser,
		EntityManager, EntityMember, EntityWorkspace:
		return true
	}
	return false
}

func (t EntityType) String() string { return string(t) }

// ParseEntityType parses a case-insensitive entity type name.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// Command is the uppercase verb recorded on an event.
type Command string

const (
	CommandCreate      Command = "CREATE"
	CommandDelete      Command = "DELETE"
	CommandRestore     Command = "RESTORE"
	CommandChangeName  Command = "CHANGE_NAME"
	CommandChangeEmail Command = "CHANGE_EMAIL"
	CommandChangeRole  Command = "CHANGE_ROLE"
	CommandVerifyEmail Command = "VERIFY_EMAIL"
	CommandLogin       Command = "LOGIN"
)

// Lifecycle reports whether c takes part in state derivation.
func (c Command) Lifecycle() bool {
	return c == CommandCreate || c == CommandDelete || c == CommandRestore
}

func (c Command) String() string { return string(c) }

// EntityState is the lifecycle state derived from CREATE/DELETE/RESTORE events.
type EntityState string

const (
	StateCreated EntityState = "CREATED"
	StateDeleted EntityState = "DELETED"
)

// Eligibility is a precondition on the derived state of an entity. Accept
// receives ok=false when the entity was never created.
type Eligibility struct {
	State  string
	Accept func(state EntityState, ok bool) bool
}

var (
	// WhenCreated accepts entities that exist and are not deleted.
	WhenCreated = Eligibility{
		State:  string(StateCreated),
		Accept: func(state EntityState, ok bool) bool { return ok && state == StateCreated },
	}
	// WhenDeleted accepts entities that exist and are soft-deleted.
	WhenDeleted = Eligibility{
		State:  string(StateDeleted),
		Accept: func(state EntityState, ok bool) bool { return ok && state == StateDeleted },
	}
)
