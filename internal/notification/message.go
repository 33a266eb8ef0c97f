// Package notification fans committed events out to downstream consumers.
// Each committed event becomes one Message; values are stripped and the
// routing attributes travel alongside.
//
// Import Path: orgdir.io/orgdir/internal/notification
package notification

import (
	"time"

	"orgdir.io/orgdir/internal/domain"
)

// Routing attribute names.
const (
	AttrCommand    = "command"
	AttrEntityID   = "entityId"
	AttrEntityType = "entityType"
	AttrUserID     = "userId"
)

// Message is the downstream view of a committed event.
type Message struct {
	Command    domain.Command    `json:"command"`
	EntityID   string            `json:"entityId"`
	EntityType domain.EntityType `json:"entityType"`
	UserID     *string           `json:"userId"`
	Date       time.Time         `json:"date"`
}

// FromEvent builds the message of e. Values are not carried.
func FromEvent(e domain.Event) Message {
	return Message{
		Command:    e.Command,
		EntityID:   e.EntityID,
		EntityType: e.EntityType,
		UserID:     e.UserID,
		Date:       e.Date,
	}
}

// Attributes returns the routing attributes of m. userId is empty when the
// event has no actor.
func (m Message) Attributes() map[string]string {
	user := ""
	if m.UserID != nil {
		user = *m.UserID
	}
	return map[string]string{
		AttrCommand:    string(m.Command),
		AttrEntityID:   m.EntityID,
		AttrEntityType: string(m.EntityType),
		AttrUserID:     user,
	}
}
