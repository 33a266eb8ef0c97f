package domain

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Values is a partial value object carried by an event and merged into entity state.
type Values map[string]any

// String returns the string stored under key, or "".
func (v Values) String(key string) string {
	s, _ := v[key].(string)
	return s
}

// Clone returns a deep copy of v.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = cloneValue(val)
	}
	return out
}

func cloneValue(val any) any {
	switch t := val.(type) {
	case Values:
		return t.Clone()
	case map[string]any:
		return Values(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return val
	}
}

// MergeValues deep-merges src into a copy of dst. Keys in src win; nested
// objects are merged key by key.
func MergeValues(dst, src Values) Values {
	out := dst.Clone()
	if out == nil {
		out = Values{}
	}
	for k, sv := range src {
		if sm, ok := asValues(sv); ok {
			if dm, ok := asValues(out[k]); ok {
				out[k] = MergeValues(dm, sm)
				continue
			}
		}
		out[k] = cloneValue(sv)
	}
	return out
}

func asValues(v any) (Values, bool) {
	switch t := v.(type) {
	case Values:
		return t, true
	case map[string]any:
		return Values(t), true
	}
	return nil, false
}

// Event is an immutable entry of the event store.
type Event struct {
	ID               uuid.UUID  `json:"_id"`
	EntityID         string     `json:"entityId" validate:"required"`
	EntityType       EntityType `json:"entityType" validate:"required,entity_type"`
	Command          Command    `json:"command" validate:"required,command"`
	Date             time.Time  `json:"date"`
	Values           Values     `json:"values"`
	UserID           *string    `json:"userId"`
	OmitFromHistory  bool       `json:"omitFromHistory,omitempty"`
	OmitFromModified bool       `json:"omitFromModified,omitempty"`
}

// ApplyDefaults fills the fields a caller may omit: id, date and values.
func (e *Event) ApplyDefaults(now time.Time) error {
	if e.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		e.ID = id
	}
	if e.Date.IsZero() {
		e.Date = now
	}
	// timestamptz has microsecond precision.
	e.Date = e.Date.UTC().Truncate(time.Microsecond)
	if e.Values == nil {
		e.Values = Values{}
	}
	return nil
}

// Before reports whether e sorts before o in stream order (date, then id).
func (e Event) Before(o Event) bool {
	if !e.Date.Equal(o.Date) {
		return e.Date.Before(o.Date)
	}
	return bytes.Compare(e.ID[:], o.ID[:]) < 0
}

// SortEvents orders events by (date, id), the only order state derivation relies on.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Before(events[j]) })
}

// UserRef returns a pointer to id, or nil when id is empty.
func UserRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
