package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stamp records when and by whom an entity was created, modified or touched.
// N counts the events folded into the stamp; it is zero for created.
type Stamp struct {
	Date   time.Time `json:"date"`
	UserID *string   `json:"userId"`
	N      int       `json:"n,omitempty"`
}

// Meta groups the activity stamps of a normalized document.
type Meta struct {
	Created  *Stamp `json:"created"`
	Modified *Stamp `json:"modified"`
	Touched  *Stamp `json:"touched"`
}

// HistoryEntry is an event as retained in a normalized document.
type HistoryEntry struct {
	ID      uuid.UUID `json:"_id"`
	Command Command   `json:"command"`
	Date    time.Time `json:"date"`
	Values  Values    `json:"values"`
	UserID  *string   `json:"userId"`
}

// Normalized is the current-state document folded from one entity's events.
// It serialises flat: the merged values sit next to the underscore fields.
type Normalized struct {
	ID         string
	EntityType EntityType
	Deleted    bool
	History    []HistoryEntry
	Meta       Meta
	Values     Values
}

const (
	fieldID      = "_id"
	fieldType    = "_type"
	fieldDeleted = "_deleted"
	fieldHistory = "_history"
	fieldMeta    = "_meta"
)

// MarshalJSON flattens the document. Map keys are sorted by encoding/json, so
// equal documents encode to identical bytes.
func (n Normalized) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Values)+5)
	for k, v := range n.Values {
		out[k] = v
	}
	history := n.History
	if history == nil {
		history = []HistoryEntry{}
	}
	out[fieldID] = n.ID
	out[fieldType] = n.EntityType
	out[fieldDeleted] = n.Deleted
	out[fieldHistory] = history
	out[fieldMeta] = n.Meta
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (n *Normalized) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var doc Normalized
	if err := decodeField(raw, fieldID, &doc.ID); err != nil {
		return err
	}
	if err := decodeField(raw, fieldType, &doc.EntityType); err != nil {
		return err
	}
	if err := decodeField(raw, fieldDeleted, &doc.Deleted); err != nil {
		return err
	}
	if err := decodeField(raw, fieldHistory, &doc.History); err != nil {
		return err
	}
	if err := decodeField(raw, fieldMeta, &doc.Meta); err != nil {
		return err
	}
	values, err := decodeRest(raw)
	if err != nil {
		return err
	}
	doc.Values = values
	*n = doc
	return nil
}

// Materialized is the denormalized, read-optimised document built by joining
// normalized documents. Deleted may be forced true by a deleted parent.
type Materialized struct {
	ID         string
	EntityType EntityType
	Deleted    bool
	Fields     Values
}

// MarshalJSON flattens the document like Normalized.
func (m Materialized) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+3)
	for k, v := range m.Fields {
		out[k] = v
	}
	out[fieldID] = m.ID
	out[fieldType] = m.EntityType
	out[fieldDeleted] = m.Deleted
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (m *Materialized) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var doc Materialized
	if err := decodeField(raw, fieldID, &doc.ID); err != nil {
		return err
	}
	if err := decodeField(raw, fieldType, &doc.EntityType); err != nil {
		return err
	}
	if err := decodeField(raw, fieldDeleted, &doc.Deleted); err != nil {
		return err
	}
	fields, err := decodeRest(raw)
	if err != nil {
		return err
	}
	doc.Fields = fields
	*m = doc
	return nil
}

func decodeField(raw map[string]json.RawMessage, key string, dst any) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	delete(raw, key)
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func decodeRest(raw map[string]json.RawMessage) (Values, error) {
	out := make(Values, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}
