package projection

import (
	"encoding/json"
	"sort"

	"orgdir.io/orgdir/internal/domain"
)

// accumulator is the running state of a fold.
type accumulator struct {
	deleted  bool
	created  *domain.Stamp
	modified *domain.Stamp
	touched  *domain.Stamp
	values   domain.Values
	history  []domain.HistoryEntry
}

// Fold reduces one entity's events, in (date, id) order, into its normalized
// document. The input slice is not modified. Folding the same events always
// yields the same document.
func Fold(entityType domain.EntityType, entityID string, events []domain.Event) domain.Normalized {
	ordered := append([]domain.Event(nil), events...)
	domain.SortEvents(ordered)

	acc := accumulator{values: domain.Values{}, history: []domain.HistoryEntry{}}
	for _, e := range ordered {
		acc.apply(entityType, e)
	}

	return domain.Normalized{
		ID:         entityID,
		EntityType: entityType,
		Deleted:    acc.deleted,
		History:    acc.history,
		Meta: domain.Meta{
			Created:  acc.created,
			Modified: acc.modified,
			Touched:  acc.touched,
		},
		Values: acc.values,
	}
}

func (a *accumulator) apply(entityType domain.EntityType, e domain.Event) {
	switch e.Command {
	case domain.CommandDelete:
		a.deleted = true
	case domain.CommandRestore:
		a.deleted = false
	case domain.CommandCreate:
		if a.created == nil {
			a.created = &domain.Stamp{Date: e.Date, UserID: e.UserID}
		}
	}

	if !e.OmitFromModified {
		a.modified = bump(a.modified, e)
	}
	a.touched = bump(a.touched, e)

	a.values = domain.MergeValues(a.values, e.Values)
	override(entityType, e, a.values)

	if !e.OmitFromHistory {
		values := e.Values.Clone()
		if values == nil {
			values = domain.Values{}
		}
		a.history = append(a.history, domain.HistoryEntry{
			ID:      e.ID,
			Command: e.Command,
			Date:    e.Date,
			Values:  values,
			UserID:  e.UserID,
		})
	}
}

func bump(prev *domain.Stamp, e domain.Event) *domain.Stamp {
	n := 1
	if prev != nil {
		n = prev.N + 1
	}
	return &domain.Stamp{Date: e.Date, UserID: e.UserID, N: n}
}

// override injects the computed fields some commands carry beyond their values.
func override(entityType domain.EntityType, e domain.Event, values domain.Values) {
	if entityType != domain.EntityUser {
		return
	}
	switch e.Command {
	case domain.CommandLogin:
		values["logins"] = intValue(values["logins"]) + 1
		values["lastLogin"] = e.Date
	case domain.CommandVerifyEmail:
		values["verified"] = true
	}
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

// FoldAll folds a mixed event list into one document per entity, sorted by id.
func FoldAll(entityType domain.EntityType, events []domain.Event) []domain.Normalized {
	byID := make(map[string][]domain.Event)
	for _, e := range events {
		byID[e.EntityID] = append(byID[e.EntityID], e)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]domain.Normalized, 0, len(ids))
	for _, id := range ids {
		out = append(out, Fold(entityType, id, byID[id]))
	}
	return out
}
