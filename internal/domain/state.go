package domain

// StateFromBounds derives the lifecycle state from the first and last
// lifecycle commands of an entity. ok is false when the stream does not start
// with CREATE, meaning the entity was never created.
func StateFromBounds(first, last Command) (EntityState, bool) {
	if first != CommandCreate {
		return "", false
	}
	if last == CommandDelete {
		return StateDeleted, true
	}
	return StateCreated, true
}

// DeriveStates replays CREATE/DELETE/RESTORE events per entity. Entities that
// were never created are absent from the result.
func DeriveStates(events []Event) map[string]EntityState {
	ordered := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Command.Lifecycle() {
			ordered = append(ordered, e)
		}
	}
	SortEvents(ordered)

	type bounds struct{ first, last Command }
	seen := make(map[string]*bounds)
	for _, e := range ordered {
		b, ok := seen[e.EntityID]
		if !ok {
			seen[e.EntityID] = &bounds{first: e.Command, last: e.Command}
			continue
		}
		b.last = e.Command
	}

	states := make(map[string]EntityState, len(seen))
	for id, b := range seen {
		if st, ok := StateFromBounds(b.first, b.last); ok {
			states[id] = st
		}
	}
	return states
}

// CurrentValues merges the values of each entity's events in stream order.
func CurrentValues(events []Event) map[string]Values {
	ordered := append([]Event(nil), events...)
	SortEvents(ordered)
	out := make(map[string]Values)
	for _, e := range ordered {
		out[e.EntityID] = MergeValues(out[e.EntityID], e.Values)
	}
	return out
}
