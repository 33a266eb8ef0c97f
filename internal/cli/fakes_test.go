package cli

import (
	"context"
	"sort"
	"sync"
	"time"

	"orgdir.io/orgdir/internal/command"
	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
	"orgdir.io/orgdir/internal/projection"
)

// memStore is an in-memory command backend, event source and document store.
type memStore struct {
	mu           sync.Mutex
	events       []domain.Event
	reservations []domain.Reservation
	clock        time.Time
	normalized   map[domain.EntityType]map[string]domain.Normalized
	materialized map[domain.EntityType]map[string]domain.Materialized
}

func newMemStore() *memStore {
	return &memStore{
		clock:        time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
		normalized:   make(map[domain.EntityType]map[string]domain.Normalized),
		materialized: make(map[domain.EntityType]map[string]domain.Materialized),
	}
}

func (m *memStore) env() *Env {
	return &Env{
		Migrate:  func(context.Context) error { return nil },
		Pipeline: projection.NewPipeline(m, m),
		States:   m,
		Keys:     m,
		Commands: command.NewRegistry(m),
	}
}

func (m *memStore) EntityStates(_ context.Context, t domain.EntityType, ids []string) (map[string]domain.EntityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.DeriveStates(m.pick(t, ids)), nil
}

func (m *memStore) EntityIDs(_ context.Context, t domain.EntityType) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, e := range m.events {
		if e.EntityType == t && !seen[e.EntityID] {
			seen[e.EntityID] = true
			ids = append(ids, e.EntityID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) Reservation(_ context.Context, t domain.EntityType, key, value string) (domain.Reservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.EntityType == t && r.Key == key && r.Value == value {
			return r, true, nil
		}
	}
	return domain.Reservation{}, false, nil
}

func (m *memStore) Events(_ context.Context, t domain.EntityType, ids []string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pick(t, ids), nil
}

func (m *memStore) pick(t domain.EntityType, ids []string) []domain.Event {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Event
	for _, e := range m.events {
		if e.EntityType == t && (len(ids) == 0 || want[e.EntityID]) {
			out = append(out, e)
		}
	}
	domain.SortEvents(out)
	return out
}

func (m *memStore) Push(ctx context.Context, events []domain.Event) ([]domain.Event, error) {
	var out []domain.Event
	err := m.InTx(ctx, func(uow command.UnitOfWork) error {
		var err error
		out, err = uow.Push(ctx, events)
		return err
	})
	return out, err
}

func (m *memStore) InTx(_ context.Context, fn func(uow command.UnitOfWork) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := append([]domain.Event(nil), m.events...)
	reservations := append([]domain.Reservation(nil), m.reservations...)
	if err := fn(memUoW{m}); err != nil {
		m.events, m.reservations = events, reservations
		return err
	}
	return nil
}

type memUoW struct{ m *memStore }

func (u memUoW) Push(_ context.Context, events []domain.Event) ([]domain.Event, error) {
	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		u.m.clock = u.m.clock.Add(time.Millisecond)
		if err := e.ApplyDefaults(u.m.clock); err != nil {
			return nil, err
		}
		u.m.events = append(u.m.events, e)
		out = append(out, e)
	}
	return out, nil
}

func (u memUoW) Reserve(_ context.Context, entries []domain.Reservation) error {
	for _, r := range entries {
		for _, x := range u.m.reservations {
			if x.EntityType == r.EntityType && x.Key == r.Key && x.Value == r.Value {
				return apperrors.ErrKeyInUsef(string(r.EntityType), r.Key, r.Value, nil)
			}
		}
		u.m.reservations = append(u.m.reservations, r)
	}
	return nil
}

func (u memUoW) Release(_ context.Context, claims []domain.Claim) error {
	for _, c := range claims {
		kept := u.m.reservations[:0]
		for _, x := range u.m.reservations {
			if x.Claim() != c {
				kept = append(kept, x)
			}
		}
		u.m.reservations = kept
	}
	return nil
}

func (m *memStore) UpsertNormalized(_ context.Context, docs []domain.Normalized) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if m.normalized[d.EntityType] == nil {
			m.normalized[d.EntityType] = make(map[string]domain.Normalized)
		}
		m.normalized[d.EntityType][d.ID] = d
	}
	return nil
}

func (m *memStore) UpsertMaterialized(_ context.Context, docs []domain.Materialized) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if m.materialized[d.EntityType] == nil {
			m.materialized[d.EntityType] = make(map[string]domain.Materialized)
		}
		m.materialized[d.EntityType][d.ID] = d
	}
	return nil
}

func (m *memStore) Normalized(_ context.Context, t domain.EntityType, ids []string) ([]domain.Normalized, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Normalized
	for id, d := range m.normalized[t] {
		if len(ids) == 0 || want[id] {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) NormalizedByField(_ context.Context, t domain.EntityType, field string, values []string) ([]domain.Normalized, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[v] = true
	}
	var out []domain.Normalized
	for _, d := range m.normalized[t] {
		if want[d.Values.String(field)] {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) mat(t domain.EntityType, id string) (domain.Materialized, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.materialized[t][id]
	return d, ok
}

func domainTarget(id string) command.Target { return command.Target{EntityID: id} }
