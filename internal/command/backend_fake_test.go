package command

import (
	"context"
	"sync"
	"time"

	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
)

// memBackend is an in-memory Backend. InTx snapshots the state and restores
// it when the callback fails, which is all the handlers rely on.
type memBackend struct {
	mu           sync.Mutex
	events       []domain.Event
	reservations []domain.Reservation
	clock        time.Time
	stateCalls   int
}

func newMemBackend() *memBackend {
	return &memBackend{clock: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *memBackend) EntityStates(_ context.Context, t domain.EntityType, ids []string) (map[string]domain.EntityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCalls++
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var subset []domain.Event
	for _, e := range m.events {
		if e.EntityType == t && want[e.EntityID] {
			subset = append(subset, e)
		}
	}
	return domain.DeriveStates(subset), nil
}

func (m *memBackend) Events(_ context.Context, t domain.EntityType, ids []string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventsLocked(t, ids), nil
}

func (m *memBackend) eventsLocked(t domain.EntityType, ids []string) []domain.Event {
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

func (m *memBackend) Push(ctx context.Context, events []domain.Event) ([]domain.Event, error) {
	var out []domain.Event
	err := m.InTx(ctx, func(uow UnitOfWork) error {
		var err error
		out, err = uow.Push(ctx, events)
		return err
	})
	return out, err
}

func (m *memBackend) InTx(_ context.Context, fn func(uow UnitOfWork) error) error {
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

// memUoW runs with m.mu held by InTx.
type memUoW struct{ m *memBackend }

func (u memUoW) Push(_ context.Context, events []domain.Event) ([]domain.Event, error) {
	m := u.m
	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		m.clock = m.clock.Add(time.Millisecond)
		if err := e.ApplyDefaults(m.clock); err != nil {
			return nil, err
		}
		if e.Command == domain.CommandCreate {
			for _, x := range m.events {
				if x.Command == domain.CommandCreate && x.EntityType == e.EntityType && x.EntityID == e.EntityID {
					return nil, apperrors.ErrDuplicateCreatef(string(e.EntityType), e.EntityID, nil)
				}
			}
		}
		m.events = append(m.events, e)
		out = append(out, e)
	}
	return out, nil
}

func (u memUoW) Reserve(_ context.Context, entries []domain.Reservation) error {
	m := u.m
	for _, r := range entries {
		for _, x := range m.reservations {
			if x.EntityType == r.EntityType && x.Key == r.Key && x.Value == r.Value {
				return apperrors.ErrKeyInUsef(string(r.EntityType), r.Key, r.Value, nil)
			}
		}
		m.reservations = append(m.reservations, r)
	}
	return nil
}

func (u memUoW) Release(_ context.Context, claims []domain.Claim) error {
	m := u.m
	for _, c := range claims {
		kept := m.reservations[:0]
		for _, x := range m.reservations {
			if x.Claim() != c {
				kept = append(kept, x)
			}
		}
		m.reservations = kept
	}
	return nil
}

func (m *memBackend) count(t domain.EntityType, id string, cmd domain.Command) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.EntityType == t && e.EntityID == id && e.Command == cmd {
			n++
		}
	}
	return n
}

func (m *memBackend) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *memBackend) reserved(t domain.EntityType, key, value string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.reservations {
		if x.EntityType == t && x.Key == key && x.Value == value {
			return x.EntityID, true
		}
	}
	return "", false
}
