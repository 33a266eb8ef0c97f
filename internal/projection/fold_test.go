package projection

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"orgdir.io/orgdir/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type eventOpt func(*domain.Event)

func omitted(e *domain.Event) {
	e.OmitFromHistory = true
	e.OmitFromModified = true
}

func by(user string) eventOpt {
	return func(e *domain.Event) { e.UserID = domain.UserRef(user) }
}

func ev(t domain.EntityType, id string, cmd domain.Command, minute int, values domain.Values, opts ...eventOpt) domain.Event {
	e := domain.Event{
		ID:         uuid.Must(uuid.NewV7()),
		EntityID:   id,
		EntityType: t,
		Command:    cmd,
		Date:       t0.Add(time.Duration(minute) * time.Minute),
		Values:     values,
	}
	for _, o := range opts {
		o(&e)
	}
	return e
}

func TestFoldMetadataAndDeletion(t *testing.T) {
	events := []domain.Event{
		ev(domain.EntityOrganization, "o1", domain.CommandCreate, 0, domain.Values{"name": "Acme", "key": "acme"}, by("admin")),
		ev(domain.EntityOrganization, "o1", domain.CommandChangeName, 1, domain.Values{"name": "Acme Inc"}, by("ops")),
		ev(domain.EntityOrganization, "o1", domain.CommandDelete, 2, domain.Values{}),
		ev(domain.EntityOrganization, "o1", domain.CommandRestore, 3, domain.Values{}),
	}

	tests := []struct {
		name    string
		events  []domain.Event
		deleted bool
		n       int
	}{
		{name: "created only", events: events[:1], deleted: false, n: 1},
		{name: "renamed", events: events[:2], deleted: false, n: 2},
		{name: "deleted", events: events[:3], deleted: true, n: 3},
		{name: "restored", events: events, deleted: false, n: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Fold(domain.EntityOrganization, "o1", tt.events)
			require.Equal(t, tt.deleted, doc.Deleted)
			require.NotNil(t, doc.Meta.Created)
			require.Equal(t, t0, doc.Meta.Created.Date)
			require.Equal(t, "admin", *doc.Meta.Created.UserID)
			require.Equal(t, tt.n, doc.Meta.Modified.N)
			require.Equal(t, tt.n, doc.Meta.Touched.N)
			require.Len(t, doc.History, tt.n)
		})
	}

	doc := Fold(domain.EntityOrganization, "o1", events)
	require.Equal(t, "Acme Inc", doc.Values.String("name"))
	require.Equal(t, "acme", doc.Values.String("key"))
}

func TestFoldOrdersByDateThenID(t *testing.T) {
	create := ev(domain.EntityOrganization, "o1", domain.CommandCreate, 0, domain.Values{"name": "first"})
	rename := ev(domain.EntityOrganization, "o1", domain.CommandChangeName, 5, domain.Values{"name": "last"})

	a := Fold(domain.EntityOrganization, "o1", []domain.Event{create, rename})
	b := Fold(domain.EntityOrganization, "o1", []domain.Event{rename, create})
	require.Equal(t, "last", a.Values.String("name"))
	require.Equal(t, a, b)
	require.Equal(t, domain.CommandCreate, b.History[0].Command)
}

func TestFoldHistoryFiltering(t *testing.T) {
	events := []domain.Event{
		ev(domain.EntityUser, "u1", domain.CommandCreate, 0, domain.Values{"name": "Ann", "email": "ann@example.com", "verified": false, "logins": 0}),
		ev(domain.EntityUser, "u1", domain.CommandLogin, 1, domain.Values{}, omitted),
		ev(domain.EntityUser, "u1", domain.CommandLogin, 2, domain.Values{}, omitted),
	}
	doc := Fold(domain.EntityUser, "u1", events)

	require.Len(t, doc.History, 1)
	require.Equal(t, domain.CommandCreate, doc.History[0].Command)
	require.Equal(t, 3, doc.Meta.Touched.N)
	require.Equal(t, 1, doc.Meta.Modified.N)
	require.Equal(t, t0, doc.Meta.Modified.Date)
	require.Equal(t, t0.Add(2*time.Minute), doc.Meta.Touched.Date)
	require.Equal(t, 2, doc.Values["logins"])
	require.Equal(t, t0.Add(2*time.Minute), doc.Values["lastLogin"])
}

func TestFoldUserOverrides(t *testing.T) {
	events := []domain.Event{
		ev(domain.EntityUser, "u1", domain.CommandCreate, 0, domain.Values{"email": "a@example.com", "verified": false}),
		ev(domain.EntityUser, "u1", domain.CommandVerifyEmail, 1, domain.Values{}),
	}
	doc := Fold(domain.EntityUser, "u1", events)
	require.Equal(t, true, doc.Values["verified"])

	events = append(events, ev(domain.EntityUser, "u1", domain.CommandChangeEmail, 2, domain.Values{"email": "b@example.com", "verified": false}))
	doc = Fold(domain.EntityUser, "u1", events)
	require.Equal(t, false, doc.Values["verified"])
	require.Equal(t, "b@example.com", doc.Values.String("email"))

	// Login counting only applies to users.
	org := Fold(domain.EntityOrganization, "o1", []domain.Event{
		ev(domain.EntityOrganization, "o1", domain.CommandCreate, 0, domain.Values{"name": "x"}),
		ev(domain.EntityOrganization, "o1", domain.CommandLogin, 1, domain.Values{}),
	})
	require.NotContains(t, org.Values, "logins")
}

func TestFoldIsIdempotent(t *testing.T) {
	events := []domain.Event{
		ev(domain.EntityUser, "u1", domain.CommandCreate, 0, domain.Values{"name": "Ann", "email": "ann@example.com", "logins": 0}, by("admin")),
		ev(domain.EntityUser, "u1", domain.CommandLogin, 1, domain.Values{}, omitted),
		ev(domain.EntityUser, "u1", domain.CommandChangeName, 2, domain.Values{"name": "Anne", "profile": domain.Values{"lang": "fr"}}),
	}
	first, err := json.Marshal(Fold(domain.EntityUser, "u1", events))
	require.NoError(t, err)
	second, err := json.Marshal(Fold(domain.EntityUser, "u1", events))
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))

	// A document read back from storage encodes to the same bytes.
	var decoded domain.Normalized
	require.NoError(t, json.Unmarshal(first, &decoded))
	third, err := json.Marshal(decoded)
	require.NoError(t, err)
	require.JSONEq(t, string(first), string(third))
}

func TestFoldAllGroupsByEntity(t *testing.T) {
	events := []domain.Event{
		ev(domain.EntityApplication, "b", domain.CommandCreate, 0, domain.Values{"name": "B"}),
		ev(domain.EntityApplication, "a", domain.CommandCreate, 1, domain.Values{"name": "A"}),
		ev(domain.EntityApplication, "b", domain.CommandDelete, 2, domain.Values{}),
	}
	docs := FoldAll(domain.EntityApplication, events)
	require.Len(t, docs, 2)
	require.Equal(t, "a", docs[0].ID)
	require.False(t, docs[0].Deleted)
	require.Equal(t, "b", docs[1].ID)
	require.True(t, docs[1].Deleted)
}
