package domain

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func ev(entityID string, cmd Command, offset time.Duration) Event {
	return Event{
		ID:         uuid.Must(uuid.NewV7()),
		EntityID:   entityID,
		EntityType: EntityOrganization,
		Command:    cmd,
		Date:       t0.Add(offset),
		Values:     Values{},
	}
}

func TestDeriveStates(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   map[string]EntityState
	}{
		{
			name: "create change delete restore is created",
			events: []Event{
				ev("o1", CommandCreate, 0),
				ev("o1", CommandChangeName, time.Second),
				ev("o1", CommandDelete, 2*time.Second),
				ev("o1", CommandRestore, 3*time.Second),
			},
			want: map[string]EntityState{"o1": StateCreated},
		},
		{
			name: "create delete is deleted",
			events: []Event{
				ev("o1", CommandCreate, 0),
				ev("o1", CommandDelete, time.Second),
			},
			want: map[string]EntityState{"o1": StateDeleted},
		},
		{
			name:   "no events is absent",
			events: nil,
			want:   map[string]EntityState{},
		},
		{
			name: "stream not starting with create is absent",
			events: []Event{
				ev("o1", CommandDelete, 0),
				ev("o1", CommandRestore, time.Second),
			},
			want: map[string]EntityState{},
		},
		{
			name: "ordering follows date not slice position",
			events: []Event{
				ev("o1", CommandDelete, 2*time.Second),
				ev("o1", CommandCreate, 0),
			},
			want: map[string]EntityState{"o1": StateDeleted},
		},
		{
			name: "entities are derived independently",
			events: []Event{
				ev("o1", CommandCreate, 0),
				ev("o2", CommandCreate, 0),
				ev("o2", CommandDelete, time.Second),
			},
			want: map[string]EntityState{"o1": StateCreated, "o2": StateDeleted},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DeriveStates(tt.events))
		})
	}
}

func TestSortEvents_TieBreaksOnID(t *testing.T) {
	a := ev("o1", CommandCreate, 0)
	b := ev("o1", CommandChangeName, 0)
	require.True(t, a.Before(b), "v7 ids minted in order must sort in order")

	events := []Event{b, a}
	SortEvents(events)
	require.Equal(t, a.ID, events[0].ID)
}

func TestParseEntityType(t *testing.T) {
	got, err := ParseEntityType(" Organization ")
	require.NoError(t, err)
	require.Equal(t, EntityOrganization, got)

	_, err = ParseEntityType("tenant")
	require.Error(t, err)

	for _, et := range EntityTypes() {
		require.True(t, et.Valid(), et)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme-corp"},
		{"  Crème Brûlée & Co.  ", "creme-brulee-co"},
		{"Zürich--Ops", "zurich-ops"},
		{"already-a-slug", "already-a-slug"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestSlugifyCapsLength(t *testing.T) {
	slug := regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

	long := Slugify(strings.Repeat("Platform Team ", 20))
	require.Len(t, long, MaxKeyLength)
	require.Regexp(t, slug, long)

	// The cut lands on a separator, which is trimmed.
	edge := Slugify(strings.Repeat("a", MaxKeyLength-1) + " b")
	require.Equal(t, strings.Repeat("a", MaxKeyLength-1), edge)
}

func TestCompositeIDs(t *testing.T) {
	id := ManagerID("org-1", "user-1")
	require.Equal(t, "org-1:user-1", id)

	org, user, err := SplitCompositeID(id)
	require.NoError(t, err)
	require.Equal(t, "org-1", org)
	require.Equal(t, "user-1", user)

	for _, bad := range []string{"", "nocolon", ":u", "o:", "a:b:c"} {
		_, _, err := SplitCompositeID(bad)
		require.Error(t, err, bad)
	}

	require.Equal(t, "app:org:key", WorkspaceKey("app", "org", "key"))
}

func TestMergeValues(t *testing.T) {
	base := Values{"name": "Acme", "profile": map[string]any{"city": "Oslo", "zip": "0150"}}
	patch := Values{"name": "Acme AS", "profile": Values{"city": "Bergen"}}

	got := MergeValues(base, patch)
	require.Equal(t, "Acme AS", got["name"])
	require.Equal(t, Values{"city": "Bergen", "zip": "0150"}, got["profile"])

	// inputs are untouched
	require.Equal(t, "Acme", base["name"])
	require.Equal(t, "Oslo", base["profile"].(map[string]any)["city"])
}

func TestEventApplyDefaults(t *testing.T) {
	e := Event{EntityID: "o1", EntityType: EntityOrganization, Command: CommandCreate}
	require.NoError(t, e.ApplyDefaults(t0))
	require.NotEqual(t, uuid.Nil, e.ID)
	require.Equal(t, t0, e.Date)
	require.NotNil(t, e.Values)

	when := t0.Add(time.Hour)
	e2 := Event{Date: when, Values: Values{"name": "x"}}
	require.NoError(t, e2.ApplyDefaults(t0))
	require.Equal(t, when, e2.Date)
	require.Equal(t, "x", e2.Values.String("name"))
}

func TestNormalized_JSONIsFlatAndStable(t *testing.T) {
	doc := Normalized{
		ID:         "o1",
		EntityType: EntityOrganization,
		Values:     Values{"name": "Acme", "key": "acme"},
		Meta:       Meta{Created: &Stamp{Date: t0}},
	}

	first, err := json.Marshal(doc)
	require.NoError(t, err)
	second, err := json.Marshal(doc)
	require.NoError(t, err)
	require.Equal(t, first, second)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(first, &flat))
	require.Equal(t, "o1", flat["_id"])
	require.Equal(t, "Acme", flat["name"])
	require.Equal(t, false, flat["_deleted"])

	var back Normalized
	require.NoError(t, json.Unmarshal(first, &back))
	require.Equal(t, "o1", back.ID)
	require.Equal(t, EntityOrganization, back.EntityType)
	require.Equal(t, "acme", back.Values.String("key"))
	require.Empty(t, back.History)
}
