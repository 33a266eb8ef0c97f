package projection

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"orgdir.io/orgdir/internal/domain"
)

type memEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memEvents) push(events ...domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
}

func (m *memEvents) Events(_ context.Context, t domain.EntityType, ids []string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool)
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Event
	for _, e := range m.events {
		if e.EntityType == t && (len(ids) == 0 || want[e.EntityID]) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memDocs struct {
	mu           sync.Mutex
	normalized   map[domain.EntityType]map[string]domain.Normalized
	materialized map[domain.EntityType]map[string]domain.Materialized
	writes       int
}

func newMemDocs() *memDocs {
	return &memDocs{
		normalized:   make(map[domain.EntityType]map[string]domain.Normalized),
		materialized: make(map[domain.EntityType]map[string]domain.Materialized),
	}
}

func (m *memDocs) UpsertNormalized(_ context.Context, docs []domain.Normalized) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if m.normalized[d.EntityType] == nil {
			m.normalized[d.EntityType] = make(map[string]domain.Normalized)
		}
		m.normalized[d.EntityType][d.ID] = d
		m.writes++
	}
	return nil
}

func (m *memDocs) UpsertMaterialized(_ context.Context, docs []domain.Materialized) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if m.materialized[d.EntityType] == nil {
			m.materialized[d.EntityType] = make(map[string]domain.Materialized)
		}
		m.materialized[d.EntityType][d.ID] = d
		m.writes++
	}
	return nil
}

func (m *memDocs) Normalized(_ context.Context, t domain.EntityType, ids []string) ([]domain.Normalized, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool)
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

func (m *memDocs) NormalizedByField(_ context.Context, t domain.EntityType, field string, values []string) ([]domain.Normalized, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool)
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

func (m *memDocs) mat(t domain.EntityType, id string) domain.Materialized {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.materialized[t][id]
}

// directory seeds one application, organization, workspace, two users, a
// manager and a member, and refreshes everything.
func directory(t *testing.T) (*Pipeline, *memEvents, *memDocs) {
	t.Helper()
	events := &memEvents{}
	docs := newMemDocs()
	p := NewPipeline(events, docs)

	events.push(
		ev(domain.EntityApplication, "app", domain.CommandCreate, 0, domain.Values{"name": "Portal", "key": "portal"}),
		ev(domain.EntityOrganization, "org", domain.CommandCreate, 1, domain.Values{"name": "Acme", "key": "acme"}),
		ev(domain.EntityUser, "ann", domain.CommandCreate, 2, domain.Values{"name": "Ann", "email": "ann@example.com"}),
		ev(domain.EntityUser, "bob", domain.CommandCreate, 3, domain.Values{"name": "Bob", "email": "bob@example.com"}),
		ev(domain.EntityWorkspace, "ws", domain.CommandCreate, 4, domain.Values{"app": "app", "org": "org", "key": "main", "name": "Main"}),
		ev(domain.EntityManager, "org:ann", domain.CommandCreate, 5, domain.Values{"org": "org", "user": "ann", "role": "owner"}),
		ev(domain.EntityMember, "ws:bob", domain.CommandCreate, 6, domain.Values{"workspace": "ws", "user": "bob", "role": "editor"}),
	)
	ctx := context.Background()
	for _, et := range domain.EntityTypes() {
		require.NoError(t, p.Refresh(ctx, et, nil))
	}
	return p, events, docs
}

func edges(t *testing.T, doc domain.Materialized, field string) []any {
	t.Helper()
	conn, ok := doc.Fields[field].(domain.Values)
	require.True(t, ok, "%s is %T", field, doc.Fields[field])
	list, ok := conn["edges"].([]any)
	require.True(t, ok)
	return list
}

func TestMaterializeJoins(t *testing.T) {
	_, _, docs := directory(t)

	org := docs.mat(domain.EntityOrganization, "org")
	managers := edges(t, org, "managerConnection")
	require.Len(t, managers, 1)
	edge := managers[0].(domain.Values)
	require.Equal(t, "owner", edge["role"])
	require.Equal(t, domain.Values{"_id": "ann", "name": "Ann", "email": "ann@example.com"}, edge["node"])

	user := docs.mat(domain.EntityUser, "ann")
	orgs := user.Fields["organizations"].([]any)
	require.Len(t, orgs, 1)
	require.Equal(t, domain.Values{"_id": "org", "name": "Acme", "key": "acme"}, orgs[0].(domain.Values)["node"])

	ws := docs.mat(domain.EntityWorkspace, "ws")
	require.False(t, ws.Deleted)
	require.Equal(t, domain.Values{"_id": "app", "name": "Portal", "key": "portal"}, ws.Fields["application"])
	require.Len(t, edges(t, ws, "memberConnection"), 1)

	app := docs.mat(domain.EntityApplication, "app")
	require.Len(t, edges(t, app, "workspaceConnection"), 1)
}

func TestMaterializeCascadesParentDeletion(t *testing.T) {
	p, events, docs := directory(t)
	ctx := context.Background()

	events.push(ev(domain.EntityOrganization, "org", domain.CommandDelete, 10, domain.Values{}))
	require.NoError(t, p.Refresh(ctx, domain.EntityOrganization, []string{"org"}))

	normalized, err := docs.Normalized(ctx, domain.EntityWorkspace, []string{"ws"})
	require.NoError(t, err)
	require.False(t, normalized[0].Deleted, "normalized workspace is untouched")

	require.True(t, docs.mat(domain.EntityOrganization, "org").Deleted)
	require.True(t, docs.mat(domain.EntityWorkspace, "ws").Deleted)
	require.True(t, docs.mat(domain.EntityManager, "org:ann").Deleted)
	require.True(t, docs.mat(domain.EntityMember, "ws:bob").Deleted)
	require.Empty(t, docs.mat(domain.EntityUser, "ann").Fields["organizations"])
	require.Empty(t, edges(t, docs.mat(domain.EntityApplication, "app"), "workspaceConnection"))

	events.push(ev(domain.EntityOrganization, "org", domain.CommandRestore, 11, domain.Values{}))
	require.NoError(t, p.Refresh(ctx, domain.EntityOrganization, []string{"org"}))
	require.False(t, docs.mat(domain.EntityWorkspace, "ws").Deleted)
	require.False(t, docs.mat(domain.EntityMember, "ws:bob").Deleted)
}

func TestRefreshPropagatesRenames(t *testing.T) {
	p, events, docs := directory(t)
	ctx := context.Background()

	events.push(ev(domain.EntityUser, "bob", domain.CommandChangeName, 10, domain.Values{"name": "Robert"}))
	require.NoError(t, p.Refresh(ctx, domain.EntityUser, []string{"bob"}))

	member := docs.mat(domain.EntityMember, "ws:bob")
	require.Equal(t, "Robert", member.Fields["node"].(domain.Values)["name"])
	edge := edges(t, docs.mat(domain.EntityWorkspace, "ws"), "memberConnection")[0].(domain.Values)
	require.Equal(t, "Robert", edge["node"].(domain.Values)["name"])
}

func TestDryRunWritesNothing(t *testing.T) {
	events := &memEvents{}
	docs := newMemDocs()
	p := NewPipeline(events, docs)
	events.push(ev(domain.EntityApplication, "app", domain.CommandCreate, 0, domain.Values{"name": "Portal"}))

	dry := false
	out, err := p.Normalizer().Build(context.Background(), Request{
		EntityType:     domain.EntityApplication,
		WithMergeStage: &dry,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Zero(t, docs.writes)

	mat, err := p.Materializer().Build(context.Background(), Request{
		EntityType:     domain.EntityApplication,
		WithMergeStage: &dry,
	})
	require.NoError(t, err)
	require.Empty(t, mat, "nothing was normalized yet")
	require.Zero(t, docs.writes)
}

func TestMaterializeOrphan(t *testing.T) {
	g := newGraph()
	manager := Fold(domain.EntityManager, "gone:ann", []domain.Event{
		ev(domain.EntityManager, "gone:ann", domain.CommandCreate, 0, domain.Values{"org": "gone", "user": "ann", "role": "admin"}),
	})
	g.add(manager, Fold(domain.EntityUser, "ann", []domain.Event{
		ev(domain.EntityUser, "ann", domain.CommandCreate, 0, domain.Values{"name": "Ann"}),
	}))

	doc := materialize(manager, g)
	require.True(t, doc.Deleted)
	require.NotContains(t, doc.Fields, "organization")
	require.Equal(t, "ann", doc.Fields["node"].(domain.Values)["_id"])
}

// lockingDocs serializes Locked callers on one mutex and announces each
// caller on waiting before it blocks.
type lockingDocs struct {
	*memDocs
	lock    sync.Mutex
	waiting chan string
}

func (l *lockingDocs) Locked(_ context.Context, key string, fn func(DocStore) error) error {
	l.waiting <- key
	l.lock.Lock()
	defer l.lock.Unlock()
	return fn(l.memDocs)
}

// gatedEvents holds its first reader after the read until gate is closed.
type gatedEvents struct {
	*memEvents
	once sync.Once
	read chan struct{}
	gate chan struct{}
}

func (g *gatedEvents) Events(ctx context.Context, t domain.EntityType, ids []string) ([]domain.Event, error) {
	out, err := g.memEvents.Events(ctx, t, ids)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.read)
		<-g.gate
	}
	return out, err
}

func TestNormalizeConcurrentBuildsKeepNewest(t *testing.T) {
	ctx := context.Background()
	events := &gatedEvents{memEvents: &memEvents{}, read: make(chan struct{}), gate: make(chan struct{})}
	docs := &lockingDocs{memDocs: newMemDocs(), waiting: make(chan string, 4)}
	n := NewNormalizer(events, docs)
	req := Request{EntityType: domain.EntityOrganization, EntityIDs: []string{"org"}}

	events.push(ev(domain.EntityOrganization, "org", domain.CommandCreate, 0, domain.Values{"name": "Old", "key": "acme"}))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	build := func() {
		defer wg.Done()
		_, err := n.Build(ctx, req)
		errs <- err
	}

	wg.Add(1)
	go build()
	<-events.read
	require.Equal(t, "orgdir.projection:normalize:organization", <-docs.waiting)

	events.push(ev(domain.EntityOrganization, "org", domain.CommandChangeName, 1, domain.Values{"name": "New"}))
	wg.Add(1)
	go build()
	<-docs.waiting
	close(events.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := docs.Normalized(ctx, domain.EntityOrganization, []string{"org"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "New", got[0].Values.String("name"))
	require.Equal(t, 2, got[0].Meta.Touched.N)
}

func TestDryRunSkipsLock(t *testing.T) {
	events := &memEvents{}
	docs := &lockingDocs{memDocs: newMemDocs(), waiting: make(chan string, 4)}
	events.push(ev(domain.EntityOrganization, "org", domain.CommandCreate, 0, domain.Values{"name": "Acme", "key": "acme"}))

	merge := false
	out, err := NewNormalizer(events, docs).Build(context.Background(), Request{
		EntityType: domain.EntityOrganization, WithMergeStage: &merge,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Empty(t, docs.waiting)
	require.Zero(t, docs.writes)

	_, err = NewMaterializer(docs).Build(context.Background(), Request{EntityType: domain.EntityOrganization})
	require.NoError(t, err)
	require.Equal(t, "orgdir.projection:materialize:organization", <-docs.waiting)
}
