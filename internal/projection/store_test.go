package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/eventstore"
	"orgdir.io/orgdir/internal/testutil"
)

func TestPostgresPipeline(t *testing.T) {
	ctx := context.Background()
	pool := testutil.OpenPGXPool(t, t.Name())
	events := eventstore.New(pool)
	store := NewStore(pool)
	require.NoError(t, events.CreateIndexes(ctx))
	require.NoError(t, store.CreateIndexes(ctx))

	_, err := events.Push(ctx, []domain.Event{
		ev(domain.EntityApplication, "app", domain.CommandCreate, 0, domain.Values{"name": "Portal", "key": "portal"}),
		ev(domain.EntityOrganization, "org", domain.CommandCreate, 1, domain.Values{"name": "Acme", "key": "acme"}),
		ev(domain.EntityWorkspace, "ws", domain.CommandCreate, 2, domain.Values{"app": "app", "org": "org", "key": "main", "name": "Main"}),
	})
	require.NoError(t, err)

	p := NewPipeline(events, store)
	for _, et := range []domain.EntityType{domain.EntityApplication, domain.EntityOrganization, domain.EntityWorkspace} {
		require.NoError(t, p.Refresh(ctx, et, nil))
	}

	rawDoc := func() string {
		var doc string
		err := pool.QueryRow(ctx, `SELECT doc::text FROM normalized WHERE entity_type = 'workspace' AND id = 'ws'`).Scan(&doc)
		require.NoError(t, err)
		return doc
	}
	before := rawDoc()
	require.NoError(t, p.Refresh(ctx, domain.EntityWorkspace, []string{"ws"}))
	require.Equal(t, before, rawDoc(), "normalizing twice must not change the document")

	byApp, err := store.NormalizedByField(ctx, domain.EntityWorkspace, "app", []string{"app"})
	require.NoError(t, err)
	require.Len(t, byApp, 1)
	require.Equal(t, "Main", byApp[0].Values.String("name"))

	_, err = events.Push(ctx, []domain.Event{
		ev(domain.EntityOrganization, "org", domain.CommandDelete, 3, domain.Values{}),
	})
	require.NoError(t, err)
	require.NoError(t, p.Refresh(ctx, domain.EntityOrganization, []string{"org"}))

	ws, err := store.Materialized(ctx, domain.EntityWorkspace, []string{"ws"})
	require.NoError(t, err)
	require.Len(t, ws, 1)
	require.True(t, ws[0].Deleted)

	normalized, err := store.Normalized(ctx, domain.EntityWorkspace, []string{"ws"})
	require.NoError(t, err)
	require.False(t, normalized[0].Deleted)
}

func TestPostgresUpsertKeepsNewerDocument(t *testing.T) {
	ctx := context.Background()
	pool := testutil.OpenPGXPool(t, t.Name())
	store := NewStore(pool)
	require.NoError(t, store.CreateIndexes(ctx))

	create := ev(domain.EntityOrganization, "org", domain.CommandCreate, 0, domain.Values{"name": "Old", "key": "acme"})
	rename := ev(domain.EntityOrganization, "org", domain.CommandChangeName, 1, domain.Values{"name": "New"})
	newer := Fold(domain.EntityOrganization, "org", []domain.Event{create, rename})
	older := Fold(domain.EntityOrganization, "org", []domain.Event{create})

	require.NoError(t, store.UpsertNormalized(ctx, []domain.Normalized{newer}))
	require.NoError(t, store.UpsertNormalized(ctx, []domain.Normalized{older}))

	docs, err := store.Normalized(ctx, domain.EntityOrganization, []string{"org"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "New", docs[0].Values.String("name"))
	require.Equal(t, 2, docs[0].Meta.Touched.N)
}

func TestPostgresLockedSerializes(t *testing.T) {
	ctx := context.Background()
	pool := testutil.OpenPGXPool(t, t.Name())
	store := NewStore(pool)
	require.NoError(t, store.CreateIndexes(ctx))

	key := lockKey("normalize", domain.EntityOrganization)
	entered, release := make(chan struct{}), make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- store.Locked(ctx, key, func(DocStore) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	second := make(chan error, 1)
	go func() {
		second <- store.Locked(ctx, key, func(DocStore) error { return nil })
	}()
	select {
	case <-second:
		t.Fatal("second holder entered while the lock was held")
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-first)
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}
