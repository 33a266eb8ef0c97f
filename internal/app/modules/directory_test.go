package modules

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/pkg/logger"
	"orgdir.io/orgdir/internal/pkg/worker"
)

func init() {
	_ = logger.Init("error", "json")
}

type refreshCall struct {
	entityType domain.EntityType
	ids        []string
}

type chanRefresher struct {
	mu    sync.Mutex
	calls []refreshCall
	done  chan struct{}
}

func (r *chanRefresher) Refresh(_ context.Context, t domain.EntityType, ids []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, refreshCall{entityType: t, ids: ids})
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestInlineRefresh(t *testing.T) {
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 2, ProjectionPoolSize: 2})
	require.NoError(t, err)
	defer pools.Shutdown()

	ref := &chanRefresher{done: make(chan struct{}, 4)}
	hook := InlineRefresh(pools, ref, time.Second)

	hook(context.Background(), []domain.Event{
		{EntityID: "u2", EntityType: domain.EntityUser, Command: domain.CommandCreate},
		{EntityID: "u1", EntityType: domain.EntityUser, Command: domain.CommandCreate},
		{EntityID: "o1:u1", EntityType: domain.EntityManager, Command: domain.CommandCreate},
	})

	for i := 0; i < 2; i++ {
		select {
		case <-ref.done:
		case <-time.After(5 * time.Second):
			t.Fatal("refresh was not run")
		}
	}

	ref.mu.Lock()
	defer ref.mu.Unlock()
	sort.Slice(ref.calls, func(i, j int) bool { return ref.calls[i].entityType < ref.calls[j].entityType })
	require.Equal(t, []refreshCall{
		{entityType: domain.EntityManager, ids: []string{"o1:u1"}},
		{entityType: domain.EntityUser, ids: []string{"u1", "u2"}},
	}, ref.calls)
}
