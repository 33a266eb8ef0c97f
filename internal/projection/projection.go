// Package projection builds the read models. The normalizer folds each
// entity's event stream into a current-state document; the materializer
// joins normalized documents across entity types into denormalized documents
// and propagates parent deletions to children. Both rebuild whole documents.
//
// Import Path: orgdir.io/orgdir/internal/projection
package projection

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/pkg/logger"
)

// EventSource reads event streams. An empty id list selects every entity.
type EventSource interface {
	Events(ctx context.Context, entityType domain.EntityType, entityIDs []string) ([]domain.Event, error)
}

// DocStore persists and queries projected documents.
type DocStore interface {
	UpsertNormalized(ctx context.Context, docs []domain.Normalized) error
	UpsertMaterialized(ctx context.Context, docs []domain.Materialized) error
	Normalized(ctx context.Context, entityType domain.EntityType, ids []string) ([]domain.Normalized, error)
	NormalizedByField(ctx context.Context, entityType domain.EntityType, field string, values []string) ([]domain.Normalized, error)
}

// Request selects the entities to project. An empty EntityIDs selects every
// entity of the type. WithMergeStage defaults to true; false computes the
// documents without writing them.
type Request struct {
	EntityType     domain.EntityType `json:"entityType" validate:"required,entity_type"`
	EntityIDs      []string          `json:"entityIds,omitempty"`
	WithMergeStage *bool             `json:"withMergeStage,omitempty"`
}

// Merge reports whether the computed documents are persisted.
func (r Request) Merge() bool {
	return r.WithMergeStage == nil || *r.WithMergeStage
}

// Normalizer folds event streams into normalized documents.
type Normalizer struct {
	events EventSource
	store  DocStore
	log    *zap.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(events EventSource, store DocStore) *Normalizer {
	return &Normalizer{events: events, store: store, log: logger.Named("normalizer")}
}

// Locker is implemented by a DocStore that can serialize writers. Locked
// runs fn while holding key; the DocStore passed to fn is only valid inside
// fn and its writes become visible when the lock is released.
type Locker interface {
	Locked(ctx context.Context, key string, fn func(DocStore) error) error
}

func lockKey(stage string, t domain.EntityType) string {
	return "orgdir.projection:" + stage + ":" + string(t)
}

// withLock runs fn under key when store is a Locker and directly otherwise.
func withLock(ctx context.Context, store DocStore, key string, fn func(DocStore) error) error {
	if l, ok := store.(Locker); ok {
		return l.Locked(ctx, key, fn)
	}
	return fn(store)
}

// Build folds the requested entities and, unless the request is a dry run,
// replaces their normalized documents. A merging build reads the events
// under the entity type's lock, so a build that started earlier cannot
// overwrite the documents of one that read newer events.
func (n *Normalizer) Build(ctx context.Context, req Request) ([]domain.Normalized, error) {
	var (
		docs   []domain.Normalized
		nEvent int
	)
	fold := func(store DocStore) error {
		events, err := n.events.Events(ctx, req.EntityType, req.EntityIDs)
		if err != nil {
			return err
		}
		nEvent = len(events)
		docs = FoldAll(req.EntityType, events)
		if store == nil {
			return nil
		}
		return store.UpsertNormalized(ctx, docs)
	}

	var err error
	if req.Merge() {
		err = withLock(ctx, n.store, lockKey("normalize", req.EntityType), fold)
	} else {
		err = fold(nil)
	}
	if err != nil {
		return nil, err
	}
	n.log.Debug("normalized",
		zap.String("entity_type", string(req.EntityType)),
		zap.Int("events", nEvent),
		zap.Int("documents", len(docs)),
		zap.Bool("merge", req.Merge()),
	)
	return docs, nil
}

// Materializer joins normalized documents into materialized documents.
type Materializer struct {
	store DocStore
	log   *zap.Logger
}

// NewMaterializer creates a Materializer.
func NewMaterializer(store DocStore) *Materializer {
	return &Materializer{store: store, log: logger.Named("materializer")}
}

// Build materializes the requested entities from their persisted normalized
// documents and, unless the request is a dry run, replaces their
// materialized documents. Merging builds of one entity type run one at a
// time.
func (m *Materializer) Build(ctx context.Context, req Request) ([]domain.Materialized, error) {
	var docs []domain.Materialized
	build := func(store DocStore) error {
		var err error
		if docs, err = m.compute(ctx, store, req.EntityType, req.EntityIDs); err != nil {
			return err
		}
		if !req.Merge() {
			return nil
		}
		return store.UpsertMaterialized(ctx, docs)
	}

	var err error
	if req.Merge() {
		err = withLock(ctx, m.store, lockKey("materialize", req.EntityType), build)
	} else {
		err = build(m.store)
	}
	if err != nil {
		return nil, err
	}
	m.log.Debug("materialized",
		zap.String("entity_type", string(req.EntityType)),
		zap.Int("documents", len(docs)),
		zap.Bool("merge", req.Merge()),
	)
	return docs, nil
}

func (m *Materializer) compute(ctx context.Context, store DocStore, t domain.EntityType, ids []string) ([]domain.Materialized, error) {
	roots, err := store.Normalized(ctx, t, ids)
	if err != nil {
		return nil, err
	}
	g := newGraph()
	g.add(roots...)
	if err := load(ctx, store, g, t, roots); err != nil {
		return nil, err
	}

	docs := make([]domain.Materialized, 0, len(roots))
	for _, r := range roots {
		docs = append(docs, materialize(r, g))
	}
	return docs, nil
}

// load adds the documents the materialization of roots joins.
func load(ctx context.Context, store DocStore, g *graph, t domain.EntityType, roots []domain.Normalized) error {
	l := loader{ctx: ctx, store: store, g: g}
	ids := docIDs(roots)

	switch t {
	case domain.EntityApplication:
		ws := l.byField(domain.EntityWorkspace, "app", ids)
		l.byID(domain.EntityOrganization, fieldValues(ws, "org"))
	case domain.EntityOrganization:
		managers := l.byField(domain.EntityManager, "org", ids)
		l.byID(domain.EntityUser, fieldValues(managers, "user"))
	case domain.EntityUser:
		managers := l.byField(domain.EntityManager, "user", ids)
		l.byID(domain.EntityOrganization, fieldValues(managers, "org"))
	case domain.EntityWorkspace:
		l.byID(domain.EntityApplication, fieldValues(roots, "app"))
		l.byID(domain.EntityOrganization, fieldValues(roots, "org"))
		members := l.byField(domain.EntityMember, "workspace", ids)
		l.byID(domain.EntityUser, fieldValues(members, "user"))
	case domain.EntityManager:
		l.byID(domain.EntityOrganization, fieldValues(roots, "org"))
		l.byID(domain.EntityUser, fieldValues(roots, "user"))
	case domain.EntityMember:
		ws := l.byID(domain.EntityWorkspace, fieldValues(roots, "workspace"))
		l.byID(domain.EntityApplication, fieldValues(ws, "app"))
		l.byID(domain.EntityOrganization, fieldValues(ws, "org"))
		l.byID(domain.EntityUser, fieldValues(roots, "user"))
	default:
		return fmt.Errorf("unknown entity type %q", t)
	}
	return l.err
}

// loader fetches documents into a graph and keeps the first error; later
// calls are no-ops once it is set.
type loader struct {
	ctx   context.Context
	store DocStore
	g     *graph
	err   error
}

func (l *loader) byID(t domain.EntityType, ids []string) []domain.Normalized {
	if l.err != nil || len(ids) == 0 {
		return nil
	}
	docs, err := l.store.Normalized(l.ctx, t, ids)
	if err != nil {
		l.err = err
		return nil
	}
	l.g.add(docs...)
	return docs
}

func (l *loader) byField(t domain.EntityType, field string, values []string) []domain.Normalized {
	if l.err != nil || len(values) == 0 {
		return nil
	}
	docs, err := l.store.NormalizedByField(l.ctx, t, field, values)
	if err != nil {
		l.err = err
		return nil
	}
	l.g.add(docs...)
	return docs
}

func docIDs(docs []domain.Normalized) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}

// fieldValues returns the distinct non-empty values of field, sorted.
func fieldValues(docs []domain.Normalized, field string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range docs {
		v := d.Values.String(field)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
