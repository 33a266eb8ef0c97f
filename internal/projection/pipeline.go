package projection

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/pkg/logger"
)

// Pipeline normalizes entities, materializes them and re-materializes every
// document whose join reads them, so cascades follow the latest state.
type Pipeline struct {
	normalizer   *Normalizer
	materializer *Materializer
	store        DocStore
	log          *zap.Logger
}

// NewPipeline creates a Pipeline over events and store.
func NewPipeline(events EventSource, store DocStore) *Pipeline {
	return &Pipeline{
		normalizer:   NewNormalizer(events, store),
		materializer: NewMaterializer(store),
		store:        store,
		log:          logger.Named("projection"),
	}
}

// Normalizer returns the pipeline's normalizer.
func (p *Pipeline) Normalizer() *Normalizer { return p.normalizer }

// Materializer returns the pipeline's materializer.
func (p *Pipeline) Materializer() *Materializer { return p.materializer }

// Refresh brings the read models of the given entities and their dependents
// up to date. An empty id list refreshes every entity of the type.
func (p *Pipeline) Refresh(ctx context.Context, entityType domain.EntityType, entityIDs []string) error {
	start := time.Now()
	docs, err := p.normalizer.Build(ctx, Request{EntityType: entityType, EntityIDs: entityIDs})
	if err != nil {
		return fmt.Errorf("normalize %s: %w", entityType, err)
	}
	if len(docs) == 0 {
		return nil
	}
	if _, err := p.materializer.Build(ctx, Request{EntityType: entityType, EntityIDs: docIDs(docs)}); err != nil {
		return fmt.Errorf("materialize %s: %w", entityType, err)
	}

	deps, err := p.dependents(ctx, entityType, docs)
	if err != nil {
		return fmt.Errorf("resolve dependents of %s: %w", entityType, err)
	}
	total := len(docs)
	for _, t := range domain.EntityTypes() {
		ids := deps[t]
		if len(ids) == 0 {
			continue
		}
		if _, err := p.materializer.Build(ctx, Request{EntityType: t, EntityIDs: ids}); err != nil {
			return fmt.Errorf("materialize dependent %s: %w", t, err)
		}
		total += len(ids)
	}

	p.log.Info("projection refreshed",
		zap.String("entity_type", string(entityType)),
		zap.Int("entities", len(docs)),
		zap.Int("materialized", total),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// dependents lists, per entity type, the documents whose materialization
// reads one of docs.
func (p *Pipeline) dependents(ctx context.Context, t domain.EntityType, docs []domain.Normalized) (map[domain.EntityType][]string, error) {
	l := loader{ctx: ctx, store: p.store, g: newGraph()}
	ids := docIDs(docs)
	out := make(map[domain.EntityType][]string)

	switch t {
	case domain.EntityApplication:
		ws := l.byField(domain.EntityWorkspace, "app", ids)
		out[domain.EntityWorkspace] = docIDs(ws)
		out[domain.EntityMember] = docIDs(l.byField(domain.EntityMember, "workspace", docIDs(ws)))
	case domain.EntityOrganization:
		managers := l.byField(domain.EntityManager, "org", ids)
		ws := l.byField(domain.EntityWorkspace, "org", ids)
		out[domain.EntityManager] = docIDs(managers)
		out[domain.EntityUser] = fieldValues(managers, "user")
		out[domain.EntityWorkspace] = docIDs(ws)
		out[domain.EntityApplication] = fieldValues(ws, "app")
		out[domain.EntityMember] = docIDs(l.byField(domain.EntityMember, "workspace", docIDs(ws)))
	case domain.EntityUser:
		managers := l.byField(domain.EntityManager, "user", ids)
		members := l.byField(domain.EntityMember, "user", ids)
		out[domain.EntityManager] = docIDs(managers)
		out[domain.EntityOrganization] = fieldValues(managers, "org")
		out[domain.EntityMember] = docIDs(members)
		out[domain.EntityWorkspace] = fieldValues(members, "workspace")
	case domain.EntityWorkspace:
		out[domain.EntityApplication] = fieldValues(docs, "app")
		out[domain.EntityMember] = docIDs(l.byField(domain.EntityMember, "workspace", ids))
	case domain.EntityManager:
		out[domain.EntityOrganization] = fieldValues(docs, "org")
		out[domain.EntityUser] = fieldValues(docs, "user")
	case domain.EntityMember:
		out[domain.EntityWorkspace] = fieldValues(docs, "workspace")
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
	if l.err != nil {
		return nil, l.err
	}
	return out, nil
}
