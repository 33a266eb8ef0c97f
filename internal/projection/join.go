package projection

import (
	"sort"
	"time"

	"orgdir.io/orgdir/internal/domain"
)

// graph indexes the normalized documents one materialization joins.
type graph struct {
	docs map[domain.EntityType]map[string]domain.Normalized
}

func newGraph() *graph {
	return &graph{docs: make(map[domain.EntityType]map[string]domain.Normalized)}
}

func (g *graph) add(docs ...domain.Normalized) {
	for _, d := range docs {
		m, ok := g.docs[d.EntityType]
		if !ok {
			m = make(map[string]domain.Normalized)
			g.docs[d.EntityType] = m
		}
		m[d.ID] = d
	}
}

func (g *graph) get(t domain.EntityType, id string) (domain.Normalized, bool) {
	d, ok := g.docs[t][id]
	return d, ok
}

// children returns the documents of type t whose field equals parentID, in
// creation order.
func (g *graph) children(t domain.EntityType, field, parentID string) []domain.Normalized {
	var out []domain.Normalized
	for _, d := range g.docs[t] {
		if d.Values.String(field) == parentID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := createdAt(out[i]), createdAt(out[j])
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// gone reports whether the referenced document is deleted or missing.
func (g *graph) gone(t domain.EntityType, id string) bool {
	d, ok := g.get(t, id)
	return !ok || d.Deleted
}

// workspaceGone also treats a workspace as gone when its application or
// organization is.
func (g *graph) workspaceGone(id string) bool {
	ws, ok := g.get(domain.EntityWorkspace, id)
	if !ok || ws.Deleted {
		return true
	}
	return g.gone(domain.EntityApplication, ws.Values.String("app")) ||
		g.gone(domain.EntityOrganization, ws.Values.String("org"))
}

// materialize joins doc with the related documents in g. A parent that is
// deleted, or missing, marks the result deleted.
func materialize(doc domain.Normalized, g *graph) domain.Materialized {
	fields := doc.Values.Clone()
	if fields == nil {
		fields = domain.Values{}
	}
	fields["_meta"] = doc.Meta
	deleted := doc.Deleted

	switch doc.EntityType {
	case domain.EntityApplication:
		var edges []any
		for _, ws := range g.children(domain.EntityWorkspace, "app", doc.ID) {
			if g.workspaceGone(ws.ID) {
				continue
			}
			edges = append(edges, domain.Values{"node": partial(ws, "key", "name", "org")})
		}
		fields["workspaceConnection"] = connection(edges)

	case domain.EntityOrganization:
		var edges []any
		for _, m := range g.children(domain.EntityManager, "org", doc.ID) {
			userID := m.Values.String("user")
			if m.Deleted || g.gone(domain.EntityUser, userID) {
				continue
			}
			user, _ := g.get(domain.EntityUser, userID)
			edges = append(edges, domain.Values{
				"role": m.Values.String("role"),
				"node": partial(user, "name", "email"),
			})
		}
		fields["managerConnection"] = connection(edges)

	case domain.EntityUser:
		orgs := []any{}
		for _, m := range g.children(domain.EntityManager, "user", doc.ID) {
			orgID := m.Values.String("org")
			if m.Deleted || g.gone(domain.EntityOrganization, orgID) {
				continue
			}
			org, _ := g.get(domain.EntityOrganization, orgID)
			orgs = append(orgs, domain.Values{
				"role": m.Values.String("role"),
				"node": partial(org, "name", "key"),
			})
		}
		fields["organizations"] = orgs

	case domain.EntityWorkspace:
		appID, orgID := doc.Values.String("app"), doc.Values.String("org")
		deleted = deleted || g.gone(domain.EntityApplication, appID) || g.gone(domain.EntityOrganization, orgID)
		if app, ok := g.get(domain.EntityApplication, appID); ok {
			fields["application"] = partial(app, "name", "key")
		}
		if org, ok := g.get(domain.EntityOrganization, orgID); ok {
			fields["organization"] = partial(org, "name", "key")
		}
		var edges []any
		for _, m := range g.children(domain.EntityMember, "workspace", doc.ID) {
			userID := m.Values.String("user")
			if m.Deleted || g.gone(domain.EntityUser, userID) {
				continue
			}
			user, _ := g.get(domain.EntityUser, userID)
			edges = append(edges, domain.Values{
				"role": m.Values.String("role"),
				"node": partial(user, "name", "email"),
			})
		}
		fields["memberConnection"] = connection(edges)

	case domain.EntityManager:
		orgID, userID := doc.Values.String("org"), doc.Values.String("user")
		deleted = deleted || g.gone(domain.EntityOrganization, orgID) || g.gone(domain.EntityUser, userID)
		if org, ok := g.get(domain.EntityOrganization, orgID); ok {
			fields["organization"] = partial(org, "name", "key")
		}
		if user, ok := g.get(domain.EntityUser, userID); ok {
			fields["node"] = partial(user, "name", "email")
		}

	case domain.EntityMember:
		wsID, userID := doc.Values.String("workspace"), doc.Values.String("user")
		deleted = deleted || g.workspaceGone(wsID) || g.gone(domain.EntityUser, userID)
		if ws, ok := g.get(domain.EntityWorkspace, wsID); ok {
			fields["workspaceNode"] = partial(ws, "key", "name", "app", "org")
		}
		if user, ok := g.get(domain.EntityUser, userID); ok {
			fields["node"] = partial(user, "name", "email")
		}
	}

	return domain.Materialized{
		ID:         doc.ID,
		EntityType: doc.EntityType,
		Deleted:    deleted,
		Fields:     fields,
	}
}

// partial copies the id and the named fields of d.
func partial(d domain.Normalized, keys ...string) domain.Values {
	out := domain.Values{"_id": d.ID}
	for _, k := range keys {
		if v, ok := d.Values[k]; ok {
			out[k] = v
		}
	}
	return out
}

func connection(edges []any) domain.Values {
	if edges == nil {
		edges = []any{}
	}
	return domain.Values{"edges": edges, "totalCount": len(edges)}
}

func createdAt(d domain.Normalized) time.Time {
	if d.Meta.Created == nil {
		return time.Time{}
	}
	return d.Meta.Created.Date
}
