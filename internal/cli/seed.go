package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"orgdir.io/orgdir/internal/command"
	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/pkg/validate"
	"orgdir.io/orgdir/internal/projection"
)

// Fixtures is the seed file layout. Every entity carries an explicit id so
// seeding is idempotent and fixtures can reference each other.
type Fixtures struct {
	Applications  []KeyedFixture     `yaml:"applications" json:"applications" validate:"dive"`
	Organizations []KeyedFixture     `yaml:"organizations" json:"organizations" validate:"dive"`
	Users         []UserFixture      `yaml:"users" json:"users" validate:"dive"`
	Workspaces    []WorkspaceFixture `yaml:"workspaces" json:"workspaces" validate:"dive"`
	Managers      []ManagerFixture   `yaml:"managers" json:"managers" validate:"dive"`
	Members       []MemberFixture    `yaml:"members" json:"members" validate:"dive"`
}

// KeyedFixture seeds an application or an organization.
type KeyedFixture struct {
	ID   string `yaml:"id" json:"id" validate:"required"`
	Name string `yaml:"name" json:"name" validate:"required"`
	Key  string `yaml:"key" json:"key"`
}

// UserFixture seeds a user.
type UserFixture struct {
	ID    string `yaml:"id" json:"id" validate:"required"`
	Name  string `yaml:"name" json:"name" validate:"required"`
	Email string `yaml:"email" json:"email" validate:"required"`
}

// WorkspaceFixture seeds a workspace.
type WorkspaceFixture struct {
	ID   string `yaml:"id" json:"id" validate:"required"`
	App  string `yaml:"app" json:"app" validate:"required"`
	Org  string `yaml:"org" json:"org" validate:"required"`
	Name string `yaml:"name" json:"name" validate:"required"`
	Key  string `yaml:"key" json:"key"`
}

// ManagerFixture seeds an organization manager.
type ManagerFixture struct {
	Org  string `yaml:"org" json:"org" validate:"required"`
	User string `yaml:"user" json:"user" validate:"required"`
	Role string `yaml:"role" json:"role" validate:"required"`
}

// MemberFixture seeds a workspace member.
type MemberFixture struct {
	Workspace string `yaml:"workspace" json:"workspace" validate:"required"`
	User      string `yaml:"user" json:"user" validate:"required"`
	Role      string `yaml:"role" json:"role" validate:"required"`
}

// LoadFixtures decodes and validates a seed file. Unknown fields are rejected.
func LoadFixtures(r io.Reader) (Fixtures, error) {
	var f Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return Fixtures{}, fmt.Errorf("decode fixtures: %w", err)
	}
	if err := validate.Struct("fixtures", f); err != nil {
		return Fixtures{}, err
	}
	return f, nil
}

// SeedResult counts the entities created per type.
type SeedResult map[domain.EntityType][]string

// Apply creates the fixtures that do not exist yet, parents first. Managers
// and members use createOrRestore, so a deleted link comes back.
func (f Fixtures) Apply(ctx context.Context, reg *command.Registry, states StateReader, userID string) (SeedResult, error) {
	res := SeedResult{}
	missing := func(t domain.EntityType, ids []string) (map[string]bool, error) {
		st, err := states.EntityStates(ctx, t, ids)
		if err != nil {
			return nil, err
		}
		out := make(map[string]bool, len(ids))
		for _, id := range ids {
			if _, ok := st[id]; !ok {
				out[id] = true
			}
		}
		return out, nil
	}
	record := func(events []domain.Event) {
		for _, e := range events {
			res[e.EntityType] = append(res[e.EntityType], e.EntityID)
		}
	}

	keyed := []struct {
		handler *command.KeyedHandler
		items   []KeyedFixture
	}{
		{reg.Applications, f.Applications},
		{reg.Organizations, f.Organizations},
	}
	for _, k := range keyed {
		ids := make([]string, 0, len(k.items))
		for _, it := range k.items {
			ids = append(ids, it.ID)
		}
		todo, err := missing(k.handler.EntityType(), ids)
		if err != nil {
			return res, err
		}
		var items []command.Item[command.KeyedValues]
		for _, it := range k.items {
			if todo[it.ID] {
				items = append(items, command.Item[command.KeyedValues]{
					EntityID: it.ID, UserID: userID,
					Values: command.KeyedValues{Name: it.Name, Key: it.Key},
				})
			}
		}
		if len(items) > 0 {
			events, err := k.handler.Create(ctx, items...)
			if err != nil {
				return res, err
			}
			record(events)
		}
	}

	userIDs := make([]string, 0, len(f.Users))
	for _, u := range f.Users {
		userIDs = append(userIDs, u.ID)
	}
	todo, err := missing(domain.EntityUser, userIDs)
	if err != nil {
		return res, err
	}
	var users []command.Item[command.UserValues]
	for _, u := range f.Users {
		if todo[u.ID] {
			users = append(users, command.Item[command.UserValues]{
				EntityID: u.ID, UserID: userID,
				Values: command.UserValues{Name: u.Name, Email: u.Email},
			})
		}
	}
	if len(users) > 0 {
		events, err := reg.Users.Create(ctx, users...)
		if err != nil {
			return res, err
		}
		record(events)
	}

	wsIDs := make([]string, 0, len(f.Workspaces))
	for _, w := range f.Workspaces {
		wsIDs = append(wsIDs, w.ID)
	}
	todo, err = missing(domain.EntityWorkspace, wsIDs)
	if err != nil {
		return res, err
	}
	var workspaces []command.Item[command.WorkspaceValues]
	for _, w := range f.Workspaces {
		if todo[w.ID] {
			workspaces = append(workspaces, command.Item[command.WorkspaceValues]{
				EntityID: w.ID, UserID: userID,
				Values: command.WorkspaceValues{App: w.App, Org: w.Org, Name: w.Name, Key: w.Key},
			})
		}
	}
	if len(workspaces) > 0 {
		events, err := reg.Workspaces.Create(ctx, workspaces...)
		if err != nil {
			return res, err
		}
		record(events)
	}

	mgrIDs := make([]string, 0, len(f.Managers))
	for _, m := range f.Managers {
		mgrIDs = append(mgrIDs, domain.ManagerID(m.Org, m.User))
	}
	live, err := created(ctx, states, domain.EntityManager, mgrIDs)
	if err != nil {
		return res, err
	}
	var managers []command.Item[command.ManagerValues]
	for _, m := range f.Managers {
		if !live[domain.ManagerID(m.Org, m.User)] {
			managers = append(managers, command.Item[command.ManagerValues]{
				UserID: userID,
				Values: command.ManagerValues{Org: m.Org, User: m.User, Role: m.Role},
			})
		}
	}
	if len(managers) > 0 {
		events, err := reg.Managers.CreateOrRestore(ctx, managers...)
		if err != nil {
			return res, err
		}
		record(events)
	}

	memberIDs := make([]string, 0, len(f.Members))
	for _, m := range f.Members {
		memberIDs = append(memberIDs, domain.MemberID(m.Workspace, m.User))
	}
	live, err = created(ctx, states, domain.EntityMember, memberIDs)
	if err != nil {
		return res, err
	}
	var members []command.Item[command.MemberValues]
	for _, m := range f.Members {
		if !live[domain.MemberID(m.Workspace, m.User)] {
			members = append(members, command.Item[command.MemberValues]{
				UserID: userID,
				Values: command.MemberValues{Workspace: m.Workspace, User: m.User, Role: m.Role},
			})
		}
	}
	if len(members) > 0 {
		events, err := reg.Members.CreateOrRestore(ctx, members...)
		if err != nil {
			return res, err
		}
		record(events)
	}
	return res, nil
}

func created(ctx context.Context, states StateReader, t domain.EntityType, ids []string) (map[string]bool, error) {
	st, err := states.EntityStates(ctx, t, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(st))
	for id, s := range st {
		out[id] = s == domain.StateCreated
	}
	return out, nil
}

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	File    string
	UserID  string
	Refresh bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create directory entities from a YAML fixture file",
		Long: `Create directory entities from a YAML fixture file through the command
handlers. Entities that already exist are skipped.

Example:
  orgdirctl seed --file fixtures.yaml --refresh`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(opts.File)
			if err != nil {
				return WrapExitError(ExitCommandError, "open fixtures", err)
			}
			defer fh.Close()
			fixtures, err := LoadFixtures(fh)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid fixtures", err)
			}
			return opts.withEnv(cmd.Context(), func(env *Env) error {
				res, err := fixtures.Apply(cmd.Context(), env.Commands, env.States, opts.UserID)
				if err != nil {
					return WrapExitError(ExitFailure, "seed", err)
				}
				if opts.Refresh {
					if err := refreshSeeded(cmd.Context(), env.Pipeline, res); err != nil {
						return WrapExitError(ExitFailure, "refresh seeded entities", err)
					}
				}
				lines := []string{}
				for _, t := range domain.EntityTypes() {
					if n := len(res[t]); n > 0 {
						lines = append(lines, fmt.Sprintf("%s\t%d", t, n))
					}
				}
				if len(lines) == 0 {
					lines = append(lines, "nothing to seed")
				}
				return emit(cmd.OutOrStdout(), opts.Format, res, lines...)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "fixture file (YAML)")
	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "actor recorded on the seeded events")
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "refresh the read models of seeded entities")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func refreshSeeded(ctx context.Context, p *projection.Pipeline, res SeedResult) error {
	for _, t := range domain.EntityTypes() {
		if ids := res[t]; len(ids) > 0 {
			if err := p.Refresh(ctx, t, ids); err != nil {
				return err
			}
		}
	}
	return nil
}
