package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/projection"
)

// ProjectOptions holds flags for normalize and materialize.
type ProjectOptions struct {
	*RootOptions
	DryRun bool
}

// NewNormalizeCommand creates the normalize command.
func NewNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProjectOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "normalize <entity-type> [entity-id...]",
		Short: "Fold event streams into normalized documents",
		Long: `Fold event streams into normalized documents. Without ids every entity
of the type is rebuilt.

Example:
  orgdirctl normalize user
  orgdirctl normalize organization 0190... --dry-run --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(args)
			if err != nil {
				return err
			}
			return opts.withEnv(cmd.Context(), func(env *Env) error {
				docs, err := env.Pipeline.Normalizer().Build(cmd.Context(), req)
				if err != nil {
					return WrapExitError(ExitFailure, "normalize", err)
				}
				return emit(cmd.OutOrStdout(), opts.Format, docs, summary("normalized", req, len(docs)))
			})
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute the documents without writing them")
	return cmd
}

// NewMaterializeCommand creates the materialize command.
func NewMaterializeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProjectOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "materialize <entity-type> [entity-id...]",
		Short: "Join normalized documents into materialized documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(args)
			if err != nil {
				return err
			}
			return opts.withEnv(cmd.Context(), func(env *Env) error {
				docs, err := env.Pipeline.Materializer().Build(cmd.Context(), req)
				if err != nil {
					return WrapExitError(ExitFailure, "materialize", err)
				}
				return emit(cmd.OutOrStdout(), opts.Format, docs, summary("materialized", req, len(docs)))
			})
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute the documents without writing them")
	return cmd
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <entity-type> [entity-id...]",
		Short: "Normalize and materialize entities and re-materialize their dependents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[0])
			if err != nil {
				return err
			}
			return opts.withEnv(cmd.Context(), func(env *Env) error {
				if err := env.Pipeline.Refresh(cmd.Context(), t, args[1:]); err != nil {
					return WrapExitError(ExitFailure, "refresh", err)
				}
				return emit(cmd.OutOrStdout(), opts.Format,
					map[string]interface{}{"entityType": t, "entityIds": args[1:]},
					fmt.Sprintf("refreshed %s", t))
			})
		},
	}
}

func (o *ProjectOptions) request(args []string) (projection.Request, error) {
	t, err := parseType(args[0])
	if err != nil {
		return projection.Request{}, err
	}
	merge := !o.DryRun
	return projection.Request{EntityType: t, EntityIDs: args[1:], WithMergeStage: &merge}, nil
}

func parseType(s string) (domain.EntityType, error) {
	t, err := domain.ParseEntityType(s)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid entity type", err)
	}
	return t, nil
}

func summary(verb string, req projection.Request, n int) string {
	line := fmt.Sprintf("%s %d %s document(s)", verb, n, req.EntityType)
	if !req.Merge() {
		line += " (dry run, nothing written)"
	}
	return line
}
