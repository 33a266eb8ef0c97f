package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"orgdir.io/orgdir/internal/domain"
)

// NewHolderCommand creates the holder command.
func NewHolderCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "holder <entity-type> <value>",
		Short: "Show which entity holds a natural key",
		Long: `Show which entity holds a natural key value.

Applications and organizations are keyed by slug, users by email and
workspaces by app:org:key.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[0])
			if err != nil {
				return err
			}
			key, value, err := naturalKey(t, args[1])
			if err != nil {
				return err
			}
			return opts.withEnv(cmd.Context(), func(env *Env) error {
				r, ok, err := env.Keys.Reservation(cmd.Context(), t, key, value)
				if err != nil {
					return WrapExitError(ExitFailure, "holder", err)
				}
				if !ok {
					return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("no %s holds %s %q", t, key, value)}
				}
				return emit(cmd.OutOrStdout(), opts.Format, r, r.EntityID)
			})
		},
	}
}

func naturalKey(t domain.EntityType, value string) (string, string, error) {
	switch t {
	case domain.EntityApplication, domain.EntityOrganization:
		return domain.KeySlug, value, nil
	case domain.EntityUser:
		return domain.KeyEmail, strings.ToLower(strings.TrimSpace(value)), nil
	case domain.EntityWorkspace:
		return domain.KeyAppOrgKey, value, nil
	default:
		return "", "", &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("%s has no natural key", t)}
	}
}
