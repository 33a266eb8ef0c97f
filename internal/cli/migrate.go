package cli

import (
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store tables and run the River migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd.Context(), func(env *Env) error {
				if err := env.Migrate(cmd.Context()); err != nil {
					return WrapExitError(ExitFailure, "migrate", err)
				}
				return emit(cmd.OutOrStdout(), opts.Format, map[string]bool{"migrated": true}, "migrated")
			})
		},
	}
}
