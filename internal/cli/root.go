// Package cli implements orgdirctl, the operator CLI of the directory.
//
// Import Path: orgdir.io/orgdir/internal/cli
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"

	// Open builds the environment a command runs against.
	Open Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. A nil open connects to the
// configured database.
func NewRootCommand(open Opener) *cobra.Command {
	if open == nil {
		open = OpenDatabase
	}
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:   "orgdirctl",
		Short: "orgdirctl - operate the organization directory",
		Long:  "Operator tooling for the event-sourced organization directory: migrations, projections, state lookups and seeding.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewNormalizeCommand(opts))
	cmd.AddCommand(NewMaterializeCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewStatesCommand(opts))
	cmd.AddCommand(NewHolderCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

// withEnv opens the environment, runs fn and closes it.
func (o *RootOptions) withEnv(ctx context.Context, fn func(env *Env) error) error {
	env, err := o.Open(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(env)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
