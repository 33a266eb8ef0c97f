package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"orgdir.io/orgdir/internal/domain"
)

// NewStatesCommand creates the states command.
func NewStatesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "states <entity-type> [entity-id...]",
		Short: "Show the lifecycle state of entities, or of every entity of a type",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[0])
			if err != nil {
				return err
			}
			ids := args[1:]
			return opts.withEnv(cmd.Context(), func(env *Env) error {
				if len(ids) == 0 {
					all, err := env.States.EntityIDs(cmd.Context(), t)
					if err != nil {
						return WrapExitError(ExitFailure, "states", err)
					}
					ids = all
				}
				states, err := env.States.EntityStates(cmd.Context(), t, ids)
				if err != nil {
					return WrapExitError(ExitFailure, "states", err)
				}
				return emit(cmd.OutOrStdout(), opts.Format, states, stateLines(ids, states)...)
			})
		},
	}
}

func stateLines(ids []string, states map[string]domain.EntityState) []string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	lines := make([]string, 0, len(sorted))
	for _, id := range sorted {
		st, ok := states[id]
		if !ok {
			st = "-"
		}
		lines = append(lines, fmt.Sprintf("%s\t%s", id, st))
	}
	return lines
}
