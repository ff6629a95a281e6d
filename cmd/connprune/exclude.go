package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/connprune/internal/domain"
)

var excludeCmd = &cobra.Command{
	Use:   "exclude",
	Short: "Manage contacts that are never removed",
	Long: `Excluded contact ids are skipped by every session. They are stored in the
state directory and merged with any --exclude flags given to "run".

Ids are shown by "connprune load".`,
}

var excludeAddCmd = &cobra.Command{
	Use:   "add <id>...",
	Short: "Exclude contacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editExclusions(func(ctx context.Context, a *app) (domain.ExclusionSet, error) {
			return a.prefs.AddExclusions(ctx, args...)
		})
	},
}

var excludeRemoveCmd = &cobra.Command{
	Use:     "remove <id>...",
	Aliases: []string{"rm"},
	Short:   "Stop excluding contacts",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editExclusions(func(ctx context.Context, a *app) (domain.ExclusionSet, error) {
			return a.prefs.RemoveExclusions(ctx, args...)
		})
	},
}

var excludeListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List excluded contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return editExclusions(func(ctx context.Context, a *app) (domain.ExclusionSet, error) {
			return a.prefs.Exclusions(ctx), nil
		})
	},
}

func init() {
	excludeCmd.AddCommand(excludeAddCmd)
	excludeCmd.AddCommand(excludeRemoveCmd)
	excludeCmd.AddCommand(excludeListCmd)
}

// editExclusions applies fn to the stored set and prints the result.
func editExclusions(fn func(ctx context.Context, a *app) (domain.ExclusionSet, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	set, err := fn(ctx, a)
	if err != nil {
		return err
	}

	// Names come from the last load when available.
	names := map[string]string{}
	if last, err := a.prefs.LastLoaded(ctx); err == nil {
		for _, c := range last {
			names[c.ID] = c.DisplayName
		}
	}

	ids := set.IDs()
	fmt.Printf("%d excluded\n", len(ids))
	for _, id := range ids {
		fmt.Printf("  %-40s %s\n", id, names[id])
	}
	return nil
}
