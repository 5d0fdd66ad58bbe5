package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	cachepkg "github.com/codedrill-ai/codedrill/pkg/cache/sqlite"
	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/logging"
	"github.com/codedrill-ai/codedrill/pkg/settings"
)

// openCache builds the cache with the shared runtime settings, the same way
// the server does.
func openCache(cfg *config.Config) (*cachepkg.Cache, error) {
	st := settings.New(settings.Connect(cfg.Redis), cfg.Provider.DefaultModel, logging.Nop())
	return cachepkg.New(cfg.DBPath, cfg.Cache.TTL, st, logging.Nop())
}

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the prompt cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Entries:        %d\n", stats.TotalEntries)
			fmt.Printf("Total accesses: %d\n", stats.TotalAccesses)
			fmt.Printf("Avg accesses:   %.2f\n", stats.AvgAccessesPerItem)
			fmt.Printf("TTL hours:      %.1f\n", stats.TTLHours)
			for op, n := range stats.OperationBreakdown {
				fmt.Printf("  %-24s %d\n", op, n)
			}
			return nil
		},
	}

	var limit int
	entriesCmd := &cobra.Command{
		Use:   "entries",
		Short: "List cache entries, most recently accessed first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			entries, err := c.Entries(context.Background(), limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("[%d] %s model=%s accesses=%d\n    %s\n", e.ID, e.OperationType, e.Model, e.AccessCount, e.PromptPreview)
			}
			return nil
		},
	}
	entriesCmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")

	var clearAll bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove expired cache entries (or all with --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			var removed int64
			if clearAll {
				removed, err = c.ClearAll(context.Background())
			} else {
				removed, err = c.ClearExpired(context.Background())
			}
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d entries.\n", removed)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&clearAll, "all", false, "remove every entry, not just expired ones")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "codedrill.yaml", "path to config file")
	cmd.AddCommand(statsCmd, entriesCmd, clearCmd)
	return cmd
}
