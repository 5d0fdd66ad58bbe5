package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/metrics"
	"github.com/codedrill-ai/codedrill/pkg/models"
)

func newCallsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect the LLM call log",
	}

	var (
		operation  string
		model      string
		errorsOnly bool
		limit      int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent LLM calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			l, err := metrics.New(cfg.DBPath, config.CallLogConfig{MaxBodySize: cfg.Calls.MaxBodySize})
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			records, err := l.Query(context.Background(), models.CallQueryOpts{
				OperationType: operation,
				Model:         model,
				ErrorsOnly:    errorsOnly,
				Limit:         limit,
			})
			if err != nil {
				return err
			}
			for _, r := range records {
				status := "ok"
				if r.Error != "" {
					status = "error: " + r.Error
				}
				fmt.Printf("%s %-24s %-16s %4dms %d/%d tokens %s\n",
					r.CreatedAt.Format(time.RFC3339), r.OperationType, r.Model,
					r.LatencyMs, r.TokensSent, r.TokensReceived, status)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&operation, "operation", "", "filter by operation type")
	listCmd.Flags().StringVar(&model, "model", "", "filter by model")
	listCmd.Flags().BoolVar(&errorsOnly, "errors", false, "show failed calls only")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum calls to show")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-operation daily call statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			l, err := metrics.New(cfg.DBPath, config.CallLogConfig{MaxBodySize: cfg.Calls.MaxBodySize})
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %-24s %6s %6s %10s %10s\n", "DAY", "OPERATION", "CALLS", "ERRORS", "AVG MS", "TOKENS")
			for _, s := range stats {
				fmt.Printf("%-12s %-24s %6d %6d %10.1f %10d\n", s.Day, s.OperationType, s.Count, s.Errors, s.AvgLatencyMs, s.TotalTokens)
			}
			return nil
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete call records past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			l, err := metrics.New(cfg.DBPath, cfg.Calls)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			removed, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d call records.\n", removed)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "codedrill.yaml", "path to config file")
	cmd.AddCommand(listCmd, statsCmd, cleanupCmd)
	return cmd
}
