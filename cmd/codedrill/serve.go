package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cachepkg "github.com/codedrill-ai/codedrill/pkg/cache/sqlite"
	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/embed"
	"github.com/codedrill-ai/codedrill/pkg/executor"
	"github.com/codedrill-ai/codedrill/pkg/llm"
	"github.com/codedrill-ai/codedrill/pkg/logging"
	"github.com/codedrill-ai/codedrill/pkg/metrics"
	"github.com/codedrill-ai/codedrill/pkg/rag"
	"github.com/codedrill-ai/codedrill/pkg/server"
	"github.com/codedrill-ai/codedrill/pkg/settings"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the codedrill API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log, err := logging.New(cfg.LogMode)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			defer func() { _ = log.Sync() }()

			st := settings.New(settings.Connect(cfg.Redis), cfg.Provider.DefaultModel, log)

			cache, err := cachepkg.New(cfg.DBPath, cfg.Cache.TTL, st, log)
			if err != nil {
				return fmt.Errorf("init cache: %w", err)
			}
			defer func() { _ = cache.Close() }()

			store, err := rag.NewStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init document store: %w", err)
			}
			defer func() { _ = store.Close() }()
			docs := rag.NewService(store, embed.NewClient(cfg.Provider), st, cfg.Retrieval, log)

			calls, err := metrics.New(cfg.DBPath, cfg.Calls)
			if err != nil {
				return fmt.Errorf("init call log: %w", err)
			}
			defer func() { _ = calls.Close() }()

			exec := executor.New(cache, docs, llm.NewClient(cfg.Provider), calls, st, cfg.Retrieval, log)
			srv := server.New(cfg, exec, cache, docs, calls, st, log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "codedrill.yaml", "path to config file")
	return cmd
}
