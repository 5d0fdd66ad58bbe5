package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/embed"
	"github.com/codedrill-ai/codedrill/pkg/logging"
	"github.com/codedrill-ai/codedrill/pkg/rag"
	"github.com/codedrill-ai/codedrill/pkg/settings"
)

func openDocs(cfg *config.Config) (*rag.Service, *rag.Store, error) {
	store, err := rag.NewStore(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	st := settings.New(settings.Connect(cfg.Redis), cfg.Provider.DefaultModel, logging.Nop())
	return rag.NewService(store, embed.NewClient(cfg.Provider), st, cfg.Retrieval, logging.Nop()), store, nil
}

func newDocsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage the retrieval document store",
	}

	addCmd := &cobra.Command{
		Use:   "add [file]",
		Short: "Ingest a document from a file (or stdin with -)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			var content []byte
			if args[0] == "-" {
				content, err = os.ReadFile("/dev/stdin")
			} else {
				content, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			svc, store, err := openDocs(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id, err := svc.AddDocument(context.Background(), string(content))
			if err != nil {
				return err
			}
			fmt.Printf("Stored document %d.\n", id)
			return nil
		},
	}

	var limit int
	var showAll bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			svc, store, err := openDocs(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			docs, err := svc.Documents(context.Background(), limit, showAll)
			if err != nil {
				return err
			}
			for _, d := range docs {
				kind := "standalone"
				if d.IsParent() {
					kind = fmt.Sprintf("parent (%d chunks)", d.ChunkCount)
				} else if d.ParentID != 0 {
					kind = fmt.Sprintf("chunk %d/%d of %d", d.ChunkIndex+1, d.ChunkCount, d.ParentID)
				}
				preview := d.Content
				if len(preview) > 80 {
					preview = preview[:80] + "..."
				}
				fmt.Printf("[%d] %s\n    %s\n", d.ID, kind, preview)
			}
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "maximum documents to show")
	listCmd.Flags().BoolVar(&showAll, "all", false, "include chunk records")

	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			svc, store, err := openDocs(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			deleted, err := svc.DeleteDocument(context.Background(), id)
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Printf("Document %d not found.\n", id)
				return nil
			}
			fmt.Printf("Deleted document %d.\n", id)
			return nil
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Retrieve documents similar to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			svc, store, err := openDocs(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			docs, err := svc.Retrieve(context.Background(), args[0], cfg.Retrieval.TopK, cfg.Retrieval.MinSimilarity)
			if err != nil {
				return err
			}
			for _, d := range docs {
				preview := d.Content
				if len(preview) > 80 {
					preview = preview[:80] + "..."
				}
				fmt.Printf("[%d] %.3f %s\n", d.ID, d.Similarity, preview)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "codedrill.yaml", "path to config file")
	cmd.AddCommand(addCmd, listCmd, deleteCmd, searchCmd)
	return cmd
}
