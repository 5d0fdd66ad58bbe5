package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/codedrill-ai/codedrill/pkg/config"
	"github.com/codedrill-ai/codedrill/pkg/logging"
	"github.com/codedrill-ai/codedrill/pkg/models"
	"github.com/codedrill-ai/codedrill/pkg/settings"
)

func newSettingsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change shared runtime settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st := settings.New(settings.Connect(cfg.Redis), cfg.Provider.DefaultModel, logging.Nop())
			snap := st.Snapshot(context.Background())
			fmt.Printf("cache_enabled:                 %v\n", snap.CacheEnabled)
			fmt.Printf("model_aware_cache:             %v\n", snap.ModelAwareCache)
			fmt.Printf("semantic_cache_enabled:        %v\n", snap.SemanticCache)
			fmt.Printf("semantic_similarity_threshold: %v\n", snap.SimilarityThreshold)
			fmt.Printf("current_model:                 %s\n", snap.CurrentModel)
			fmt.Printf("rag_enabled:                   %v\n", snap.RetrievalEnabled)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Change one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st := settings.New(settings.Connect(cfg.Redis), cfg.Provider.DefaultModel, logging.Nop())

			patch, err := patchFor(args[0], args[1])
			if err != nil {
				return err
			}
			if _, err := st.Apply(context.Background(), patch); err != nil {
				return err
			}
			fmt.Printf("Set %s = %s.\n", args[0], args[1])
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "codedrill.yaml", "path to config file")
	cmd.AddCommand(showCmd, setCmd)
	return cmd
}

func patchFor(key, value string) (models.SettingsPatch, error) {
	var patch models.SettingsPatch
	switch key {
	case "cache_enabled", "model_aware_cache", "semantic_cache_enabled", "rag_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return patch, fmt.Errorf("%s expects a boolean, got %q", key, value)
		}
		switch key {
		case "cache_enabled":
			patch.CacheEnabled = &b
		case "model_aware_cache":
			patch.ModelAwareCache = &b
		case "semantic_cache_enabled":
			patch.SemanticCache = &b
		case "rag_enabled":
			patch.RetrievalEnabled = &b
		}
	case "semantic_similarity_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return patch, fmt.Errorf("%s expects a number, got %q", key, value)
		}
		patch.SimilarityThreshold = &f
	case "current_model":
		patch.CurrentModel = &value
	default:
		return patch, fmt.Errorf("unknown setting %q", key)
	}
	return patch, nil
}
