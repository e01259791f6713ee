package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/enzosv/mediumcrawler/pkg/config"
	"github.com/enzosv/mediumcrawler/pkg/logger"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mediumcrawler",
		Short: "Incremental stream crawler and popular-posts API",
		Long: `mediumcrawler walks the paginated streams of collections, authors and tags,
stores every post and newly discovered subject, and serves the posts that
are popular by total or daily claps.

Without --config the built-in development defaults are used. MC_* environment
variables override both.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "path to YAML config file")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewLoadTestCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config and installs the configured logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
