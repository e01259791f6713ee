package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl invocation and exit",
		Long: `Crawl takes the stalest subjects from the queue and walks each stream to its
end, pass after pass, until the run budget or pass limit is reached. It is
meant to be triggered by an external scheduler such as cron.

Examples:
  # One run with the configured budget
  mediumcrawler crawl -c configs/development.yaml

  # A single pass regardless of budget
  mediumcrawler crawl --budget 0 --passes 1`,
		RunE: runCrawlCmd,
	}
	cmd.Flags().Duration("budget", 0, "override crawler.runBudget")
	cmd.Flags().Int("passes", 0, "override crawler.maxPasses")
	return cmd
}

func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("budget") {
		budget, _ := cmd.Flags().GetDuration("budget")
		cfg.Crawler.RunBudget = budget
	}
	if cmd.Flags().Changed("passes") {
		passes, _ := cmd.Flags().GetInt("passes")
		cfg.Crawler.MaxPasses = passes
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.prepare(ctx); err != nil {
		return err
	}

	start := time.Now()
	report, err := a.orchestrator(a.eventSink(ctx)).Run(ctx)
	fmt.Fprintln(cmd.OutOrStdout(), formatReport(report))
	if err != nil {
		return fmt.Errorf("crawl run finished with errors after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	return nil
}
