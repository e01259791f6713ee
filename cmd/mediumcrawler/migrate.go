package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and register the seed collections",
		Long: `Migrate creates the posts and pages tables with their indexes if they do not
exist, then registers crawler.seedCollections as never-crawled subjects.
Running it again is harmless.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.prepare(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready on %s, %d seed collections registered\n", a.db.Driver(), n)
			return nil
		},
	}
}
