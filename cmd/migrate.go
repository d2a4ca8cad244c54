package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// migrateCmd implements spec §8's "Migration determinism" property as an
// operator-facing command: store.Open already brings a fresh or legacy
// database up to the current schema, so this is a thin wrapper that opens
// (migrating as a side effect) and reports the outcome, grounded on the
// teacher's cmd/migrate.go "migrate version" subcommand shape adapted from
// Postgres/golang-migrate to the single embedded sqlite file spec.md's
// Store describes.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the data directory's sqlite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := store.Open(context.Background(), cfg.DataDirPath())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			fmt.Printf("store at %s is up to date\n", cfg.DataDirPath())
			return nil
		},
	}
}
