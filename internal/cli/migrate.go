package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"visitorpass/internal/platform/config"
	"visitorpass/internal/platform/db"
	"visitorpass/internal/visitor/store"
)

// NewMigrateCommand applies the visitor schema for SQL backends.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the visitor schema to the configured SQL store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			switch cfg.Store.Backend {
			case config.StoreSQLite:
				conn, err := db.OpenSQLite(ctx, cfg.Store.SQLitePath)
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := db.Migrate(ctx, conn, store.SQLiteMigrations(), db.SQLite); err != nil {
					return err
				}
			case config.StorePostgres:
				conn, err := db.OpenPostgres(ctx, cfg.Store.PostgresDSN)
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := db.Migrate(ctx, conn, store.PostgresMigrations(), db.Postgres); err != nil {
					return err
				}
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "store backend %q has no schema, nothing to do\n", cfg.Store.Backend)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Store.Backend)
			return nil
		},
	}
}
