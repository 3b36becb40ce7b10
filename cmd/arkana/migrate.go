package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/avilainc/arkana/profilestore/postgres"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the profile store schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServiceConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return oops.Code("CONFIG_DATABASE").Errorf("database-url is required")
			}

			ctx := cmd.Context()
			_, pool, err := postgres.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := waitFor(ctx, cfg.StartupTimeout, pool.Ping); err != nil {
				return oops.Code("POSTGRES_UNAVAILABLE").Wrap(err)
			}
			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
			v, err := postgres.Version(ctx, pool)
			if err != nil {
				return err
			}
			cmd.Printf("schema at version %d\n", v)
			return nil
		},
	}
	cmd.Flags().String("database-url", "", "PostgreSQL connection string")
	cmd.Flags().Duration("startup-timeout", defaultServiceConfig().StartupTimeout, "how long to wait for PostgreSQL")
	return cmd
}
