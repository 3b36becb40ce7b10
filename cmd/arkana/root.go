package main

import (
	"github.com/spf13/cobra"
)

var configFile string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arkana",
		Short: "Arkana - credential lifecycle service",
		Long: `Arkana issues and rotates signed access and refresh tokens, detects
refresh token reuse, and runs registration, email verification and
password reset flows on top of Redis and PostgreSQL.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewKeygenCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("arkana %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
