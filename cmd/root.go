package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bastionlabs/bastion/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "bastion",
	Short: "Multi-tenant identity and access management service",
	Long: `Bastion provides multi-tenant identity and access management: accounts,
users, groups, roles, policy-based authorization, and temporary credentials
for assumed roles.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: DATABASE_URL)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: DEBUG)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
