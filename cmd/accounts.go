package cmd

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/spf13/cobra"

	"github.com/bastionlabs/bastion/cmd/cmdutil"
	"github.com/bastionlabs/bastion/internal/services/iam"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Tenant account management commands",
}

var (
	accountsCreateName     string
	accountsCreateEmail    string
	accountsCreateUsername string
	accountsCreatePassword string
)

var accountsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a tenant account with its root user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := mail.ParseAddress(accountsCreateEmail); err != nil {
			return fmt.Errorf("invalid --email: %w", err)
		}

		bundle, err := cmdutil.NewBundle(cfg)
		if err != nil {
			return err
		}
		defer bundle.Close()

		account, rootUser, err := bundle.IAM.CreateAccount(context.Background(), iam.CreateAccountParams{
			Name:         accountsCreateName,
			Email:        accountsCreateEmail,
			RootUsername: accountsCreateUsername,
			RootPassword: accountsCreatePassword,
		})
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}

		fmt.Println("✓ Account created")
		fmt.Printf("  Account ID: %s\n", account.ID)
		fmt.Printf("  Root user:  %s (%s)\n", rootUser.Username, rootUser.ID)
		return nil
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenant accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.NewBundle(cfg)
		if err != nil {
			return err
		}
		defer bundle.Close()

		accounts, err := bundle.IAM.ListAccounts(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}

		if len(accounts) == 0 {
			fmt.Println("No accounts found.")
			return nil
		}
		fmt.Printf("%-38s %-24s %-30s %s\n", "ID", "NAME", "EMAIL", "STATUS")
		for _, a := range accounts {
			fmt.Printf("%-38s %-24s %-30s %s\n", a.ID, a.Name, a.Email, a.Status)
		}
		return nil
	},
}

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete <account-id>",
	Short: "Delete an empty tenant account",
	Long: `Delete a tenant account. The account must be empty: no users beyond the
root user, no groups, no policies, and no roles.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.NewBundle(cfg)
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.IAM.DeleteAccount(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		fmt.Println("✓ Account deleted")
		return nil
	},
}

func init() {
	accountsCreateCmd.Flags().StringVar(&accountsCreateName, "name", "", "Account display name")
	accountsCreateCmd.Flags().StringVar(&accountsCreateEmail, "email", "", "Account contact email (unique)")
	accountsCreateCmd.Flags().StringVar(&accountsCreateUsername, "username", "root", "Root user name")
	accountsCreateCmd.Flags().StringVar(&accountsCreatePassword, "password", "", "Root user password")
	_ = accountsCreateCmd.MarkFlagRequired("name")
	_ = accountsCreateCmd.MarkFlagRequired("email")
	_ = accountsCreateCmd.MarkFlagRequired("password")

	accountsCmd.AddCommand(accountsCreateCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsDeleteCmd)
	rootCmd.AddCommand(accountsCmd)
}
