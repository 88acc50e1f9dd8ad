package cmd

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/spf13/cobra"

	"github.com/bastionlabs/bastion/cmd/cmdutil"
	"github.com/bastionlabs/bastion/internal/services/iam"
)

var (
	bootstrapName     string
	bootstrapEmail    string
	bootstrapUsername string
	bootstrapPassword string
)

// bootstrapCmd provisions the first tenant account with its root user.
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Provision the first tenant account",
	Long: `Create a tenant account together with its root user and root role
assignment.

The root user bypasses policy evaluation for all operations within the
account. Further users, groups, roles, and policies are created through the
IAM API using the root credentials.

Example:
  bastion bootstrap \
    --name "Acme Corp" \
    --email admin@acme.example \
    --password 'change-me-soon'
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if _, err := mail.ParseAddress(bootstrapEmail); err != nil {
			return fmt.Errorf("invalid --email: %w", err)
		}

		bundle, err := cmdutil.NewBundle(cfg)
		if err != nil {
			return err
		}
		defer bundle.Close()

		account, rootUser, err := bundle.IAM.CreateAccount(ctx, iam.CreateAccountParams{
			Name:         bootstrapName,
			Email:        bootstrapEmail,
			RootUsername: bootstrapUsername,
			RootPassword: bootstrapPassword,
		})
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}

		fmt.Println("✓ Account created")
		fmt.Printf("  Account ID: %s\n", account.ID)
		fmt.Printf("  Name:       %s\n", account.Name)
		fmt.Printf("  Root user:  %s (%s)\n", rootUser.Username, rootUser.ID)
		fmt.Println("\nLog in with the root credentials to manage the account.")
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapName, "name", "", "Account display name")
	bootstrapCmd.Flags().StringVar(&bootstrapEmail, "email", "", "Account contact email (unique)")
	bootstrapCmd.Flags().StringVar(&bootstrapUsername, "username", "root", "Root user name")
	bootstrapCmd.Flags().StringVar(&bootstrapPassword, "password", "", "Root user password")
	_ = bootstrapCmd.MarkFlagRequired("name")
	_ = bootstrapCmd.MarkFlagRequired("email")
	_ = bootstrapCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(bootstrapCmd)
}
