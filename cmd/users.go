package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bastionlabs/bastion/cmd/cmdutil"
	"github.com/bastionlabs/bastion/internal/services/iam"
)

var (
	userAccountID string
	userUsername  string
	userPassword  string
	userStdin     bool
	userRoles     []string
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "User management commands",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user in an account",
	Long: `Create a user within a tenant account, optionally assigning roles.

The password may be passed with --password or piped on stdin with
--password-stdin.

Example:
  bastion users create \
    --account 0198c6a4-... \
    --username alice \
    --password-stdin < password.txt
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if userStdin {
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password from stdin: %w", err)
			}
			userPassword = strings.TrimRight(line, "\r\n")
		}
		if userPassword == "" {
			return fmt.Errorf("--password or --password-stdin is required")
		}

		bundle, err := cmdutil.NewBundle(cfg)
		if err != nil {
			return err
		}
		defer bundle.Close()

		user, err := bundle.IAM.CreateUser(ctx, iam.CreateUserParams{
			AccountID: userAccountID,
			Username:  userUsername,
			Password:  userPassword,
		})
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		for _, roleName := range userRoles {
			if err := bundle.IAM.AssignRole(ctx, userAccountID, user.ID, roleName, user.ID); err != nil {
				return fmt.Errorf("failed to assign role %q: %w", roleName, err)
			}
		}

		fmt.Println("✓ User created")
		fmt.Printf("  User ID:  %s\n", user.ID)
		fmt.Printf("  Username: %s\n", user.Username)
		if len(userRoles) > 0 {
			fmt.Printf("  Roles:    %s\n", strings.Join(userRoles, ", "))
		}
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users in an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.NewBundle(cfg)
		if err != nil {
			return err
		}
		defer bundle.Close()

		users, err := bundle.IAM.ListUsers(context.Background(), userAccountID)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		fmt.Printf("%-38s %-24s %-8s %s\n", "ID", "USERNAME", "ROOT", "STATUS")
		for _, u := range users {
			fmt.Printf("%-38s %-24s %-8t %s\n", u.ID, u.Username, u.IsRoot, u.Status)
		}
		return nil
	},
}

func init() {
	usersCreateCmd.Flags().StringVar(&userAccountID, "account", "", "Account ID")
	usersCreateCmd.Flags().StringVar(&userUsername, "username", "", "Username (unique within the account)")
	usersCreateCmd.Flags().StringVar(&userPassword, "password", "", "Password")
	usersCreateCmd.Flags().BoolVar(&userStdin, "password-stdin", false, "Read the password from stdin")
	usersCreateCmd.Flags().StringSliceVar(&userRoles, "role", nil, "Role names to assign (repeatable)")
	_ = usersCreateCmd.MarkFlagRequired("account")
	_ = usersCreateCmd.MarkFlagRequired("username")

	usersListCmd.Flags().StringVar(&userAccountID, "account", "", "Account ID")
	_ = usersListCmd.MarkFlagRequired("account")

	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersListCmd)
	rootCmd.AddCommand(usersCmd)
}
