package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Strob0t/AutoAgent/internal/adapter/postgres"
	"github.com/Strob0t/AutoAgent/internal/domain/user"
	"github.com/Strob0t/AutoAgent/internal/secrets"
	"github.com/Strob0t/AutoAgent/internal/service"
)

func newAdminCmd(f *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage user accounts",
	}

	var email, password string
	create := &cobra.Command{
		Use:   "create-user",
		Short: "Create a new user",
		Example: `  autoagent admin create-user --email new@example.com
  autoagent admin create-user --email new@example.com --password NewPass123`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			pass := password
			if pass == "" {
				var err error
				if pass, err = promptNewPassword(); err != nil {
					return err
				}
			}

			authSvc, cleanup, err := loadAdminDeps(cmd, f)
			if err != nil {
				return err
			}
			defer cleanup()

			u, err := authSvc.CreateUser(cmd.Context(), &user.CreateRequest{Email: email, Password: pass})
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(os.Stderr, "User created: %s (id=%s)\n", u.Email, u.ID)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "user email address (required)")
	create.Flags().StringVar(&password, "password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag

	list := &cobra.Command{
		Use:   "list-users",
		Short: "List all users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			authSvc, cleanup, err := loadAdminDeps(cmd, f)
			if err != nil {
				return err
			}
			defer cleanup()

			users, err := authSvc.ListUsers(cmd.Context())
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			if len(users) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No users found.")
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tEMAIL\tCREATED")
			for i := range users {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", users[i].ID, users[i].Email, users[i].CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func loadAdminDeps(cmd *cobra.Command, f *cliFlags) (*service.AuthService, func(), error) {
	cfg, closer, err := loadConfig(cmd, f)
	if err != nil {
		return nil, nil, err
	}

	pool, err := postgres.NewPool(cmd.Context(), cfg.Postgres)
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	vault, err := secrets.NewVault(secretLoader(cfg))
	if err != nil {
		pool.Close()
		closer.Close()
		return nil, nil, fmt.Errorf("secrets: %w", err)
	}

	cleanup := func() {
		pool.Close()
		closer.Close()
	}
	return service.NewAuthService(postgres.NewStore(pool), cfg.Auth, vault), cleanup, nil
}

func promptNewPassword() (string, error) {
	pass, err := promptPassword("Password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if pass != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return pass, nil
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
