package main

import (
	"context"
	"fmt"

	"retailcrm/internal/infrastructure"
	"retailcrm/internal/repository"
	"retailcrm/internal/usecases"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return infrastructure.Migrate(cfg.Postgres.DSN, logger)
		},
	}
}

// withAuth opens the database for one-shot administrative commands.
func withAuth(ctx context.Context, fn func(auth *usecases.AuthUsecase, pg *infrastructure.PostgresClient) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	pg, err := infrastructure.NewPostgresClient(ctx, infrastructure.PostgresOptions{
		DSN:      cfg.Postgres.DSN,
		MaxConns: 2,
	})
	if err != nil {
		return err
	}
	defer pg.Close()

	auth := usecases.NewAuthUsecase(
		repository.NewUserRepository(pg.Pool),
		repository.NewOrganizationRepository(pg.Pool),
		cfg.Auth.JWTSecret,
		cfg.Auth.TokenTTL.Duration,
	)
	return fn(auth, pg)
}

func newOrgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd.Context(), func(auth *usecases.AuthUsecase, _ *infrastructure.PostgresClient) error {
				created, err := auth.CreateOrganization(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), created.ID)
				return nil
			})
		},
	})
	return org
}

func newUserCmd() *cobra.Command {
	var orgID, role string
	create := &cobra.Command{
		Use:   "create <username> <password>",
		Short: "Create an operator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd.Context(), func(auth *usecases.AuthUsecase, _ *infrastructure.PostgresClient) error {
				user, err := auth.Register(cmd.Context(), orgID, args[0], args[1], role)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), user.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&orgID, "org", "", "organization id")
	create.Flags().StringVar(&role, "role", "agent", "agent or admin")
	_ = create.MarkFlagRequired("org")

	user := &cobra.Command{Use: "user", Short: "Manage operators"}
	user.AddCommand(create)
	return user
}

func newConnectionCmd() *cobra.Command {
	var orgID, name string
	var aiEnabled bool
	create := &cobra.Command{
		Use:   "create <session-id>",
		Short: "Register a gateway session for an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd.Context(), func(_ *usecases.AuthUsecase, pg *infrastructure.PostgresClient) error {
				inbox := usecases.NewInbox(
					repository.NewChatRepository(pg.Pool),
					repository.NewConnectionRepository(pg.Pool),
					nil, nil,
				)
				conn, err := inbox.CreateConnection(cmd.Context(), orgID, args[0], name, aiEnabled)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), conn.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&orgID, "org", "", "organization id")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().BoolVar(&aiEnabled, "ai", true, "enable automated replies")
	_ = create.MarkFlagRequired("org")

	conn := &cobra.Command{Use: "connection", Short: "Manage gateway connections"}
	conn.AddCommand(create)
	return conn
}
