package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/auth"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/chat"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/config"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/db"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/logger"
)

var createDBCmd = &cobra.Command{
	Use:   "create-db",
	Short: "Create the chat database if it does not exist",
	RunE:  runCreateDB,
}

var dropDBCmd = &cobra.Command{
	Use:   "drop-db",
	Short: "Drop the chat database",
	RunE:  runDropDB,
}

var createTableCmd = &cobra.Command{
	Use:   "create-table",
	Short: "Create the chat and cleanup job tables",
	RunE:  runCreateTable,
}

var dropTableCmd = &cobra.Command{
	Use:   "drop-table",
	Short: "Drop the chat and cleanup job tables",
	RunE:  runDropTable,
}

var tokenCmd = &cobra.Command{
	Use:   "token [user]",
	Short: "Print a bearer token for user signed with JWT_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	dropDBCmd.Flags().Bool("yes", false, "Confirm the drop")
	dropTableCmd.Flags().Bool("yes", false, "Confirm the drop")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	name, _ := cmd.Flags().GetString("database")
	if name == "" {
		name = cfg.MySQLDatabase
	}
	return cfg, name, nil
}

func confirmed(cmd *cobra.Command) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return errors.New("refusing to drop without --yes")
	}
	return nil
}

func runCreateDB(cmd *cobra.Command, args []string) error {
	cfg, name, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := db.CreateDatabase(cmd.Context(), cfg, name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "database %s ready\n", name)
	return nil
}

func runDropDB(cmd *cobra.Command, args []string) error {
	if err := confirmed(cmd); err != nil {
		return err
	}
	cfg, name, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := db.DropDatabase(cmd.Context(), cfg, name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "database %s dropped\n", name)
	return nil
}

func runCreateTable(cmd *cobra.Command, args []string) error {
	return withRepo(cmd, func(ctx context.Context, repo *chat.Repo) error {
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "tables ready")
		return nil
	})
}

func runDropTable(cmd *cobra.Command, args []string) error {
	if err := confirmed(cmd); err != nil {
		return err
	}
	return withRepo(cmd, func(ctx context.Context, repo *chat.Repo) error {
		if err := repo.DropSchema(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "tables dropped")
		return nil
	})
}

func withRepo(cmd *cobra.Command, fn func(ctx context.Context, repo *chat.Repo) error) error {
	cfg, name, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	gdb, err := db.Connect(cfg, name, logger.New(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, chat.NewRepo(gdb))
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")
	tok, err := auth.SignJWT(args[0], cfg.JWTSecret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
