package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/config"
	"github.com/memohai/relay/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Bridge a Telegram bot to a coding-agent backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the TOML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot, the event bridge and the HTTP server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(configPath)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "relay", version.GetInfo())
			},
		},
		newAllowCommand(&configPath),
		newTokenCommand(&configPath),
	)
	return root
}

func newAllowCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "allow <user_id>",
		Short: "Add a Telegram user id to the allow-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			userID := strings.TrimSpace(args[0])
			store := auth.NewStore(cfg.Auth.AllowlistFile, cfg.Auth.AllowlistKey)
			if err := store.Add(userID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s in %s\n", userID, store.Key(), store.Path())
			return nil
		},
	}
}

func newTokenCommand(configPath *string) *cobra.Command {
	var (
		subject   string
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the sync HTTP surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if strings.TrimSpace(cfg.Sync.Secret) == "" {
				return fmt.Errorf("sync.secret is not configured")
			}
			token, err := auth.GenerateToken(subject, auth.ScopeSync, cfg.Sync.Secret, expiresIn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "sync-plugin", "token subject")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "token lifetime, 0 for no expiry")
	return cmd
}
