// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package main

import (
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/linkgate/linkgate/internal/config"
	"github.com/linkgate/linkgate/internal/linkcode"
	lcpostgres "github.com/linkgate/linkgate/internal/linkcode/postgres"
	"github.com/linkgate/linkgate/internal/store"
)

// NewCodeCmd creates the code subcommand tree.
func NewCodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Manage link codes",
	}

	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue <identity>",
		Short: "Issue a one-time link code for an identity",
		Long: `Generate and store a one-time link code for the given identity. The
code is printed once for out-of-band delivery and cannot be recovered.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodeIssue(cmd, args[0], ttl)
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", linkcode.DefaultCodeExpiry, "how long the code stays redeemable")
	cmd.AddCommand(issue)

	return cmd
}

func runCodeIssue(cmd *cobra.Command, identity string, ttl time.Duration) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database URL is required (config file or DATABASE_URL)")
	}

	ctx := cmd.Context()
	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	codes := lcpostgres.NewCodeRepository(pool)
	accounts := lcpostgres.NewAccountRepository(pool)

	codeStore, err := linkcode.NewStoreWithLogger(codes, accounts, slog.Default())
	if err != nil {
		return err
	}
	if err := codeStore.SetCodeDigits(cfg.Auth.CodeDigits); err != nil {
		return err
	}

	lc, err := codeStore.Issue(ctx, identity, ttl)
	if err != nil {
		return err
	}

	cmd.Printf("Code for %s: %s (expires %s)\n",
		identity, lc.Code, lc.ExpiresAt.Format(time.RFC3339))
	return nil
}
