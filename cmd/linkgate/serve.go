// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/linkgate/linkgate/internal/config"
	"github.com/linkgate/linkgate/internal/gate"
	"github.com/linkgate/linkgate/internal/linkcode"
	lcpostgres "github.com/linkgate/linkgate/internal/linkcode/postgres"
	"github.com/linkgate/linkgate/internal/logging"
	"github.com/linkgate/linkgate/internal/observability"
	"github.com/linkgate/linkgate/internal/server"
	"github.com/linkgate/linkgate/internal/store"
	"github.com/linkgate/linkgate/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the connection gate",
		Long: `Start the TCP connection host that challenges every new connection
for a one-time link code before letting it proceed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	// Flag names mirror config keys so posflag can overlay them.
	cmd.Flags().String("server.listen", ":4000", "player-facing TCP listen address")
	cmd.Flags().String("metrics.listen", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("database.url", "", "PostgreSQL URL (or DATABASE_URL env)")
	cmd.Flags().Int("auth.code_digits", 6, "link code width in digits")
	cmd.Flags().Duration("auth.challenge_timeout", 60*time.Second, "how long a connection may sit on the challenge")
	cmd.Flags().Int("auth.max_attempts", 3, "failed submissions before the connection is rejected")
	cmd.Flags().Duration("auth.sweep_interval", time.Minute, "how often expired codes are purged")
	cmd.Flags().String("log.level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().String("log.format", "json", "log format (json or text)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("linkgate", version, cfg.Log.Level, cfg.Log.Format)
	logger := slog.Default()

	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database URL is required (flag, config file, or DATABASE_URL)")
	}

	slog.Info("starting linkgate",
		"listen", cfg.Server.Listen,
		"code_digits", cfg.Auth.CodeDigits,
		"challenge_timeout", cfg.Auth.ChallengeTimeout.String(),
		"max_attempts", cfg.Auth.MaxAttempts,
	)

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	slog.Info("connected to database")

	codes := lcpostgres.NewCodeRepository(pool)
	accounts := lcpostgres.NewAccountRepository(pool)
	links := lcpostgres.NewLinkRepository(pool)

	codeStore, err := linkcode.NewStoreWithLogger(codes, accounts, logger)
	if err != nil {
		return err
	}
	if err := codeStore.SetCodeDigits(cfg.Auth.CodeDigits); err != nil {
		return err
	}

	svc, err := linkcode.NewServiceWithLogger(codeStore, links, logger)
	if err != nil {
		return err
	}

	registry, err := gate.NewRegistryWithLogger(logger)
	if err != nil {
		return err
	}

	host, err := server.NewServerWithLogger(cfg.Server.Listen, svc, logger)
	if err != nil {
		return err
	}

	g, err := gate.NewGateWithLogger(registry, svc, host, host, logger)
	if err != nil {
		return err
	}
	if err := g.SetChallengeTimeout(cfg.Auth.ChallengeTimeout); err != nil {
		return err
	}
	if err := g.SetMaxAttempts(cfg.Auth.MaxAttempts); err != nil {
		return err
	}
	host.SetGate(g)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer *observability.Server
	if cfg.Metrics.Listen != "" {
		obsServer = observability.NewServer(cfg.Metrics.Listen, func() bool {
			return pool.Ping(ctx) == nil
		})
		g.SetMetrics(gate.NewMetrics(obsServer.Registry()))
		host.SetMetrics(obsServer.Metrics())

		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	go sweepExpiredCodes(ctx, codes, cfg.Auth.SweepInterval, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		if runErr := host.Run(ctx); runErr != nil {
			errChan <- runErr
		}
	}()

	cmd.Println("LinkGate started")

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		return oops.Code("SERVER_FAILED").Wrap(err)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// sweepExpiredCodes periodically purges expired link codes so the table
// doesn't accumulate rows nobody can redeem.
func sweepExpiredCodes(ctx context.Context, codes linkcode.CodeRepository, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := codes.DeleteExpired(ctx)
			if err != nil {
				errutil.LogWarn(logger, "expired code sweep failed", err)
				continue
			}
			if removed > 0 {
				logger.Info("purged expired link codes", "removed", removed)
			}
		}
	}
}

// monitorServerErrors cancels the context when a server reports a fatal
// error, so one failing component shuts the whole process down cleanly.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return // channel closed, server stopped gracefully
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
