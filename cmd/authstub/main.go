package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/edusession/internal/config"
	"github.com/iudanet/edusession/internal/server"
	"github.com/iudanet/edusession/internal/server/handlers"
	"github.com/iudanet/edusession/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           "authstub",
		Short:         "Development auth gateway for edusession clients",
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildDate, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file with EDUSESSION_AUTHSTUB_* settings")
	return cmd
}

func run(ctx context.Context, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.LoadGateway(ctx, nil)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	clock := clockwork.NewRealClock()

	db, err := sqlite.New(ctx, cfg.DBPath, sqlite.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	seeds := make([]server.SeedUser, 0, len(cfg.SeedUsers))
	for _, raw := range cfg.SeedUsers {
		seed, err := server.ParseSeedUser(raw)
		if err != nil {
			return err
		}
		seeds = append(seeds, seed)
	}
	if err := server.Seed(ctx, db, bcrypt.DefaultCost, clock.Now(), seeds...); err != nil {
		return err
	}
	if len(seeds) > 0 {
		logger.Info("seed users ensured", slog.Int("count", len(seeds)))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(logger, db, server.Config{
		JWT: handlers.JWTConfig{
			Issuer:          handlers.DefaultIssuer,
			Secret:          []byte(cfg.JWTSecret),
			AccessTokenTTL:  cfg.AccessTTL,
			RefreshTokenTTL: cfg.RefreshTTL,
		},
		Version:     Version,
		LoginRate:   cfg.LoginRate,
		LoginWindow: cfg.LoginWindow,
		Rotate:      cfg.Rotate,
	}, server.WithClock(clock), server.WithRegistry(reg))
	defer srv.Close()

	go srv.RunJanitor(ctx, cfg.JanitorInterval)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting authstub",
			slog.String("addr", cfg.Addr),
			slog.String("version", Version),
			slog.Bool("rotate", cfg.Rotate),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown server", slog.Any("error", err))
	}
	logger.Info("authstub stopped")
	return nil
}
