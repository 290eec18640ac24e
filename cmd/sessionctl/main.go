package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	clientapi "github.com/iudanet/edusession/internal/client/api"
	"github.com/iudanet/edusession/internal/client/auth"
	"github.com/iudanet/edusession/internal/client/cli"
	"github.com/iudanet/edusession/internal/client/iocli"
	"github.com/iudanet/edusession/internal/client/refresh"
	"github.com/iudanet/edusession/internal/client/session"
	"github.com/iudanet/edusession/internal/client/storage"
	"github.com/iudanet/edusession/internal/client/storage/boltdb"
	"github.com/iudanet/edusession/internal/client/storage/memory"
	"github.com/iudanet/edusession/internal/client/storage/sqlite"
	"github.com/iudanet/edusession/internal/client/tabsync"
	"github.com/iudanet/edusession/internal/config"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd, cleanup := newRootCommand()
	err := cmd.Execute()
	cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app зависимости, общие для всех команд
type app struct {
	cli     *cli.Cli
	manager *session.Manager
	metrics *prometheus.Registry
	closers []io.Closer
	logger  *slog.Logger
}

func (a *app) Close() {
	if a.manager != nil {
		if err := a.manager.Close(); err != nil {
			a.logger.Error("failed to close session manager", slog.Any("error", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("failed to close resource", slog.Any("error", err))
		}
	}
}

// newRootCommand возвращает корневую команду и функцию освобождения ресурсов.
// PostRun cobra не вызывает при ошибке команды, поэтому закрытие снаружи.
func newRootCommand() (*cobra.Command, func()) {
	var envFile string
	var a *app

	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Manage an authenticated session against the auth gateway",
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildDate, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsSession(cmd) {
				return nil
			}
			var err error
			a, err = newApp(cmd.Context(), envFile)
			return err
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file with EDUSESSION_* settings")

	current := func() *app { return a }
	cmd.AddCommand(
		newLoginCommand(current),
		&cobra.Command{
			Use:   "logout",
			Short: "Revoke the refresh token and delete the local session",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.cli.Logout(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current session",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.cli.Status(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "token",
			Short: "Print a valid access token, refreshing it if needed",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.cli.Token(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "whoami",
			Short: "Fetch the profile of the current user from the gateway",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.cli.WhoAmI(cmd.Context())
			},
		},
		newWatchCommand(current),
	)

	cleanup := func() {
		if a != nil {
			a.Close()
		}
	}
	return cmd, cleanup
}

// needsSession false для служебных команд cobra (help, completion)
func needsSession(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "help" || c.Name() == "completion" {
			return false
		}
	}
	return true
}

func newLoginCommand(current func() *app) *cobra.Command {
	var (
		email     string
		passwords cli.Passwords
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return current().cli.Login(cmd.Context(), email, passwords)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email (prompted when empty)")
	cmd.Flags().StringVar(&passwords.FromFile, "password-file", "", "Path to file containing the password")
	cmd.Flags().StringVar(&passwords.FromArgs, "password", "", "Password (not recommended, use "+cli.PasswordEnv+" or --password-file)")
	return cmd
}

func newWatchCommand(current func() *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session fresh and print every change until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				srv, err := serveMetrics(ctx, metricsAddr, a.metrics)
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.logger.Info("serving metrics", slog.String("addr", metricsAddr))
			}

			return a.cli.Watch(ctx)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose refresh metrics on this address (e.g. 127.0.0.1:9100)")
	return cmd
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	return srv, nil
}

func newApp(ctx context.Context, envFile string) (*app, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadClient(ctx, nil)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.NewLogger(os.Stderr)
	a := &app{logger: logger, metrics: prometheus.NewRegistry()}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	contextID := uuid.NewString()

	raw, watcher, err := openStorage(ctx, cfg, contextID)
	if err != nil {
		return nil, err
	}
	if c, isCloser := raw.(io.Closer); isCloser {
		a.closers = append(a.closers, c)
	}

	storeOpts := []auth.StoreOption{
		auth.WithRetention(cfg.Retention),
		auth.WithLogger(logger),
		auth.WithChangeHook(func(ctx context.Context, kind auth.ChangeKind) {
			logger.DebugContext(ctx, "session storage changed", slog.String("kind", kind.String()))
		}),
	}
	if cfg.StorePassphrase != "" {
		storeOpts = append(storeOpts, auth.WithPassphrase(cfg.StorePassphrase))
	}
	store := auth.NewStore(raw, storeOpts...)

	var transport tabsync.Transport
	switch {
	case cfg.NATSURL != "":
		conn, err := tabsync.DialNATS(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closerFunc(func() error { conn.Close(); return nil }))
		transport = tabsync.NewNATSTransport(conn, cfg.SyncNamespace)
	case watcher != nil:
		transport = tabsync.NewStorageFeed(watcher, cfg.SyncPoll)
	}

	gateway := clientapi.NewClient(cfg.APIBaseURL, clientapi.WithTimeout(cfg.HTTPTimeout))

	manager, err := session.New(session.Deps{Gateway: gateway, Store: store, Transport: transport},
		session.WithLogger(logger),
		session.WithRefreshConfig(cfg.RefreshConfig()),
		session.WithMetrics(refresh.NewMetrics(a.metrics)),
		session.WithContextID(contextID),
	)
	if err != nil {
		return nil, err
	}
	a.manager = manager

	if err := manager.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	a.cli = cli.New(iocli.NewStdio(), manager, cfg.APIBaseURL)
	ok = true
	return a, nil
}

// openStorage открывает хранилище сессии. watcher не nil, если хранилище
// само сообщает об изменениях, сделанных другими процессами.
func openStorage(ctx context.Context, cfg config.Client, contextID string) (storage.AuthStorage, storage.Watcher, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		st, err := sqlite.New(ctx, cfg.StorePath, sqlite.WithOrigin(contextID))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return st, st, nil
	case config.StoreBolt:
		st, err := boltdb.New(ctx, cfg.StorePath)
		if errors.Is(err, storage.ErrStorageLocked) {
			return nil, nil, fmt.Errorf("%w (bolt allows one process; use EDUSESSION_STORE_DRIVER=sqlite for several)", err)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt storage: %w", err)
		}
		return st, nil, nil
	default:
		return memory.New(), nil, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
