package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"notesapp/internal/api"
	"notesapp/internal/config"
	"notesapp/internal/crypto"
	"notesapp/internal/db"
	"notesapp/internal/validator"
)

var (
	version = "dev"
	commit  = "none"
)

const (
	maintenanceInterval = time.Hour
	shutdownTimeout     = 10 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "notesapp",
		Short:         "Multi-device notes server with edit conflict resolution",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newKeygenCommand())
	root.AddCommand(newUserCommand(&configPath))
	return root
}

// newLogger 开发环境使用可读的控制台输出，生产环境输出 JSON
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	if cfg.Server.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.Server.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = level
	}
	return zc.Build()
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting notesapp",
		zap.String("environment", cfg.Environment),
		zap.String("version", version),
		zap.Bool("ws_encryption_enforced", cfg.WebSocket.EnforceEncryption),
	)

	store, err := db.Open(cfg.Database.Path, logger.Named("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.SeedAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	srv, err := api.New(cfg, store, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	go srv.RunMaintenance(ctx, maintenanceInterval)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return err
	}
	return nil
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a random AES-256 key for websocket and payload encryption",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newUserCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var email, password, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user account (registration is admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.TrimSpace(email)
			if !validator.IsValidEmail(email) {
				return fmt.Errorf("invalid email %q", email)
			}
			if err := validator.ValidatePassword(password); err != nil {
				return err
			}
			if role != "user" && role != "admin" {
				return fmt.Errorf("role must be user or admin, got %q", role)
			}

			cfg, err := config.Read(*configPath)
			if err != nil {
				return err
			}
			store, err := db.Open(cfg.Database.Path, zap.NewNop())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()

			id, err := store.CreateUser(cmd.Context(), email, password, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s, %s)\n", id, email, role)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "login email")
	create.Flags().StringVar(&password, "password", "", "initial password")
	create.Flags().StringVar(&role, "role", "user", "user or admin")
	create.MarkFlagRequired("email")
	create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}
