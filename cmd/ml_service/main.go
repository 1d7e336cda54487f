package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ml-service/internal/app"
	"ml-service/internal/config"
	"ml-service/internal/logger"
	"ml-service/internal/storage"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type env struct {
	v       *viper.Viper
	cfgFile string
}

func (e *env) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(e.v, e.cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newRootCmd() *cobra.Command {
	e := &env{v: config.New()}

	cmd := &cobra.Command{
		Use:     "ml-service",
		Short:   "Paid ML prediction service with user accounts and history.",
		Version: version,
		// Errors are returned to main and printed by cobra once.
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&e.cfgFile, "config", "", "config file (default is ./ml-service.yaml)")
	cmd.PersistentFlags().String("db-driver", "sqlite", `database driver ("sqlite", "postgres")`)
	cmd.PersistentFlags().String("db-dsn", "./ml-service.db", "database connection string (DSN)")
	cobra.CheckErr(e.v.BindPFlag("database.driver", cmd.PersistentFlags().Lookup("db-driver")))
	cobra.CheckErr(e.v.BindPFlag("database.dsn", cmd.PersistentFlags().Lookup("db-dsn")))

	cmd.AddCommand(newServeCmd(e), newMigrateCmd(e), newCreateAdminCmd(e))
	return cmd
}

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := e.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("ML service starting...", zap.String("version", version))

	a, err := app.New(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      a.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server graceful shutdown failed", zap.Error(err))
		return err
	}
	log.Info("HTTP server gracefully shut down.")
	return nil
}

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := e.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer storage.Close(db)

			log.Info("Database migrations completed", zap.String("driver", cfg.Database.Driver))
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newCreateAdminCmd(e *env) *cobra.Command {
	var login, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := e.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := app.New(cmd.Context(), cfg, nil, log)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.Auth.CreateAdmin(cmd.Context(), login, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %q (id %d)\n", user.Login, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&login, "login", "", "admin login")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cobra.CheckErr(cmd.MarkFlagRequired("login"))
	cobra.CheckErr(cmd.MarkFlagRequired("password"))
	return cmd
}
