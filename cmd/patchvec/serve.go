package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowlexi/patchvec/internal/auth"
	"github.com/flowlexi/patchvec/internal/config"
	"github.com/flowlexi/patchvec/internal/engine"
	"github.com/flowlexi/patchvec/internal/logging"
	"github.com/flowlexi/patchvec/internal/oplog"
	"github.com/flowlexi/patchvec/internal/server"
)

// drainWindow bounds graceful shutdown: in-flight operations get this
// long before the process exits anyway.
const drainWindow = 15 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config (default ./patchvec.yml or $PATCHVEC_CONFIG)")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	if err := auth.EnforceStartupPolicy(cfg); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Server.LogLevel})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is harmless

	opsLog, err := oplog.New(cfg.Log.OpsLog)
	if err != nil {
		return fmt.Errorf("opening ops log: %w", err)
	}
	defer opsLog.Close()

	runtime := config.NewRuntime(cfg)

	eng, err := engine.Build(runtime, opsLog, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		return err
	}

	srv, err := server.New(eng, authn, cfg.Server, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Keep chunking parameters runtime-resolvable while serving.
	if path := resolvedConfigPath(configPath); path != "" {
		go func() {
			if err := runtime.Watch(ctx, path, logger); err != nil {
				logger.Warn("config watch disabled", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainWindow)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not drain cleanly", zap.Error(err))
	}
	return nil
}

// resolvedConfigPath mirrors the loader's path resolution so the
// watcher follows the same file; missing files cannot be watched.
func resolvedConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("PATCHVEC_CONFIG")
	}
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}
	if _, err := os.Stat(configPath); err != nil {
		return ""
	}
	return configPath
}
