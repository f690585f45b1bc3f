// Package app assembles the server from its parts and runs it until the
// context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gridsync/internal/broker"
	"gridsync/internal/config"
	"gridsync/internal/logstore"
	gridnet "gridsync/internal/net"
)

const shutdownTimeout = 5 * time.Second

func openStore(cfg config.Config) (logstore.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	switch cfg.Storage {
	case config.StorageSQLite:
		return logstore.OpenSQLite(filepath.Join(cfg.DataDir, "posts.db"))
	default:
		return logstore.NewFileStore(cfg.DataDir)
	}
}

// Run serves rooms over websocket until ctx is cancelled, then shuts the
// HTTP server down gracefully and closes the store.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close store", "error", cerr)
		}
	}()

	b := broker.New(store, broker.WithLogger(logger))
	handler := gridnet.NewHandler(b, gridnet.HandlerConfig{
		ClientDir: cfg.ClientDir,
		Logger:    logger,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr, "storage", cfg.Storage)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
