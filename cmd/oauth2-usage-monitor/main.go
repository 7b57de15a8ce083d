// Command oauth2-usage-monitor signs in with the OAuth 2.0 device flow and
// keeps the account's usage snapshot fresh behind a local HTTP API.
//
// Usage:
//
//	oauth2-usage-monitor [serve]   run the daemon (default)
//	oauth2-usage-monitor login     sign in from the terminal
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Version is set by the build process
var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "login":
		err = runLogin(ctx, cfg, logger, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q; want serve or login\n", cmd)
		return 2
	}

	if err != nil {
		logger.Error("exiting", zap.String("command", cmd), zap.Error(err))
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg Config, logger *zap.Logger) error {
	c, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("closing Redis connection", zap.Error(err))
		}
	}()

	if err := c.usage.Load(ctx); err != nil {
		logger.Warn("loading cached snapshot", zap.Error(err))
	}

	srv := newServer(c, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Port), zap.String("version", Version))
		serverErrors <- httpServer.ListenAndServe()
	}()

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	refreshDone := make(chan error, 1)
	go func() {
		refreshDone <- c.usage.Run(refreshCtx, cfg.RefreshInterval)
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("starting server: %w", err)
	case <-ctx.Done():
		logger.Info("starting shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutting down server", zap.Error(err))
		if err := httpServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("closing server", zap.Error(err))
		}
	}

	c.sessions.Cancel()
	c.sessions.Wait(shutdownCtx)

	stopRefresh()
	select {
	case err := <-refreshDone:
		return err
	case <-shutdownCtx.Done():
		return errors.New("usage refresh did not stop before the shutdown timeout")
	}
}
