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

	"github.com/rcourtman/wplicense/internal/api"
	"github.com/rcourtman/wplicense/pkg/inventory"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON admin endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen == "" {
				listen = a.cfg.ListenAddr
			}
			return serve(ctx, a, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides the configured one)")
	return cmd
}

func serve(ctx context.Context, a *app, listen string) error {
	log := a.logger

	watcher, err := inventory.NewWatcher(a.inventory)
	if err != nil {
		log.Warn().Err(err).Msg("Inventory watcher unavailable, relying on cache expiry")
	} else if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start inventory watcher")
	} else {
		defer watcher.Stop()
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           api.NewRouter(a.manager, log, Version),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * a.cfg.Timeout,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listen).Str("domain", a.manager.Domain()).Msg("Admin endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	// SIGHUP forces a product rescan
	signal.Notify(reloadChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	defer signal.Stop(reloadChan)

	for running := true; running; {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, rescanning products")
			a.inventory.Invalidate()
		case err, ok := <-serveErr:
			if ok && err != nil {
				return fmt.Errorf("admin endpoint: %w", err)
			}
			return nil
		case <-sigChan:
			log.Info().Msg("Shutting down admin endpoint...")
			running = false
		case <-ctx.Done():
			running = false
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Admin endpoint shutdown error")
		return err
	}
	log.Info().Msg("Admin endpoint stopped")
	return nil
}
