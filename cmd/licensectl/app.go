package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rcourtman/wplicense/internal/config"
	"github.com/rcourtman/wplicense/internal/logging"
	"github.com/rcourtman/wplicense/pkg/inventory"
	"github.com/rcourtman/wplicense/pkg/licenseapi"
	"github.com/rcourtman/wplicense/pkg/licensing"
	"github.com/rcourtman/wplicense/pkg/options"
	"github.com/rs/zerolog"
)

// app bundles the components every command needs.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     options.Store
	inventory *inventory.Inventory
	manager   *licensing.Manager
}

func newApp(ctx context.Context) (*app, error) {
	// Log with defaults until the config tells us otherwise.
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "licensectl", Output: os.Stderr})

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "licensectl",
		Output:    os.Stderr,
	})
	if cfg.Source != "" {
		logger.Debug().Str("file", cfg.Source).Msg("Loaded configuration file")
	}

	store, err := options.Open(ctx, options.OpenConfig{
		Backend:  cfg.StoreBackend,
		DataDir:  cfg.DataDir,
		RedisURL: cfg.RedisURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open option store: %w", err)
	}

	client := licenseapi.New(licenseapi.Config{
		BaseURL:     cfg.ServerURL,
		Timeout:     cfg.Timeout,
		UserAgent:   "licensectl/" + Version,
		Fingerprint: cfg.TLSFingerprint,
		Debug:       cfg.Debug,
		Logger:      logging.New("licenseapi"),
	})

	inv := inventory.New(inventory.Config{
		PluginsDir:   cfg.PluginsDir,
		ThemesDir:    cfg.ThemesDir,
		MarkerHeader: cfg.MarkerHeader,
		TTL:          cfg.InventoryTTL,
		Logger:       logging.New("inventory"),
	})

	manager := licensing.NewManager(licensing.ManagerConfig{
		Client:        client,
		Records:       licensing.NewRecordStore(store, cfg.OptionPrefix, logging.New("records")),
		Inventory:     inv,
		Domain:        cfg.Domain,
		LocalPatterns: cfg.LocalPatterns,
		Logger:        logging.New("licensing"),
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		inventory: inv,
		manager:   manager,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close option store")
	}
}
