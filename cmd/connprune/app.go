package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/config"
	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/infra"
	"github.com/eliteGoblin/connprune/internal/usecase"
)

// app holds the wired components. Storage is always present; the browser side
// is attached only by commands that need it.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  domain.KeyValueStore
	quota  *usecase.QuotaBook
	prefs  *usecase.Preferences

	probe      *infra.BrowserProbe
	browser    *infra.Browser
	directory  *infra.ContactDirectory
	controller *usecase.Controller
	loader     *usecase.BulkLoader
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

// newApp loads the config and opens storage.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := createLogger(cfg)

	store, err := openStore(cfg)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		quota:  usecase.NewQuotaBook(store, logger),
		prefs:  usecase.NewPreferences(store, cfg.Settings(), logger),
	}, nil
}

// openStore opens the encrypted store, or an in-memory one when ephemeral.
func openStore(cfg config.Config) (domain.KeyValueStore, error) {
	if cfg.Ephemeral {
		return infra.NewMemoryStore(), nil
	}

	key, err := infra.EnsureKey(infra.ResolveKeyProvider(cfg.StateDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load storage key: %w", err)
	}
	store, err := infra.NewEncryptedStore(cfg.StateDir, key)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// attachBrowser connects to the browser and builds the controller and loader.
func (a *app) attachBrowser(ctx context.Context) error {
	// A launched browser lives as long as the session; only an attached one is probed.
	if a.cfg.Browser.RemoteURL != "" {
		a.probe = infra.NewBrowserProbe(infra.NewProcessManager(), a.cfg.Browser.ProcessNames)
	}

	browser, err := infra.NewBrowser(ctx, a.cfg.BrowserSettings(), a.probe, a.logger)
	if err != nil {
		return err
	}
	a.browser = browser
	a.directory = infra.NewContactDirectory()

	scanner := infra.NewContactScanner(browser, a.directory, infra.DefaultScannerConfig(), a.logger)
	executor := infra.NewActionRunner(browser, a.directory, a.cfg.ExecutorSettings(), a.logger)
	source := infra.NewScrollSource(browser, a.directory, a.logger)

	a.controller = usecase.NewController(scanner, executor, browser, a.quota, a.cfg.ControllerSettings(), a.logger)
	a.loader = usecase.NewBulkLoader(source, a.prefs, a.cfg.LoaderSettings(), a.logger)
	return nil
}

// Close releases everything in reverse order.
func (a *app) Close() {
	if a.controller != nil {
		a.controller.Close()
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	a.logger.Sync()
}
