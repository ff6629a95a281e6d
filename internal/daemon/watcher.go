package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/metrics"
)

// QuotaPrimer refreshes the persisted daily quota (usecase.Controller.Prime).
type QuotaPrimer interface {
	Prime(ctx context.Context) domain.DailyQuota
}

// BrowserChecker reports whether the controlled browser is alive.
type BrowserChecker interface {
	Check() (int, error)
}

// WatcherConfig holds housekeeping intervals.
type WatcherConfig struct {
	QuotaInterval   time.Duration // How often the daily quota is refreshed
	BrowserInterval time.Duration // How often the browser process is probed
	StatusInterval  time.Duration // How often the queue gauge is updated
}

// DefaultWatcherConfig returns default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		QuotaInterval:   time.Minute,
		BrowserInterval: 30 * time.Second,
		StatusInterval:  5 * time.Second,
	}
}

// Watcher runs periodic housekeeping next to the HTTP server. It refreshes
// the daily quota so the day-rollover reset happens even while idle, and
// watches the browser the controller depends on.
type Watcher struct {
	config     WatcherConfig
	quota      QuotaPrimer
	controller RemovalController
	browser    BrowserChecker
	logger     *zap.Logger

	browserUp bool
}

// NewWatcher creates a watcher. browser may be nil.
func NewWatcher(config WatcherConfig, quota QuotaPrimer, controller RemovalController, browser BrowserChecker, logger *zap.Logger) *Watcher {
	return &Watcher{
		config:     config,
		quota:      quota,
		controller: controller,
		browser:    browser,
		logger:     logger,
		browserUp:  true,
	}
}

// Run blocks until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	q := w.quota.Prime(ctx)
	w.logger.Info("watcher started",
		zap.String("day", q.Day),
		zap.Int("processed_today", q.CountSoFar))

	w.checkBrowser()
	w.recordStatus()

	quotaTicker := time.NewTicker(w.config.QuotaInterval)
	browserTicker := time.NewTicker(w.config.BrowserInterval)
	statusTicker := time.NewTicker(w.config.StatusInterval)
	defer func() {
		quotaTicker.Stop()
		browserTicker.Stop()
		statusTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return ctx.Err()

		case <-quotaTicker.C:
			w.refreshQuota(ctx)

		case <-browserTicker.C:
			w.checkBrowser()

		case <-statusTicker.C:
			w.recordStatus()
		}
	}
}

// refreshQuota primes the quota, which resets it on a new day.
func (w *Watcher) refreshQuota(ctx context.Context) {
	q := w.quota.Prime(ctx)
	w.logger.Debug("quota refreshed", zap.String("day", q.Day), zap.Int("processed_today", q.CountSoFar))
}

// checkBrowser logs transitions of the browser process. Sessions notice a
// lost tab themselves on their next tick.
func (w *Watcher) checkBrowser() {
	if w.browser == nil {
		return
	}

	pid, err := w.browser.Check()
	switch {
	case err != nil && w.browserUp:
		w.browserUp = false
		w.logger.Warn("browser is not running", zap.Error(err))
	case err == nil && !w.browserUp:
		w.browserUp = true
		w.logger.Info("browser is running again", zap.Int("pid", pid))
	}
}

func (w *Watcher) recordStatus() {
	status := w.controller.Status()
	metrics.QueueLength.Set(float64(status.RemainingCount))
}
