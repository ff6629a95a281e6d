package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
)

// Page evaluates scripts against the controlled browser tab.
type Page interface {
	// Eval runs script and decodes its JSON result into out. A nil out discards it.
	Eval(ctx context.Context, script string, out any) error

	// HTML returns the outer HTML of the document.
	HTML(ctx context.Context) (string, error)
}

// BrowserConfig configures how the browser session is obtained.
type BrowserConfig struct {
	RemoteURL   string        // DevTools websocket URL of a running browser; empty launches one
	Headless    bool          // Only used when launching
	UserDataDir string        // Profile directory when launching (keeps the login session)
	StartURL    string        // Navigated to once the tab is attached
	StepTimeout time.Duration // Bound for every single browser call
}

// Browser is a chromedp session on one tab. It resolves the target surface
// and serves as the Page for scanners, executors and discovery sources.
type Browser struct {
	config BrowserConfig
	probe  *BrowserProbe
	logger *zap.Logger

	mu      sync.Mutex
	tab     context.Context
	cancels []context.CancelFunc
}

// NewBrowser attaches to (or launches) a browser and opens the start URL.
// probe may be nil.
func NewBrowser(ctx context.Context, config BrowserConfig, probe *BrowserProbe, logger *zap.Logger) (*Browser, error) {
	if config.StepTimeout <= 0 {
		config.StepTimeout = 5 * time.Second
	}

	b := &Browser{config: config, probe: probe, logger: logger}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if config.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), config.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", config.Headless),
			chromedp.Flag("disable-gpu", config.Headless),
		)
		if config.UserDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(config.UserDataDir))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	tab, tabCancel := chromedp.NewContext(allocCtx)
	b.tab = tab
	b.cancels = []context.CancelFunc{tabCancel, allocCancel}

	startCtx, cancel := b.bound(ctx, 30*time.Second)
	defer cancel()

	actions := []chromedp.Action{}
	if config.StartURL != "" {
		actions = append(actions, chromedp.Navigate(config.StartURL))
	}
	if err := chromedp.Run(startCtx, actions...); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	logger.Info("browser session attached",
		zap.Bool("remote", config.RemoteURL != ""),
		zap.String("start_url", config.StartURL))
	return b, nil
}

// Resolve returns the attached tab's id and URL.
func (b *Browser) Resolve(ctx context.Context) (domain.Target, error) {
	if b.probe != nil {
		if _, err := b.probe.Check(); err != nil {
			return domain.Target{}, fmt.Errorf("%w: %v", domain.ErrWrongContext, err)
		}
	}

	runCtx, cancel := b.bound(ctx, b.config.StepTimeout)
	defer cancel()

	var url string
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return domain.Target{}, fmt.Errorf("failed to read tab location: %w", err)
	}

	c := chromedp.FromContext(runCtx)
	if c == nil || c.Target == nil {
		return domain.Target{}, fmt.Errorf("%w: no attached tab", domain.ErrWrongContext)
	}
	return domain.Target{ID: string(c.Target.TargetID), URL: url}, nil
}

// Eval implements Page.
func (b *Browser) Eval(ctx context.Context, script string, out any) error {
	runCtx, cancel := b.bound(ctx, b.config.StepTimeout)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Evaluate(script, out))
}

// HTML implements Page.
func (b *Browser) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := b.bound(ctx, b.config.StepTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

// Close detaches from the tab. A launched browser is shut down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
	return nil
}

// bound derives a context from the tab that also ends when ctx ends.
func (b *Browser) bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(b.tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

var (
	_ domain.TargetResolver = (*Browser)(nil)
	_ Page                  = (*Browser)(nil)
)

// Navigate loads url in the tab and waits for the document to be ready.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := b.bound(ctx, 30*time.Second)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Navigate(url))
}

// Location returns the tab's current URL.
func (b *Browser) Location(ctx context.Context) (string, error) {
	runCtx, cancel := b.bound(ctx, b.config.StepTimeout)
	defer cancel()

	var url string
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read tab location: %w", err)
	}
	return url, nil
}

var _ Navigator = (*Browser)(nil)
