package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/metrics"
)

// LoaderConfig holds the Bulk Loader stopping thresholds.
type LoaderConfig struct {
	MaxIterations   int           // Hard cap on scan iterations
	NoNewLimit      int           // Consecutive iterations without new contacts before stopping
	NoNewLimitLarge int           // NoNewLimit once more than LargeThreshold contacts are loaded
	LargeThreshold  int           // Size above which a list counts as large
	StuckLimit      int           // Unchanged extents before fallback discovery is used
	SettleDelay     time.Duration // Wait after each advance for content to materialise
}

// DefaultLoaderConfig returns the default thresholds.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		MaxIterations:   100,
		NoNewLimit:      5,
		NoNewLimitLarge: 10,
		LargeThreshold:  500,
		StuckLimit:      3,
		SettleDelay:     2500 * time.Millisecond,
	}
}

// LoaderOption customises a BulkLoader.
type LoaderOption func(*BulkLoader)

// WithLoaderClock replaces the wall clock used for the settle wait.
func WithLoaderClock(clock domain.Clock) LoaderOption {
	return func(l *BulkLoader) { l.clock = clock }
}

// BulkLoader accumulates the full contact list by repeatedly advancing a
// discovery source and re-scanning it. It never removes anything.
type BulkLoader struct {
	source domain.DiscoverySource
	prefs  *Preferences
	config LoaderConfig
	clock  domain.Clock
	logger *zap.Logger

	loading atomic.Bool
	aborted atomic.Bool

	mu           sync.Mutex
	listeners    []domain.ProgressListener
	current      []domain.Contact
	last         []domain.Contact
	lastProgress domain.Progress
	hasProgress  bool
}

// NewBulkLoader creates a loader over source.
func NewBulkLoader(source domain.DiscoverySource, prefs *Preferences, config LoaderConfig, logger *zap.Logger, opts ...LoaderOption) *BulkLoader {
	l := &BulkLoader{
		source: source,
		prefs:  prefs,
		config: config,
		clock:  SystemClock(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers a progress listener. Listeners are called synchronously
// from the load loop and must not block.
func (l *BulkLoader) Subscribe(listener domain.ProgressListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
}

// Loading reports whether a load is in progress.
func (l *BulkLoader) Loading() bool {
	return l.loading.Load()
}

// LastProgress returns the most recent progress event.
func (l *BulkLoader) LastProgress() (domain.Progress, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastProgress, l.hasProgress
}

// loadRun is the state of one LoadAll call.
type loadRun struct {
	limit      int
	contacts   []domain.Contact
	seen       map[string]struct{}
	iteration  int
	noNew      int
	noNewLimit int
	lastExtent int64
	stuck      int
}

// LoadAll runs the discovery loop until a stopping condition triggers and
// returns the accumulated contacts. A final done event is always emitted,
// including when an error is returned.
func (l *BulkLoader) LoadAll(ctx context.Context) ([]domain.Contact, error) {
	// Claiming the load and clearing the abort flag happen under l.mu, the
	// same lock Abort holds, so an accepted abort is never cleared.
	l.mu.Lock()
	if !l.loading.CompareAndSwap(false, true) {
		l.mu.Unlock()
		return nil, domain.ErrLoadInProgress
	}
	l.aborted.Store(false)
	l.current = nil
	l.mu.Unlock()
	defer l.loading.Store(false)

	run := &loadRun{
		limit:      l.prefs.DailyLimit(ctx),
		seen:       map[string]struct{}{},
		noNewLimit: l.config.NoNewLimit,
	}

	l.logger.Info("bulk load started", zap.Int("limit", run.limit))

	contacts, err := l.load(ctx, run)
	if err != nil {
		l.logger.Error("bulk load failed",
			zap.Int("contacts", len(run.contacts)),
			zap.Error(err))
		l.emit(domain.Progress{
			Percent:  100,
			Message:  "Error: " + err.Error(),
			Contacts: run.contacts,
			Count:    len(run.contacts),
			Done:     true,
		})
		return nil, err
	}
	return contacts, nil
}

func (l *BulkLoader) load(ctx context.Context, run *loadRun) ([]domain.Contact, error) {
	if err := l.source.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("failed to locate scrollable container: %w", err)
	}

	l.emit(domain.Progress{Message: "Starting to load contacts..."})

	for !l.shouldStop(run) {
		l.advance(ctx, run)

		if l.shouldStop(run) {
			break
		}

		select {
		case <-l.clock.After(l.config.SettleDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		l.collect(ctx, run)
		run.iteration++
		metrics.LoaderIterations.Inc()
		metrics.LoaderContacts.Set(float64(len(run.contacts)))

		l.emit(domain.Progress{
			Percent: l.percent(run),
			Message: fmt.Sprintf("Loaded %d/%d contacts (iteration %d/%d)...",
				len(run.contacts), run.limit, run.iteration, l.config.MaxIterations),
			Contacts: run.contacts,
			Count:    len(run.contacts),
		})

		if len(run.contacts) > l.config.LargeThreshold {
			run.noNewLimit = l.config.NoNewLimitLarge
		}
	}

	final := domain.Progress{
		Percent:  100,
		Message:  l.finalMessage(run),
		Contacts: run.contacts,
		Count:    len(run.contacts),
		Done:     true,
	}

	l.mu.Lock()
	l.last = run.contacts
	l.mu.Unlock()
	if err := l.prefs.SaveLastLoaded(ctx, run.contacts); err != nil {
		l.logger.Warn("failed to persist loaded contacts", zap.Error(err))
	}

	l.logger.Info("bulk load finished",
		zap.String("message", final.Message),
		zap.Int("contacts", len(run.contacts)),
		zap.Int("iterations", run.iteration))
	l.emit(final)
	return run.contacts, nil
}

// shouldStop reports whether any stopping condition holds.
func (l *BulkLoader) shouldStop(run *loadRun) bool {
	return len(run.contacts) >= run.limit ||
		l.aborted.Load() ||
		run.iteration >= l.config.MaxIterations ||
		run.noNew >= run.noNewLimit
}

// advance triggers more data, switching to fallback discovery when the
// extent has not grown for StuckLimit iterations.
func (l *BulkLoader) advance(ctx context.Context, run *loadRun) {
	extent, err := l.source.Extent(ctx)
	if err != nil {
		l.logger.Warn("failed to read scroll extent", zap.Error(err))
	} else {
		if extent == run.lastExtent {
			run.stuck++
		} else {
			run.stuck = 0
		}
		run.lastExtent = extent
	}

	if run.stuck >= l.config.StuckLimit {
		l.logger.Debug("source looks stuck, using fallback discovery",
			zap.Int64("extent", run.lastExtent),
			zap.Int("stuck", run.stuck))
		metrics.LoaderFallbacks.Inc()
		run.stuck = 0
		if err := l.source.AdvanceFallback(ctx); err != nil {
			l.logger.Warn("fallback discovery failed", zap.Error(err))
		}
		return
	}

	if err := l.source.Advance(ctx); err != nil {
		l.logger.Warn("failed to advance source", zap.Error(err))
	}
}

// collect scans the source and appends unseen contacts up to the limit.
func (l *BulkLoader) collect(ctx context.Context, run *loadRun) {
	visible, err := l.source.ScanVisible(ctx)
	if err != nil {
		l.logger.Warn("failed to scan visible contacts", zap.Error(err))
	}

	before := len(run.contacts)
	for _, contact := range visible {
		if len(run.contacts) >= run.limit {
			break
		}
		if contact.ID == "" {
			continue
		}
		if _, ok := run.seen[contact.ID]; ok {
			continue
		}
		run.seen[contact.ID] = struct{}{}
		run.contacts = append(run.contacts, contact)
	}

	if len(run.contacts) > before {
		run.noNew = 0
	} else {
		run.noNew++
		l.logger.Debug("no new contacts this iteration",
			zap.Int("attempt", run.noNew),
			zap.Int("limit", run.noNewLimit))
	}
	l.setCurrent(run.contacts)
}

// percent is the larger of the iteration and limit based estimates.
func (l *BulkLoader) percent(run *loadRun) int {
	p := percentOf(run.iteration, l.config.MaxIterations)
	if len(run.contacts) > 0 {
		p = max(p, percentOf(len(run.contacts), run.limit))
	}
	return p
}

// finalMessage describes why the loop ended. An abort wins over any other cause.
func (l *BulkLoader) finalMessage(run *loadRun) string {
	n := len(run.contacts)
	switch {
	case l.aborted.Load():
		return fmt.Sprintf("Loading aborted. Found %d contacts.", n)
	case n >= run.limit:
		return fmt.Sprintf("Reached daily limit of %d. Found %d contacts.", run.limit, n)
	case run.noNew >= run.noNewLimit:
		return fmt.Sprintf("Completed! Found %d contacts.", n)
	default:
		return fmt.Sprintf("Reached maximum iterations. Found %d contacts.", n)
	}
}

// Abort asks a running load to stop at the next check. The loop still emits
// its final event. When nothing is loading, a terminal event carrying the last
// loaded contacts is emitted instead.
func (l *BulkLoader) Abort() domain.AbortAck {
	l.mu.Lock()
	loading := l.loading.Load()
	if loading {
		l.aborted.Store(true)
	}
	current := l.current
	percent := l.lastProgress.Percent
	l.mu.Unlock()

	if loading {
		l.logger.Info("bulk load abort requested", zap.Int("contacts", len(current)))
		l.emit(domain.Progress{
			Percent:  percent,
			Message:  "Loading aborted by user. Stopping after the current step...",
			Contacts: current,
			Count:    len(current),
		})
		return domain.AbortAck{WasLoading: true, ContactsLoaded: len(current)}
	}

	last := l.lastLoaded()
	l.emit(domain.Progress{
		Percent:  100,
		Message:  fmt.Sprintf("Loading stopped. Found %d contacts.", len(last)),
		Contacts: last,
		Count:    len(last),
		Done:     true,
	})
	return domain.AbortAck{WasLoading: false, ContactsLoaded: len(last)}
}

func (l *BulkLoader) lastLoaded() []domain.Contact {
	l.mu.Lock()
	last := l.last
	l.mu.Unlock()
	if last != nil {
		return last
	}

	stored, err := l.prefs.LastLoaded(context.Background())
	if err != nil {
		l.logger.Warn("failed to read last loaded contacts", zap.Error(err))
		return nil
	}
	return stored
}

func (l *BulkLoader) setCurrent(contacts []domain.Contact) {
	l.mu.Lock()
	l.current = contacts
	l.mu.Unlock()
}

// emit records p and delivers a copy to every listener. The contact slice is
// cloned so listeners may keep it after the loop appends more.
func (l *BulkLoader) emit(p domain.Progress) {
	p.Contacts = append([]domain.Contact(nil), p.Contacts...)
	p.Count = len(p.Contacts)

	l.mu.Lock()
	l.lastProgress = p
	l.hasProgress = true
	listeners := append([]domain.ProgressListener(nil), l.listeners...)
	l.mu.Unlock()

	for _, listener := range listeners {
		l.notify(listener, p)
	}
}

func (l *BulkLoader) notify(listener domain.ProgressListener, p domain.Progress) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("progress listener panicked", zap.Any("panic", r))
		}
	}()
	listener.OnProgress(p)
}
