package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/metrics"
)

// ControllerConfig holds the pacing and retry parameters.
type ControllerConfig struct {
	MaxAttempts  int           // Total executor attempts per contact
	RetryBackoff time.Duration // Fixed wait between attempts
	RequeueBound int           // Failed ids are re-appended only while the queue is shorter than this
	MaxJitter    time.Duration // Symmetric random offset applied to the inter-tick delay
	AllowedHosts []string      // Target URL hosts accepted at start; empty accepts any
}

// DefaultControllerConfig returns the default pacing configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxAttempts:  3,
		RetryBackoff: 3 * time.Second,
		RequeueBound: 50,
		MaxJitter:    250 * time.Millisecond,
	}
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithClock replaces the wall clock (used by tests).
func WithClock(clock domain.Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// WithJitter replaces the jitter source.
func WithJitter(jitter JitterFunc) ControllerOption {
	return func(c *Controller) { c.jitter = jitter }
}

// Controller owns the removal queue, the running/stopped state machine, the
// daily counter and the pacing loop. One instance lives for the whole process:
// NewController, then any number of Start/Stop sessions, then Close.
type Controller struct {
	scanner  domain.Scanner
	executor domain.ActionExecutor
	targets  domain.TargetResolver
	quota    *QuotaBook
	config   ControllerConfig
	clock    domain.Clock
	jitter   JitterFunc
	logger   *zap.Logger

	// lifetime context, canceled by Close. In-flight executor calls use it,
	// so Stop never aborts them.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          domain.RunState
	closed         bool
	sess           *session
	processedToday int
	lastReason     domain.StopReason
	stopPending    bool // Stop arrived while Starting
	idle           chan struct{}
	loopDone       chan struct{}
}

// session is the state of one start -> idle cycle.
type session struct {
	kind      domain.ActionKind
	settings  domain.Settings
	target    domain.Target
	day       string
	queue     []string
	processed int
	stop      chan struct{}
	stopOnce  sync.Once
}

func (s *session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// NewController creates an idle controller.
func NewController(
	scanner domain.Scanner,
	executor domain.ActionExecutor,
	targets domain.TargetResolver,
	quota *QuotaBook,
	config ControllerConfig,
	logger *zap.Logger,
	opts ...ControllerOption,
) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	loopDone := make(chan struct{})
	close(loopDone)

	c := &Controller{
		scanner:  scanner,
		executor: executor,
		targets:  targets,
		quota:    quota,
		config:   config,
		clock:    SystemClock(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    domain.StateIdle,
		idle:     idle,
		loopDone: loopDone,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.jitter == nil {
		c.jitter = UniformJitter(config.MaxJitter)
	}
	if c.config.MaxAttempts < 1 {
		c.config.MaxAttempts = 1
	}
	return c
}

// Prime loads today's quota (resetting it on a day boundary) so Status reports
// the persisted count before the first session.
func (c *Controller) Prime(ctx context.Context) domain.DailyQuota {
	q := c.quota.Refresh(ctx, domain.DayID(c.clock.Now()))
	c.mu.Lock()
	if c.state == domain.StateIdle {
		c.processedToday = q.CountSoFar
	}
	c.mu.Unlock()
	return q
}

// Start begins a session. It returns once the queue is built; items are
// processed in the background. Errors: domain.ErrAlreadyRunning,
// domain.ErrWrongContext, domain.ErrScanFailed, domain.ErrNoContacts,
// domain.ErrClosed, or an unexpected internal error.
func (c *Controller) Start(ctx context.Context, kind domain.ActionKind, settings domain.Settings) (ack domain.StartAck, err error) {
	if !kind.Valid() {
		return ack, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidSettings, kind)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ack, domain.ErrClosed
	}
	if c.state != domain.StateIdle {
		c.mu.Unlock()
		return ack, domain.ErrAlreadyRunning
	}
	c.state = domain.StateStarting
	c.sess = nil
	c.lastReason = domain.StopNone
	c.stopPending = false
	c.idle = make(chan struct{})
	prevLoop := c.loopDone
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected error: %v", r)
		}
		if err != nil {
			c.logger.Warn("failed to start session",
				zap.String("action", string(kind)),
				zap.Error(err))
			c.abortStart()
		}
	}()

	sess, err := c.prepare(ctx, kind, settings.Normalize())
	if err != nil {
		return ack, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ack, domain.ErrClosed
	}
	c.sess = sess
	ack = domain.StartAck{
		QueueSize:      len(sess.queue),
		DailyLimit:     sess.settings.DailyLimit,
		ProcessedToday: c.processedToday,
	}
	if c.stopPending {
		// Stopped before the first tick: the session ends without processing anything.
		c.stopPending = false
		c.state = domain.StateIdle
		c.lastReason = domain.StopRequested
		close(c.idle)
		c.mu.Unlock()

		sess.halt()
		metrics.SessionStops.WithLabelValues(string(domain.StopRequested)).Inc()
		c.logger.Info("session stopped before first contact",
			zap.String("action", string(kind)),
			zap.Int("queue_size", ack.QueueSize))
		return ack, nil
	}
	c.state = domain.StateRunning
	loopDone := make(chan struct{})
	c.loopDone = loopDone
	c.mu.Unlock()

	metrics.SessionsRunning.Set(1)
	metrics.QueueLength.Set(float64(ack.QueueSize))
	c.logger.Info("session started",
		zap.String("action", string(kind)),
		zap.Int("queue_size", ack.QueueSize),
		zap.Int("daily_limit", ack.DailyLimit),
		zap.Int("processed_today", ack.ProcessedToday),
		zap.Duration("delay", sess.settings.Delay))

	go c.run(sess, prevLoop, loopDone)
	return ack, nil
}

// prepare resolves the target, refreshes the quota, scans and builds the queue.
func (c *Controller) prepare(ctx context.Context, kind domain.ActionKind, settings domain.Settings) (*session, error) {
	target, err := c.targets.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWrongContext, err)
	}
	if !hostAllowed(target.URL, c.config.AllowedHosts) {
		return nil, fmt.Errorf("%w: %q is not a supported page", domain.ErrWrongContext, target.URL)
	}

	day := domain.DayID(c.clock.Now())
	quota := c.quota.Refresh(ctx, day)
	c.mu.Lock()
	c.processedToday = quota.CountSoFar
	c.mu.Unlock()

	contacts, err := c.scanner.Scan(ctx, target)
	if err != nil {
		if errors.Is(err, domain.ErrNoContacts) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrScanFailed, err)
	}
	if len(contacts) == 0 {
		return nil, domain.ErrNoContacts
	}

	queue, excluded, duplicates := buildQueue(contacts, settings.Exclusions)
	c.logger.Info("queue built",
		zap.Int("scanned", len(contacts)),
		zap.Int("excluded", excluded),
		zap.Int("duplicates", duplicates),
		zap.Int("queued", len(queue)))

	return &session{
		kind:     kind,
		settings: settings,
		target:   target,
		day:      day,
		queue:    queue,
		stop:     make(chan struct{}),
	}, nil
}

func (c *Controller) abortStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.StateStarting {
		c.state = domain.StateIdle
		close(c.idle)
	}
}

// run is the pacing loop. Ticks are strictly sequential; only one id is in flight.
func (c *Controller) run(sess *session, prevLoop <-chan struct{}, done chan struct{}) {
	defer close(done)

	// A previous session stopped mid-call may still be finishing its last item.
	select {
	case <-prevLoop:
	case <-sess.stop:
		return
	}

	for {
		if reason, ok := c.shouldContinue(sess); !ok {
			c.finish(sess, reason)
			return
		}

		if reason, ok := c.tick(sess); !ok {
			c.finish(sess, reason)
			return
		}

		delay := c.nextDelay(sess.settings.Delay)
		c.logger.Debug("waiting before next contact", zap.Duration("delay", delay))
		if !wait(c.clock, delay, sess.stop) {
			c.finish(sess, domain.StopRequested)
			return
		}
	}
}

func (c *Controller) shouldContinue(sess *session) (domain.StopReason, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-sess.stop:
		return domain.StopRequested, false
	default:
	}
	if len(sess.queue) == 0 {
		return domain.StopExhausted, false
	}
	if c.processedToday >= sess.settings.DailyLimit {
		return domain.StopQuotaReached, false
	}
	return domain.StopNone, true
}

// tick processes exactly one queued contact.
func (c *Controller) tick(sess *session) (domain.StopReason, bool) {
	target, err := c.targets.Resolve(c.ctx)
	if err != nil || target.ID != sess.target.ID {
		c.logger.Warn("target changed or unavailable, stopping session",
			zap.String("expected", sess.target.ID),
			zap.String("actual", target.ID),
			zap.Error(err))
		return domain.StopTargetInvalid, false
	}

	c.mu.Lock()
	id := sess.queue[0]
	sess.queue = sess.queue[1:]
	cached := c.processedToday
	c.mu.Unlock()

	result, ok := c.attempt(sess, id)
	if ok {
		count := c.quota.Increment(c.ctx, sess.day, cached)

		c.mu.Lock()
		sess.processed++
		c.processedToday = count
		remaining := len(sess.queue)
		c.mu.Unlock()

		metrics.Removals.WithLabelValues(string(sess.kind), "success").Inc()
		metrics.QueueLength.Set(float64(remaining))
		c.logger.Info("contact "+sess.kind.Verb(),
			zap.String("contact_id", id),
			zap.String("name", result.Name),
			zap.Int("processed_today", count),
			zap.Int("remaining", remaining))
		return domain.StopNone, true
	}

	c.mu.Lock()
	requeued := len(sess.queue) < c.config.RequeueBound
	if requeued {
		sess.queue = append(sess.queue, id)
	}
	remaining := len(sess.queue)
	c.mu.Unlock()

	metrics.Removals.WithLabelValues(string(sess.kind), "failure").Inc()
	metrics.QueueLength.Set(float64(remaining))
	if requeued {
		metrics.Requeues.Inc()
	}
	c.logger.Error("contact failed after all attempts",
		zap.String("contact_id", id),
		zap.Int("attempts", c.config.MaxAttempts),
		zap.String("reason", result.Reason),
		zap.Bool("requeued", requeued))
	return domain.StopNone, true
}

// attempt runs the executor up to MaxAttempts times with a fixed backoff.
// Both returned errors and unsuccessful results count as failed attempts.
func (c *Controller) attempt(sess *session, id string) (domain.ActionResult, bool) {
	var last domain.ActionResult
	for n := 1; n <= c.config.MaxAttempts; n++ {
		metrics.Attempts.WithLabelValues(string(sess.kind)).Inc()

		result, err := c.execute(sess, id)
		if err == nil && result.Success {
			return result, true
		}
		if err != nil {
			last = domain.ActionResult{Reason: err.Error()}
		} else {
			last = result
			if last.Reason == "" {
				last.Reason = "unknown error"
			}
		}
		c.logger.Warn("attempt failed",
			zap.String("contact_id", id),
			zap.Int("attempt", n),
			zap.String("reason", last.Reason))

		if n < c.config.MaxAttempts {
			select {
			case <-c.clock.After(c.config.RetryBackoff):
			case <-c.ctx.Done():
				return last, false
			}
		}
	}
	return last, false
}

// execute calls the executor, converting a panic into an error.
func (c *Controller) execute(sess *session, id string) (result domain.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return c.executor.Execute(c.ctx, sess.target, id, sess.kind)
}

// nextDelay returns base plus jitter. Any failure computing the jitter falls
// back to base so the loop always makes progress.
func (c *Controller) nextDelay(base time.Duration) (d time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("failed to compute jittered delay, using base delay",
				zap.Any("panic", r),
				zap.Duration("delay", base))
			d = base
		}
	}()
	d = base + c.jitter()
	if d <= 0 {
		return base
	}
	return d
}

// finish moves the controller to Idle if sess is still the running session.
func (c *Controller) finish(sess *session, reason domain.StopReason) {
	sess.halt()

	c.mu.Lock()
	current := c.sess == sess && c.state == domain.StateRunning
	if current {
		c.state = domain.StateIdle
		c.lastReason = reason
		close(c.idle)
	}
	processed, remaining := sess.processed, len(sess.queue)
	c.mu.Unlock()

	if !current {
		return
	}
	metrics.SessionsRunning.Set(0)
	metrics.SessionStops.WithLabelValues(string(reason)).Inc()
	c.logger.Info("session finished",
		zap.String("reason", string(reason)),
		zap.Int("processed", processed),
		zap.Int("remaining", remaining))
}

// Stop ends the running session at the next tick boundary. It does not abort an
// executor call already in flight. A Stop during Starting is remembered and
// ends the session before its first tick. Calling it while idle returns the
// latest session's counts and cancels nothing.
func (c *Controller) Stop() domain.StopResult {
	c.mu.Lock()
	if c.state == domain.StateStarting {
		c.stopPending = true
		c.mu.Unlock()
		c.logger.Info("stop requested while starting")
		return domain.StopResult{}
	}
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return domain.StopResult{}
	}
	result := domain.StopResult{
		ProcessedThisSession: sess.processed,
		RemainingCount:       len(sess.queue),
	}
	stopped := c.state == domain.StateRunning
	if stopped {
		c.state = domain.StateIdle
		c.lastReason = domain.StopRequested
		close(c.idle)
	}
	c.mu.Unlock()

	sess.halt()
	if stopped {
		metrics.SessionsRunning.Set(0)
		metrics.SessionStops.WithLabelValues(string(domain.StopRequested)).Inc()
		c.logger.Info("session stopped",
			zap.Int("processed", result.ProcessedThisSession),
			zap.Int("remaining", result.RemainingCount))
	}
	return result
}

// Status returns a snapshot; it has no side effects.
func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		Running:        c.state != domain.StateIdle,
		State:          c.state,
		ProcessedToday: c.processedToday,
		LastStopReason: c.lastReason,
	}
	if c.sess != nil {
		status.Action = c.sess.kind
		status.ProcessedThisSession = c.sess.processed
		status.RemainingCount = len(c.sess.queue)
	}
	return status
}

// Done returns a channel closed when the current session reaches Idle.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

// Close stops any session, cancels in-flight work and rejects further starts.
func (c *Controller) Close() error {
	c.Stop()
	c.mu.Lock()
	c.closed = true
	loopDone := c.loopDone
	c.mu.Unlock()
	c.cancel()
	<-loopDone
	return nil
}

// buildQueue filters excluded ids and drops duplicates, keeping first occurrence.
func buildQueue(contacts []domain.Contact, exclusions domain.ExclusionSet) (queue []string, excluded, duplicates int) {
	seen := make(map[string]struct{}, len(contacts))
	queue = make([]string, 0, len(contacts))
	for _, contact := range contacts {
		if contact.ID == "" {
			continue
		}
		if _, dup := seen[contact.ID]; dup {
			duplicates++
			continue
		}
		seen[contact.ID] = struct{}{}
		if exclusions.Has(contact.ID) {
			excluded++
			continue
		}
		queue = append(queue, contact.ID)
	}
	return queue, excluded, duplicates
}

// hostAllowed reports whether rawURL's host equals or is a subdomain of one of hosts.
func hostAllowed(rawURL string, hosts []string) bool {
	if len(hosts) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range hosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
