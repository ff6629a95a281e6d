package infra

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
)

var numericID = regexp.MustCompile(`^\d+$`)

// Navigator is a Page that can load a URL and report where it is.
type Navigator interface {
	Page
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
}

// ExecutorConfig holds the UI sequence timings and URLs.
type ExecutorConfig struct {
	ListURL       string        // Friend list page, opened when the tab is elsewhere
	ProfileBase   string        // Base URL for profile pages
	StepTimeout   time.Duration // Wait for a menu or a required dialog
	DialogTimeout time.Duration // Wait for an optional dialog (unfollow)
	PollInterval  time.Duration
	PageLoad      time.Duration // Wait after navigating
	Settle        time.Duration // Wait after confirming
}

// DefaultExecutorConfig returns the default timings.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ListURL:       "https://www.facebook.com/friends/list",
		ProfileBase:   "https://www.facebook.com",
		StepTimeout:   5 * time.Second,
		DialogTimeout: 3 * time.Second,
		PollInterval:  100 * time.Millisecond,
		PageLoad:      5 * time.Second,
		Settle:        2 * time.Second,
	}
}

// ActionRunner implements domain.ActionExecutor by driving the page UI:
// locate the contact card, open its menu, pick the action and confirm.
type ActionRunner struct {
	page      Navigator
	directory *ContactDirectory
	config    ExecutorConfig
	logger    *zap.Logger
}

// NewActionRunner creates an executor. directory may be nil.
func NewActionRunner(page Navigator, directory *ContactDirectory, config ExecutorConfig, logger *zap.Logger) *ActionRunner {
	return &ActionRunner{page: page, directory: directory, config: config, logger: logger}
}

// Execute runs one removal. Page failures are returned as errors; a UI that
// does not behave as expected yields an unsuccessful result with a reason.
func (r *ActionRunner) Execute(ctx context.Context, target domain.Target, contactID string, kind domain.ActionKind) (domain.ActionResult, error) {
	if !kind.Valid() {
		return domain.ActionResult{}, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidSettings, kind)
	}
	name := r.name(contactID)

	// A previous profile fallback may have left the tab away from the list,
	// so the live location is checked rather than the session target.
	if r.config.ListURL != "" {
		location, err := r.page.Location(ctx)
		if err != nil {
			return domain.ActionResult{}, fmt.Errorf("failed to read tab location: %w", err)
		}
		if !strings.Contains(location, "/friends") {
			r.logger.Debug("opening friend list",
				zap.String("url", r.config.ListURL),
				zap.String("from", location),
				zap.String("target", target.ID))
			if err := r.navigate(ctx, r.config.ListURL); err != nil {
				return domain.ActionResult{}, err
			}
		}
	}

	var found string
	if err := r.page.Eval(ctx, locateCardScript(contactID, name), &found); err != nil {
		return domain.ActionResult{}, fmt.Errorf("failed to locate contact card: %w", err)
	}
	if found == "" {
		r.logger.Debug("contact card not found, using profile page", zap.String("contact_id", contactID))
		return r.viaProfile(ctx, contactID, name, kind)
	}

	var opened bool
	if err := r.page.Eval(ctx, openCardMenuScript(), &opened); err != nil {
		return domain.ActionResult{}, fmt.Errorf("failed to open contact menu: %w", err)
	}
	if !opened {
		r.logger.Debug("card has no menu button, using profile page", zap.String("contact_id", contactID))
		return r.viaProfile(ctx, contactID, found, kind)
	}
	return r.complete(ctx, found, kind)
}

// viaProfile opens the contact's profile page and runs the sequence from its
// friendship button.
func (r *ActionRunner) viaProfile(ctx context.Context, contactID, name string, kind domain.ActionKind) (domain.ActionResult, error) {
	if strings.HasPrefix(contactID, domain.SyntheticPrefix) {
		return failed(name, "could not determine profile URL for a synthetic id"), nil
	}

	base := strings.TrimSuffix(r.config.ProfileBase, "/")
	profile := base + "/" + contactID
	if numericID.MatchString(contactID) {
		profile = base + "/profile.php?id=" + contactID
	}
	if err := r.navigate(ctx, profile); err != nil {
		return domain.ActionResult{}, err
	}

	var opened bool
	if err := r.page.Eval(ctx, openProfileMenuScript(), &opened); err != nil {
		return domain.ActionResult{}, fmt.Errorf("failed to open profile menu: %w", err)
	}
	if !opened {
		return failed(name, "could not find Friends button on profile"), nil
	}
	return r.complete(ctx, name, kind)
}

// complete picks the menu item and handles the confirmation dialog.
func (r *ActionRunner) complete(ctx context.Context, name string, kind domain.ActionKind) (domain.ActionResult, error) {
	open, err := r.waitFor(ctx, menuOpenScript(), r.config.StepTimeout)
	if err != nil {
		return domain.ActionResult{}, err
	}
	if !open {
		return failed(name, "menu did not appear"), nil
	}

	var clicked bool
	if err := r.page.Eval(ctx, clickMenuItemScript(kind), &clicked); err != nil {
		return domain.ActionResult{}, fmt.Errorf("failed to click menu item: %w", err)
	}
	if !clicked {
		if kind == domain.ActionUnfollow {
			return failed(name, "could not find Following/Unfollow option"), nil
		}
		return failed(name, "could not find Unfriend option"), nil
	}

	required := kind == domain.ActionRemoveConnection
	timeout := r.config.DialogTimeout
	if required {
		timeout = r.config.StepTimeout
	}
	open, err = r.waitFor(ctx, dialogOpenScript(), timeout)
	if err != nil {
		return domain.ActionResult{}, err
	}
	switch {
	case open:
		var how string
		if err := r.page.Eval(ctx, confirmDialogScript(required), &how); err != nil {
			return domain.ActionResult{}, fmt.Errorf("failed to confirm dialog: %w", err)
		}
		if how == "" && required {
			return failed(name, "could not find confirmation button"), nil
		}
	case required:
		return failed(name, "confirmation dialog did not appear"), nil
	}

	if err := sleepCtx(ctx, r.config.Settle); err != nil {
		return domain.ActionResult{}, err
	}
	r.logger.Info("action completed", zap.String("name", name), zap.String("action", string(kind)))
	return domain.ActionResult{Success: true, Name: name}, nil
}

// waitFor polls a boolean script until it is true or timeout passes. Script
// errors count as false while polling.
func (r *ActionRunner) waitFor(ctx context.Context, script string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		var ok bool
		if err := r.page.Eval(ctx, script, &ok); err == nil && ok {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := sleepCtx(ctx, r.config.PollInterval); err != nil {
			return false, err
		}
	}
}

func (r *ActionRunner) navigate(ctx context.Context, url string) error {
	if err := r.page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return sleepCtx(ctx, r.config.PageLoad)
}

func (r *ActionRunner) name(contactID string) string {
	if r.directory == nil {
		return ""
	}
	name, _ := r.directory.Name(contactID)
	return name
}

func failed(name, reason string) domain.ActionResult {
	return domain.ActionResult{Name: name, Reason: reason}
}

var _ domain.ActionExecutor = (*ActionRunner)(nil)
