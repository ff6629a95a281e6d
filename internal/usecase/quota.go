// Package usecase contains application business logic.
package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
)

// Storage keys. The quota map and marker are shared by the controller and the loader.
const (
	KeyDailyCount = "dailyCount"
	KeyLastReset  = "lastReset"
	KeyExclusions = "exclusions"
	KeyDelay      = "delay"
	KeyLimit      = "limit"
	KeyLastLoaded = "lastLoaded"
)

// QuotaBook keeps the persisted daily counter.
// Every mutation re-reads the store first; nothing is cached across calls.
// Storage errors are soft: reads default to "no prior quota", writes are logged.
type QuotaBook struct {
	store  domain.KeyValueStore
	logger *zap.Logger
}

// NewQuotaBook creates a quota book over store.
func NewQuotaBook(store domain.KeyValueStore, logger *zap.Logger) *QuotaBook {
	return &QuotaBook{store: store, logger: logger}
}

// Refresh returns today's quota, resetting the counter map when the stored
// day marker differs from day.
func (b *QuotaBook) Refresh(ctx context.Context, day string) domain.DailyQuota {
	var lastReset string
	found, err := readJSON(ctx, b.store, KeyLastReset, &lastReset)
	if err != nil {
		b.logger.Warn("failed to read quota marker, assuming no prior quota", zap.Error(err))
		return domain.DailyQuota{Day: day}
	}

	counts, err := b.readCounts(ctx)
	if err != nil {
		b.logger.Warn("failed to read daily counts, assuming no prior quota", zap.Error(err))
		return domain.DailyQuota{Day: day}
	}

	if !found || lastReset != day {
		b.logger.Info("quota day boundary crossed, resetting counter",
			zap.String("previous_day", lastReset),
			zap.String("day", day))
		counts = map[string]int{day: 0}
		if err := writeJSON(ctx, b.store, KeyDailyCount, counts); err != nil {
			b.logger.Warn("failed to persist reset daily counts", zap.Error(err))
		}
		if err := writeJSON(ctx, b.store, KeyLastReset, day); err != nil {
			b.logger.Warn("failed to persist quota marker", zap.Error(err))
		}
		return domain.DailyQuota{Day: day}
	}

	return domain.DailyQuota{Day: day, CountSoFar: counts[day]}
}

// Today returns the stored count for day without resetting anything.
func (b *QuotaBook) Today(ctx context.Context, day string) int {
	counts, err := b.readCounts(ctx)
	if err != nil {
		b.logger.Warn("failed to read daily counts", zap.Error(err))
		return 0
	}
	return counts[day]
}

// Increment adds one success to day and returns the new count.
// It reads the latest persisted map before writing. If the read fails, cached
// (the caller's last known count) is used as the base.
func (b *QuotaBook) Increment(ctx context.Context, day string, cached int) int {
	counts, err := b.readCounts(ctx)
	if err != nil {
		b.logger.Warn("failed to read daily counts before increment", zap.Error(err))
		counts = map[string]int{day: cached}
	}
	counts[day]++
	next := counts[day]

	if err := writeJSON(ctx, b.store, KeyDailyCount, counts); err != nil {
		b.logger.Warn("failed to persist daily count",
			zap.String("day", day),
			zap.Int("count", next),
			zap.Error(err))
	}
	return next
}

func (b *QuotaBook) readCounts(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	if _, err := readJSON(ctx, b.store, KeyDailyCount, &counts); err != nil {
		return nil, err
	}
	if counts == nil {
		counts = map[string]int{}
	}
	return counts, nil
}

// Preferences holds the user-level persisted state: settings, exclusions and
// the last loaded contact list.
type Preferences struct {
	store    domain.KeyValueStore
	defaults domain.Settings
	logger   *zap.Logger
}

// NewPreferences creates preferences over store. defaults fill unset values.
func NewPreferences(store domain.KeyValueStore, defaults domain.Settings, logger *zap.Logger) *Preferences {
	return &Preferences{store: store, defaults: defaults, logger: logger}
}

// Settings returns the stored settings merged over the defaults.
func (p *Preferences) Settings(ctx context.Context) domain.Settings {
	s := p.defaults

	var delayMs int64
	if found, err := readJSON(ctx, p.store, KeyDelay, &delayMs); err != nil {
		p.logger.Warn("failed to read delay setting", zap.Error(err))
	} else if found && delayMs > 0 {
		s.Delay = time.Duration(delayMs) * time.Millisecond
	}

	var limit int
	if found, err := readJSON(ctx, p.store, KeyLimit, &limit); err != nil {
		p.logger.Warn("failed to read limit setting", zap.Error(err))
	} else if found && limit != 0 {
		s.DailyLimit = limit
	}

	s.Exclusions = p.Exclusions(ctx)
	return s.Normalize()
}

// SaveSettings persists delay and limit. Exclusions are stored separately.
func (p *Preferences) SaveSettings(ctx context.Context, s domain.Settings) error {
	s = s.Normalize()
	if err := writeJSON(ctx, p.store, KeyDelay, s.Delay.Milliseconds()); err != nil {
		return err
	}
	return writeJSON(ctx, p.store, KeyLimit, s.DailyLimit)
}

// DailyLimit returns the configured daily limit.
func (p *Preferences) DailyLimit(ctx context.Context) int {
	return p.Settings(ctx).DailyLimit
}

// Exclusions returns the stored exclusion set (empty on error).
func (p *Preferences) Exclusions(ctx context.Context) domain.ExclusionSet {
	var ids []string
	if _, err := readJSON(ctx, p.store, KeyExclusions, &ids); err != nil {
		p.logger.Warn("failed to read exclusions", zap.Error(err))
		return domain.ExclusionSet{}
	}
	return domain.NewExclusionSet(ids...)
}

// SetExclusions replaces the stored exclusion set.
func (p *Preferences) SetExclusions(ctx context.Context, set domain.ExclusionSet) error {
	ids := set.IDs()
	sort.Strings(ids)
	return writeJSON(ctx, p.store, KeyExclusions, ids)
}

// AddExclusions adds ids to the stored set and returns the new set.
func (p *Preferences) AddExclusions(ctx context.Context, ids ...string) (domain.ExclusionSet, error) {
	set := p.Exclusions(ctx).Merge(domain.NewExclusionSet(ids...))
	return set, p.SetExclusions(ctx, set)
}

// RemoveExclusions removes ids from the stored set and returns the new set.
func (p *Preferences) RemoveExclusions(ctx context.Context, ids ...string) (domain.ExclusionSet, error) {
	set := p.Exclusions(ctx)
	for _, id := range ids {
		delete(set, id)
	}
	return set, p.SetExclusions(ctx, set)
}

// SaveLastLoaded stores the final Bulk Loader result for display.
func (p *Preferences) SaveLastLoaded(ctx context.Context, contacts []domain.Contact) error {
	if contacts == nil {
		contacts = []domain.Contact{}
	}
	return writeJSON(ctx, p.store, KeyLastLoaded, contacts)
}

// LastLoaded returns the last stored Bulk Loader result.
func (p *Preferences) LastLoaded(ctx context.Context) ([]domain.Contact, error) {
	var contacts []domain.Contact
	if _, err := readJSON(ctx, p.store, KeyLastLoaded, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func readJSON(ctx context.Context, store domain.KeyValueStore, key string, out any) (bool, error) {
	data, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(ctx context.Context, store domain.KeyValueStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, data)
}
