// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/eliteGoblin/connprune/internal/domain"
)

// FakeNetwork is an in-memory friend list standing in for the browser tab.
// It serves as scanner, executor, target resolver and discovery source.
type FakeNetwork struct {
	mu       sync.Mutex
	contacts []domain.Contact
	removed  []string
	failures map[string]int
	target   domain.Target

	switchAfter int

	pageSize int
	visible  int
}

// NewFakeNetwork creates a list of n contacts with ids "100000".."100000+n-1".
// The discovery source materialises pageSize contacts per advance.
func NewFakeNetwork(n, pageSize int) *FakeNetwork {
	contacts := make([]domain.Contact, n)
	for i := range contacts {
		id := strconv.Itoa(100000 + i)
		contacts[i] = domain.Contact{ID: id, DisplayName: "Friend " + id}
	}
	return &FakeNetwork{
		contacts: contacts,
		failures: map[string]int{},
		target:   domain.Target{ID: "tab-1", URL: "https://www.facebook.com/friends/list"},
		pageSize: pageSize,
	}
}

// Contacts returns the contacts still connected.
func (f *FakeNetwork) Contacts() []domain.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Contact(nil), f.contacts...)
}

// IDs returns the ids of the contacts still connected.
func (f *FakeNetwork) IDs() []string {
	var ids []string
	for _, c := range f.Contacts() {
		ids = append(ids, c.ID)
	}
	return ids
}

// Removed returns the ids removed so far, in order.
func (f *FakeNetwork) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// FailNext makes the next n actions on id fail.
func (f *FakeNetwork) FailNext(id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = n
}

// SwitchTabAfter simulates the user moving to another tab once n contacts
// have been removed.
func (f *FakeNetwork) SwitchTabAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchAfter = n
}

// Resolve implements domain.TargetResolver.
func (f *FakeNetwork) Resolve(context.Context) (domain.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target, nil
}

// Scan implements domain.Scanner.
func (f *FakeNetwork) Scan(context.Context, domain.Target) ([]domain.Contact, error) {
	contacts := f.Contacts()
	if len(contacts) == 0 {
		return nil, domain.ErrNoContacts
	}
	return contacts, nil
}

// Execute implements domain.ActionExecutor.
func (f *FakeNetwork) Execute(_ context.Context, _ domain.Target, id string, _ domain.ActionKind) (domain.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n := f.failures[id]; n > 0 {
		f.failures[id] = n - 1
		return domain.ActionResult{Reason: "menu did not appear"}, nil
	}
	for i, c := range f.contacts {
		if c.ID == id {
			f.contacts = append(f.contacts[:i], f.contacts[i+1:]...)
			f.removed = append(f.removed, id)
			if f.switchAfter > 0 && len(f.removed) == f.switchAfter {
				f.target.ID = "tab-2"
			}
			return domain.ActionResult{Success: true, Name: c.DisplayName}, nil
		}
	}
	return domain.ActionResult{}, fmt.Errorf("contact %s not found", id)
}

// Prepare implements domain.DiscoverySource.
func (f *FakeNetwork) Prepare(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = min(f.pageSize, len(f.contacts))
	return nil
}

// Extent implements domain.DiscoverySource.
func (f *FakeNetwork) Extent(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(f.visible) * 72, nil
}

// Advance implements domain.DiscoverySource.
func (f *FakeNetwork) Advance(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = min(f.visible+f.pageSize, len(f.contacts))
	return nil
}

// AdvanceFallback implements domain.DiscoverySource.
func (f *FakeNetwork) AdvanceFallback(ctx context.Context) error {
	return f.Advance(ctx)
}

// ScanVisible implements domain.DiscoverySource.
func (f *FakeNetwork) ScanVisible(context.Context) ([]domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Contact(nil), f.contacts[:min(f.visible, len(f.contacts))]...), nil
}

// InstantClock is a domain.Clock whose waits complete immediately.
type InstantClock struct {
	Day time.Time
}

// Now implements domain.Clock.
func (c InstantClock) Now() time.Time { return c.Day }

// After implements domain.Clock.
func (c InstantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Day
	return ch
}
