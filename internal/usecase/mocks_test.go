package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eliteGoblin/connprune/internal/domain"
)

var errStorage = errors.New("storage unavailable")

// memStore implements domain.KeyValueStore for testing
type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	setErr  error
	setKeys []string
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]byte(nil), value...)
	m.setKeys = append(m.setKeys, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) raw(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.data[key])
}

func (m *memStore) put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = []byte(value)
}

// fakeClock implements domain.Clock; After fires immediately.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	onAfter func(d time.Duration)
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	hook := c.onAfter
	now := c.now
	c.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	ch := make(chan time.Time, 1)
	ch <- now.Add(d)
	return ch
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// mockScanner implements domain.Scanner for testing
// When release is set, the next Scan signals entered and waits for release.
type mockScanner struct {
	contacts []domain.Contact
	err      error
	calls    int
	entered  chan struct{}
	release  chan struct{}
}

func (m *mockScanner) Scan(_ context.Context, _ domain.Target) ([]domain.Contact, error) {
	m.calls++
	if m.release != nil {
		close(m.entered)
		<-m.release
		m.release = nil
	}
	return m.contacts, m.err
}

// mockTargets implements domain.TargetResolver for testing.
// Successive calls return targets[i]; the last entry repeats.
type mockTargets struct {
	mu      sync.Mutex
	targets []domain.Target
	err     error
	calls   int
}

func (m *mockTargets) Resolve(_ context.Context) (domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if m.err != nil {
		return domain.Target{}, m.err
	}
	if i >= len(m.targets) {
		i = len(m.targets) - 1
	}
	return m.targets[i], nil
}

// mockExecutor implements domain.ActionExecutor for testing.
// fn receives the id and the 1-based call count for that id.
type mockExecutor struct {
	mu    sync.Mutex
	fn    func(id string, call int) (domain.ActionResult, error)
	calls []string
	count map[string]int
}

func (m *mockExecutor) Execute(_ context.Context, _ domain.Target, id string, _ domain.ActionKind) (domain.ActionResult, error) {
	m.mu.Lock()
	if m.count == nil {
		m.count = map[string]int{}
	}
	m.count[id]++
	n := m.count[id]
	m.calls = append(m.calls, id)
	fn := m.fn
	m.mu.Unlock()

	if fn == nil {
		return domain.ActionResult{Success: true, Name: id}, nil
	}
	return fn(id, n)
}

func (m *mockExecutor) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockExecutor) callsFor(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count[id]
}

func contactsOf(ids ...string) []domain.Contact {
	out := make([]domain.Contact, len(ids))
	for i, id := range ids {
		out[i] = domain.Contact{ID: id, DisplayName: "Name " + id}
	}
	return out
}

func waitIdle(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for controller to become idle")
	}
}
