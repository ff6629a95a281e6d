package daemon

import (
	"context"
	"strconv"
	"sync"

	"github.com/eliteGoblin/connprune/internal/domain"
)

type mockController struct {
	mu       sync.Mutex
	ack      domain.StartAck
	startErr error
	started  []domain.Settings
	kinds    []domain.ActionKind
	status   domain.Status
	stop     domain.StopResult
	primed   int
}

func (m *mockController) Start(_ context.Context, kind domain.ActionKind, settings domain.Settings) (domain.StartAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
	m.started = append(m.started, settings)
	return m.ack, m.startErr
}

func (m *mockController) Stop() domain.StopResult { return m.stop }

func (m *mockController) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockController) Prime(context.Context) domain.DailyQuota {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primed++
	return domain.DailyQuota{Day: "2026-10-19", CountSoFar: 4}
}

func (m *mockController) primes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.primed
}

type mockLoader struct {
	mu       sync.Mutex
	loading  bool
	progress *domain.Progress
	loads    chan struct{}
	abort    domain.AbortAck
}

func newMockLoader() *mockLoader {
	return &mockLoader{loads: make(chan struct{}, 1)}
}

func (m *mockLoader) LoadAll(context.Context) ([]domain.Contact, error) {
	m.loads <- struct{}{}
	return nil, nil
}

func (m *mockLoader) Abort() domain.AbortAck { return m.abort }

func (m *mockLoader) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *mockLoader) LastProgress() (domain.Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.progress == nil {
		return domain.Progress{}, false
	}
	return *m.progress, true
}

type mockPrefs struct {
	settings domain.Settings
	saved    []domain.Settings
	saveErr  error
	last     []domain.Contact
	lastErr  error
}

func (m *mockPrefs) Settings(context.Context) domain.Settings { return m.settings }

func (m *mockPrefs) SaveSettings(_ context.Context, s domain.Settings) error {
	m.saved = append(m.saved, s)
	return m.saveErr
}

func (m *mockPrefs) LastLoaded(context.Context) ([]domain.Contact, error) {
	return m.last, m.lastErr
}

type mockBrowser struct {
	mu  sync.Mutex
	err error
}

func (m *mockBrowser) Check() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return 99, m.err
}

func contacts(n int) []domain.Contact {
	out := make([]domain.Contact, n)
	for i := range out {
		out[i] = domain.Contact{ID: strconv.Itoa(100000 + i), DisplayName: "Person " + strconv.Itoa(i)}
	}
	return out
}
