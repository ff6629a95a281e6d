package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
)

// fakeSource implements domain.DiscoverySource for testing.
// Each scan reveals perScan more contacts (up to total, 0 = unlimited) and
// returns everything revealed so far, the way a scrolled page does.
type fakeSource struct {
	mu         sync.Mutex
	perScan    int
	total      int
	prepareErr error
	scanErr    error
	onScan     func(n int)
	revealed   int
	advances   int
	fallbacks  int
	scans      int
}

func (s *fakeSource) Prepare(context.Context) error { return s.prepareErr }

func (s *fakeSource) Extent(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(1000 + s.revealed*100), nil
}

func (s *fakeSource) Advance(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advances++
	return nil
}

func (s *fakeSource) AdvanceFallback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacks++
	return nil
}

func (s *fakeSource) ScanVisible(context.Context) ([]domain.Contact, error) {
	s.mu.Lock()
	s.scans++
	n := s.scans
	hook := s.onScan
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	s.revealed += s.perScan
	if s.total > 0 && s.revealed > s.total {
		s.revealed = s.total
	}
	out := make([]domain.Contact, s.revealed)
	for i := range out {
		out[i] = domain.Contact{ID: fmt.Sprintf("%d", 100000+i), DisplayName: fmt.Sprintf("Contact %d", i)}
	}
	return out, nil
}

func (s *fakeSource) counts() (scans, advances, fallbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans, s.advances, s.fallbacks
}

// progressRecorder implements domain.ProgressListener for testing
type progressRecorder struct {
	mu     sync.Mutex
	events []domain.Progress
}

func (r *progressRecorder) OnProgress(p domain.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *progressRecorder) all() []domain.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Progress(nil), r.events...)
}

func (r *progressRecorder) last() domain.Progress {
	events := r.all()
	if len(events) == 0 {
		return domain.Progress{}
	}
	return events[len(events)-1]
}

// stalledClock never fires.
type stalledClock struct{}

func (stalledClock) Now() time.Time                       { return testNow }
func (stalledClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

type loaderFixture struct {
	store    *memStore
	source   *fakeSource
	recorder *progressRecorder
	loader   *BulkLoader
}

func newLoaderFixture(t *testing.T, source *fakeSource, limit int, opts ...LoaderOption) *loaderFixture {
	t.Helper()
	f := &loaderFixture{
		store:    newMemStore(),
		source:   source,
		recorder: &progressRecorder{},
	}
	if limit > 0 {
		f.store.put(KeyLimit, fmt.Sprintf("%d", limit))
	}
	prefs := NewPreferences(f.store, domain.Settings{Delay: time.Second, DailyLimit: 500}, zap.NewNop())
	all := append([]LoaderOption{WithLoaderClock(newFakeClock(testNow))}, opts...)
	f.loader = NewBulkLoader(source, prefs, DefaultLoaderConfig(), zap.NewNop(), all...)
	f.loader.Subscribe(f.recorder)
	return f
}

func assertUnique(t *testing.T, contacts []domain.Contact) {
	t.Helper()
	seen := map[string]bool{}
	for _, c := range contacts {
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
	}
}

// TestBulkLoader_StopsAtDailyLimit stops at iteration 10 with exactly the limit
func TestBulkLoader_StopsAtDailyLimit(t *testing.T) {
	f := newLoaderFixture(t, &fakeSource{perScan: 50}, 500)

	contacts, err := f.loader.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, contacts, 500)
	assertUnique(t, contacts)
	scans, _, _ := f.source.counts()
	assert.Equal(t, 10, scans)

	events := f.recorder.all()
	require.Len(t, events, 12) // start, 10 iterations, final
	assert.Equal(t, "Starting to load contacts...", events[0].Message)
	assert.Equal(t, 10, events[1].Percent)
	assert.Equal(t, "Loaded 50/500 contacts (iteration 1/100)...", events[1].Message)
	assert.Equal(t, 50, events[1].Count)

	final := events[len(events)-1]
	assert.True(t, final.Done)
	assert.Equal(t, 100, final.Percent)
	assert.Equal(t, 500, final.Count)
	assert.Len(t, final.Contacts, 500)
	assert.Equal(t, "Reached daily limit of 500. Found 500 contacts.", final.Message)
	for _, e := range events[:len(events)-1] {
		assert.False(t, e.Done)
	}

	assert.False(t, f.loader.Loading())
	last, ok := f.loader.LastProgress()
	assert.True(t, ok)
	assert.Equal(t, final.Message, last.Message)
}

// TestBulkLoader_CompletesWhenNothingNew stops after consecutive empty iterations and uses fallback discovery
func TestBulkLoader_CompletesWhenNothingNew(t *testing.T) {
	f := newLoaderFixture(t, &fakeSource{perScan: 10, total: 30}, 500)

	contacts, err := f.loader.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, contacts, 30)
	scans, advances, fallbacks := f.source.counts()
	assert.Equal(t, 8, scans) // 3 productive + 5 empty
	assert.Equal(t, 1, fallbacks)
	assert.Equal(t, 7, advances)
	assert.Equal(t, "Completed! Found 30 contacts.", f.recorder.last().Message)
	assert.True(t, f.recorder.last().Done)
}

// TestBulkLoader_LargeListsWaitLonger raises the empty-iteration threshold above 500 contacts
func TestBulkLoader_LargeListsWaitLonger(t *testing.T) {
	f := newLoaderFixture(t, &fakeSource{perScan: 100, total: 600}, 1000)

	contacts, err := f.loader.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, contacts, 600)
	scans, _, _ := f.source.counts()
	assert.Equal(t, 16, scans) // 6 productive + 10 empty
	assert.Equal(t, "Completed! Found 600 contacts.", f.recorder.last().Message)
}

// TestBulkLoader_MaxIterations stops at the hard iteration cap
func TestBulkLoader_MaxIterations(t *testing.T) {
	f := newLoaderFixture(t, &fakeSource{perScan: 1}, 500)

	contacts, err := f.loader.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, contacts, 100)
	final := f.recorder.last()
	assert.Equal(t, "Reached maximum iterations. Found 100 contacts.", final.Message)
	assert.True(t, final.Done)
}

// TestBulkLoader_Abort stops a running load and still emits the final event
func TestBulkLoader_Abort(t *testing.T) {
	source := &fakeSource{perScan: 10}
	f := newLoaderFixture(t, source, 500)

	var ack domain.AbortAck
	source.onScan = func(n int) {
		if n == 2 {
			ack = f.loader.Abort()
		}
	}

	contacts, err := f.loader.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.AbortAck{WasLoading: true, ContactsLoaded: 10}, ack)
	assert.Len(t, contacts, 20)

	events := f.recorder.all()
	final := events[len(events)-1]
	assert.True(t, final.Done)
	assert.Equal(t, "Loading aborted. Found 20 contacts.", final.Message)

	doneEvents := 0
	for _, e := range events {
		if e.Done {
			doneEvents++
		}
	}
	assert.Equal(t, 1, doneEvents)
}

// TestBulkLoader_AbortSurvivesRejectedLoad keeps an accepted abort when a
// second LoadAll is turned away
func TestBulkLoader_AbortSurvivesRejectedLoad(t *testing.T) {
	source := &fakeSource{perScan: 10}
	f := newLoaderFixture(t, source, 500)

	var ack domain.AbortAck
	var rejected error
	source.onScan = func(n int) {
		if n == 1 {
			ack = f.loader.Abort()
			_, rejected = f.loader.LoadAll(context.Background())
		}
	}

	contacts, err := f.loader.LoadAll(context.Background())
	require.NoError(t, err)
	assert.True(t, ack.WasLoading)
	assert.ErrorIs(t, rejected, domain.ErrLoadInProgress)
	assert.Len(t, contacts, 10)
	assert.Equal(t, "Loading aborted. Found 10 contacts.", f.recorder.last().Message)
}

// TestBulkLoader_AbortWhenIdle emits a terminal event with the last loaded contacts
func TestBulkLoader_AbortWhenIdle(t *testing.T) {
	t.Run("from storage", func(t *testing.T) {
		f := newLoaderFixture(t, &fakeSource{}, 0)
		f.store.put(KeyLastLoaded, `[{"id":"1","name":"A"},{"id":"2","name":"B"},{"id":"3","name":"C"}]`)

		ack := f.loader.Abort()
		assert.Equal(t, domain.AbortAck{WasLoading: false, ContactsLoaded: 3}, ack)

		final := f.recorder.last()
		assert.True(t, final.Done)
		assert.Equal(t, "Loading stopped. Found 3 contacts.", final.Message)
		assert.Len(t, final.Contacts, 3)
	})

	t.Run("after a load", func(t *testing.T) {
		f := newLoaderFixture(t, &fakeSource{perScan: 5, total: 5}, 500)
		_, err := f.loader.LoadAll(context.Background())
		require.NoError(t, err)

		ack := f.loader.Abort()
		assert.Equal(t, 5, ack.ContactsLoaded)
		assert.Equal(t, "Loading stopped. Found 5 contacts.", f.recorder.last().Message)
	})
}

// TestBulkLoader_RejectsConcurrentLoad allows one load at a time
func TestBulkLoader_RejectsConcurrentLoad(t *testing.T) {
	source := &fakeSource{perScan: 5, total: 5}
	f := newLoaderFixture(t, source, 500)

	entered := make(chan struct{})
	release := make(chan struct{})
	source.onScan = func(n int) {
		if n == 1 {
			close(entered)
			<-release
		}
	}

	errc := make(chan error, 1)
	go func() {
		_, err := f.loader.LoadAll(context.Background())
		errc <- err
	}()

	<-entered
	assert.True(t, f.loader.Loading())
	_, err := f.loader.LoadAll(context.Background())
	assert.ErrorIs(t, err, domain.ErrLoadInProgress)

	close(release)
	require.NoError(t, <-errc)
	assert.False(t, f.loader.Loading())
}

// TestBulkLoader_PrepareFailure emits a final error event and returns the error
func TestBulkLoader_PrepareFailure(t *testing.T) {
	f := newLoaderFixture(t, &fakeSource{prepareErr: errors.New("no container")}, 500)

	contacts, err := f.loader.LoadAll(context.Background())
	require.Error(t, err)
	assert.Nil(t, contacts)

	final := f.recorder.last()
	assert.True(t, final.Done)
	assert.Equal(t, "Error: failed to locate scrollable container: no container", final.Message)
	assert.False(t, f.loader.Loading())
}

// TestBulkLoader_ContextCanceled ends the load during the settle wait
func TestBulkLoader_ContextCanceled(t *testing.T) {
	f := newLoaderFixture(t, &fakeSource{perScan: 5}, 500, WithLoaderClock(stalledClock{}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := f.loader.LoadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.recorder.last().Done)
}

// TestBulkLoader_ScanErrorsCountAsEmpty keeps going until the empty-iteration limit
func TestBulkLoader_ScanErrorsCountAsEmpty(t *testing.T) {
	f := newLoaderFixture(t, &fakeSource{scanErr: errors.New("detached node")}, 500)

	contacts, err := f.loader.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, contacts)

	scans, _, _ := f.source.counts()
	assert.Equal(t, 5, scans)
	assert.Equal(t, "Completed! Found 0 contacts.", f.recorder.last().Message)
}

// TestBulkLoader_PersistsLastLoaded stores the final result
func TestBulkLoader_PersistsLastLoaded(t *testing.T) {
	f := newLoaderFixture(t, &fakeSource{perScan: 2, total: 2}, 500)

	_, err := f.loader.LoadAll(context.Background())
	require.NoError(t, err)

	assert.JSONEq(t,
		`[{"id":"100000","name":"Contact 0"},{"id":"100001","name":"Contact 1"}]`,
		f.store.raw(KeyLastLoaded))
}

// TestBulkLoader_ListenerPanic does not break the loop
func TestBulkLoader_ListenerPanic(t *testing.T) {
	f := newLoaderFixture(t, &fakeSource{perScan: 1, total: 1}, 500)
	f.loader.Subscribe(domain.ProgressFunc(func(domain.Progress) { panic("listener bug") }))

	contacts, err := f.loader.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
	assert.True(t, f.recorder.last().Done)
}
