//go:build integration

package integration

import (
	"context"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/infra"
	"github.com/eliteGoblin/connprune/internal/transport"
	"github.com/eliteGoblin/connprune/internal/usecase"
	"github.com/eliteGoblin/connprune/test/fixtures"
)

// recorder collects progress events.
type recorder struct {
	mu     sync.Mutex
	events []domain.Progress
}

func (r *recorder) OnProgress(p domain.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recorder) all() []domain.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Progress(nil), r.events...)
}

var _ = Describe("Bulk Loader", func() {
	var (
		ctx     context.Context
		tmpDir  string
		store   *infra.EncryptedStore
		prefs   *usecase.Preferences
		network *fixtures.FakeNetwork
		events  *recorder
		logger  *zap.Logger
	)

	newLoader := func(config usecase.LoaderConfig) *usecase.BulkLoader {
		loader := usecase.NewBulkLoader(network, prefs, config, logger,
			usecase.WithLoaderClock(fixtures.InstantClock{Day: time.Now()}))
		loader.Subscribe(events)
		return loader
	}

	BeforeEach(func() {
		ctx = context.Background()
		logger = zap.NewNop()

		var err error
		tmpDir, err = os.MkdirTemp("", "connprune-integration-*")
		Expect(err).NotTo(HaveOccurred())
		store = openStore(tmpDir)
		prefs = usecase.NewPreferences(store, domain.Settings{DailyLimit: 500}, logger)
		network = fixtures.NewFakeNetwork(120, 25)
		events = &recorder{}
	})

	AfterEach(func() {
		store.Close()
		os.RemoveAll(tmpDir)
	})

	It("loads the whole list and stores it", func() {
		contacts, err := newLoader(usecase.DefaultLoaderConfig()).LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(contacts).To(Equal(network.Contacts()))

		all := events.all()
		last := all[len(all)-1]
		Expect(last.Done).To(BeTrue())
		Expect(last.Percent).To(Equal(100))
		Expect(last.Message).To(Equal("Completed! Found 120 contacts."))

		Expect(store.Close()).To(Succeed())
		store = openStore(tmpDir)
		stored, err := usecase.NewPreferences(store, domain.Settings{}, logger).LastLoaded(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal(contacts))
	})

	It("stops at the daily limit", func() {
		Expect(prefs.SaveSettings(ctx, domain.Settings{Delay: time.Second, DailyLimit: 60})).To(Succeed())

		contacts, err := newLoader(usecase.DefaultLoaderConfig()).LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(contacts).To(HaveLen(60))

		all := events.all()
		Expect(all[len(all)-1].Message).To(Equal("Reached daily limit of 60. Found 60 contacts."))
	})

	It("chunks the terminal report for a large list and reassembles it", func() {
		contacts, err := newLoader(usecase.DefaultLoaderConfig()).LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		all := events.all()
		frames := transport.Frames(all[len(all)-1], 50)
		Expect(frames).To(HaveLen(3))

		var asm transport.Assembler
		var rebuilt []domain.Contact
		for i, frame := range frames {
			got, done, err := asm.Add(frame)
			Expect(err).NotTo(HaveOccurred())
			Expect(done).To(Equal(i == len(frames)-1))
			rebuilt = got
		}
		Expect(rebuilt).To(Equal(contacts))
	})

	It("reports the last load when aborted while idle", func() {
		loader := newLoader(usecase.DefaultLoaderConfig())
		_, err := loader.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		ack := loader.Abort()
		Expect(ack.WasLoading).To(BeFalse())
		Expect(ack.ContactsLoaded).To(Equal(120))
	})
})
