//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/infra"
	"github.com/eliteGoblin/connprune/internal/usecase"
	"github.com/eliteGoblin/connprune/test/fixtures"
)

// openStore opens the encrypted store in dir with a key kept next to it.
func openStore(dir string) *infra.EncryptedStore {
	key, err := infra.EnsureKey(infra.NewFileKeyProvider(dir))
	Expect(err).NotTo(HaveOccurred())
	store, err := infra.NewEncryptedStore(dir, key)
	Expect(err).NotTo(HaveOccurred())
	return store
}

var _ = Describe("Removal Controller", func() {
	var (
		ctx     context.Context
		tmpDir  string
		store   *infra.EncryptedStore
		network *fixtures.FakeNetwork
		clock   fixtures.InstantClock
		logger  *zap.Logger
	)

	newController := func(s domain.KeyValueStore) *usecase.Controller {
		config := usecase.DefaultControllerConfig()
		config.AllowedHosts = []string{"facebook.com"}
		return usecase.NewController(network, network, network, usecase.NewQuotaBook(s, logger), config, logger,
			usecase.WithClock(clock),
			usecase.WithJitter(func() time.Duration { return 0 }))
	}

	settings := func(limit int, exclude ...string) domain.Settings {
		return domain.Settings{
			Delay:      time.Second,
			DailyLimit: limit,
			Exclusions: domain.NewExclusionSet(exclude...),
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		logger = zap.NewNop()
		clock = fixtures.InstantClock{Day: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}

		var err error
		tmpDir, err = os.MkdirTemp("", "connprune-integration-*")
		Expect(err).NotTo(HaveOccurred())
		store = openStore(tmpDir)
		network = fixtures.NewFakeNetwork(5, 5)
	})

	AfterEach(func() {
		store.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("a full session", func() {
		It("removes every contact except the excluded ones", func() {
			controller := newController(store)
			defer controller.Close()

			ack, err := controller.Start(ctx, domain.ActionRemoveConnection, settings(500, "100002"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.QueueSize).To(Equal(4))

			Eventually(controller.Done()).Should(BeClosed())
			Expect(network.IDs()).To(Equal([]string{"100002"}))

			status := controller.Status()
			Expect(status.Running).To(BeFalse())
			Expect(status.LastStopReason).To(Equal(domain.StopExhausted))
			Expect(status.ProcessedToday).To(Equal(4))
		})

		It("persists the daily count in the encrypted store", func() {
			controller := newController(store)
			_, err := controller.Start(ctx, domain.ActionUnfollow, settings(500))
			Expect(err).NotTo(HaveOccurred())
			Eventually(controller.Done()).Should(BeClosed())
			Expect(controller.Close()).To(Succeed())
			Expect(store.Close()).To(Succeed())

			store = openStore(tmpDir)
			quota := usecase.NewQuotaBook(store, logger)
			Expect(quota.Today(ctx, domain.DayID(clock.Now()))).To(Equal(5))
		})
	})

	Describe("the daily limit", func() {
		It("stops at the limit and carries it across restarts", func() {
			controller := newController(store)
			_, err := controller.Start(ctx, domain.ActionRemoveConnection, settings(2))
			Expect(err).NotTo(HaveOccurred())
			Eventually(controller.Done()).Should(BeClosed())
			Expect(controller.Status().LastStopReason).To(Equal(domain.StopQuotaReached))
			Expect(network.Removed()).To(HaveLen(2))
			Expect(controller.Close()).To(Succeed())
			Expect(store.Close()).To(Succeed())

			store = openStore(tmpDir)
			restarted := newController(store)
			defer restarted.Close()

			ack, err := restarted.Start(ctx, domain.ActionRemoveConnection, settings(2))
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.ProcessedToday).To(Equal(2))
			Eventually(restarted.Done()).Should(BeClosed())
			Expect(restarted.Status().LastStopReason).To(Equal(domain.StopQuotaReached))
			Expect(network.Removed()).To(HaveLen(2))
		})

		It("starts from zero on the next day", func() {
			controller := newController(store)
			_, err := controller.Start(ctx, domain.ActionRemoveConnection, settings(2))
			Expect(err).NotTo(HaveOccurred())
			Eventually(controller.Done()).Should(BeClosed())
			Expect(controller.Close()).To(Succeed())

			clock.Day = clock.Day.Add(24 * time.Hour)
			next := newController(store)
			defer next.Close()

			ack, err := next.Start(ctx, domain.ActionRemoveConnection, settings(2))
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.ProcessedToday).To(Equal(0))
			Eventually(next.Done()).Should(BeClosed())
			Expect(network.Removed()).To(HaveLen(4))
		})
	})

	Describe("failures", func() {
		It("requeues a contact that keeps failing and removes it later", func() {
			network.FailNext("100001", 3)
			controller := newController(store)
			defer controller.Close()

			_, err := controller.Start(ctx, domain.ActionRemoveConnection, settings(500))
			Expect(err).NotTo(HaveOccurred())
			Eventually(controller.Done()).Should(BeClosed())

			removed := network.Removed()
			Expect(removed).To(HaveLen(5))
			Expect(removed[len(removed)-1]).To(Equal("100001"))
		})

		It("stops when the user switches tabs", func() {
			network.SwitchTabAfter(2)
			controller := newController(store)
			defer controller.Close()

			_, err := controller.Start(ctx, domain.ActionRemoveConnection, settings(500))
			Expect(err).NotTo(HaveOccurred())

			Eventually(controller.Done()).Should(BeClosed())
			Expect(controller.Status().LastStopReason).To(Equal(domain.StopTargetInvalid))
			Expect(network.Removed()).To(HaveLen(2))
			Expect(controller.Status().RemainingCount).To(Equal(3))
		})

		It("rejects a list with nothing on it", func() {
			network = fixtures.NewFakeNetwork(0, 5)
			controller := newController(store)
			defer controller.Close()

			_, err := controller.Start(ctx, domain.ActionRemoveConnection, settings(500))
			Expect(err).To(MatchError(domain.ErrNoContacts))
			Expect(controller.Status().State).To(Equal(domain.StateIdle))
		})
	})
})
