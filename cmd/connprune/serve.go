package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/connprune/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the connprune service",
	Long: `Attaches to the browser and serves the command surface over HTTP:

  GET  /status            controller status
  POST /removal/start     start removing connections
  POST /unfollow/start    start unfollowing connections
  POST /stop              stop the current session
  POST /load              load the complete connection list
  POST /load/abort        abort loading
  GET  /load/status       loading state and last progress
  GET  /contacts?chunk=N  last loaded connections, paged
  GET  /events            progress stream (websocket)
  GET  /metrics           prometheus metrics`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	if err := a.attachBrowser(ctx); err != nil {
		logger.Error("failed to attach browser", zap.Error(err))
		return err
	}

	hub := daemon.NewProgressHub(a.cfg.Stream.ChunkThreshold, a.loader.LastProgress, logger)
	a.loader.Subscribe(hub)
	server := daemon.NewServer(a.controller, a.loader, a.prefs, hub, a.cfg.Stream.ChunkThreshold, logger)

	var checker daemon.BrowserChecker
	if a.probe != nil {
		checker = a.probe
	}
	watcher := daemon.NewWatcher(daemon.DefaultWatcherConfig(), a.controller, a.controller, checker, logger)

	httpServer := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving command surface", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		server.Shutdown()
		if a.loader.Loading() {
			a.loader.Abort()
		}
		a.controller.Close()
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	fmt.Printf("connprune serving on http://%s\n", a.cfg.HTTP.Addr)
	return g.Wait()
}
