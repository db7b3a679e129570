package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nicktill/adoptboard/pkg/config"
	"github.com/nicktill/adoptboard/pkg/live"
	"github.com/nicktill/adoptboard/pkg/reconcile"
	"github.com/nicktill/adoptboard/pkg/server"
	"github.com/nicktill/adoptboard/pkg/server/monitor"
	"github.com/nicktill/adoptboard/pkg/storage"
	log "github.com/sirupsen/logrus"
)

// app holds the wired components of a running server.
type app struct {
	cfg     *config.Config
	store   storage.SnapshotStore
	cache   *reconcile.Cache
	hub     *live.Hub
	monitor *monitor.RefreshMonitor
	router  *mux.Router
}

func newApp(cfg *config.Config) (*app, error) {
	identity, usage, err := server.InitializeSources(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := server.InitializeEngine(cfg, identity, usage)
	if err != nil {
		return nil, err
	}
	store, err := server.InitializeStorage(cfg)
	if err != nil {
		return nil, err
	}

	hub := live.NewHub()
	refreshMonitor := monitor.NewRefreshMonitor(2 * cfg.CacheTTL)
	cache := server.InitializeCache(cfg, engine, store, refreshMonitor, hub)

	handler, err := server.InitializeHandler(cfg, cache, store, refreshMonitor, hub)
	if err != nil {
		store.Close()
		return nil, err
	}

	router := mux.NewRouter()
	server.SetupRoutes(router, handler, cfg.Port)

	return &app{
		cfg:     cfg,
		store:   store,
		cache:   cache,
		hub:     hub,
		monitor: refreshMonitor,
		router:  router,
	}, nil
}

func main() {
	configPath := flag.String("config", os.Getenv("ADOPTBOARD_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if err := server.ConfigureLogging(cfg); err != nil {
		log.WithError(err).Fatal("Failed to configure logging")
	}
	log.Info("Starting adoptboard server...")

	a, err := newApp(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize server")
	}
	defer a.store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.hub.Run(ctx)
	}()
	log.Info("WebSocket hub started for refresh notifications")

	// Keep the table warm and reclaim snapshot space in the background
	stopRefresh := make(chan bool)
	wg.Add(1)
	go server.RunRefresh(a.cache, reconcile.SystemClock, config.RefreshInterval, stopRefresh, &wg)

	stopGC := make(chan bool)
	wg.Add(1)
	go server.RunBadgerGC(a.store, config.BadgerGCInterval, stopGC, &wg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	go func() {
		log.WithField("addr", "http://localhost:"+cfg.Port).Info("Server ready to accept requests")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutdown signal received...")

	// Cancel the context first so hub.Run returns before wg.Wait
	cancel()
	close(stopRefresh)
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server shutdown warning")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Warn("Some background tasks did not stop in time (forcing exit)")
	}

	log.Info("adoptboard server exited cleanly")
}
