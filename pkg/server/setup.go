package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/nicktill/adoptboard/pkg/analytics"
	"github.com/nicktill/adoptboard/pkg/config"
	"github.com/nicktill/adoptboard/pkg/live"
	"github.com/nicktill/adoptboard/pkg/reconcile"
	"github.com/nicktill/adoptboard/pkg/server/monitor"
	"github.com/nicktill/adoptboard/pkg/source"
	"github.com/nicktill/adoptboard/pkg/storage"
	"github.com/nicktill/adoptboard/pkg/storage/badger"
	"github.com/nicktill/adoptboard/pkg/storage/memory"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// ConfigureLogging applies the configured log level and format.
func ConfigureLogging(cfg *config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q: want text or json", cfg.LogFormat)
	}
	return nil
}

// InitializeSources creates the identity and usage source adapters.
func InitializeSources(cfg *config.Config) (identity, usage source.Source, err error) {
	identity, err = source.FromSpec(sourceSpec("identity", cfg.Identity))
	if err != nil {
		return nil, nil, err
	}
	usage, err = source.FromSpec(sourceSpec("usage", cfg.Usage))
	if err != nil {
		return nil, nil, err
	}
	log.WithFields(log.Fields{
		"identity": cfg.Identity.Location,
		"usage":    cfg.Usage.Location,
	}).Info("Sources configured")
	return identity, usage, nil
}

func sourceSpec(name string, sc config.SourceConfig) source.Spec {
	return source.Spec{
		Name:     name,
		Location: sc.Location,
		Format:   sc.Format,
		Token:    sc.Token,
		Timeout:  sc.Timeout,
	}
}

// InitializeEngine creates the reconciliation engine over the two sources.
func InitializeEngine(cfg *config.Config, identity, usage source.Source) (*reconcile.Engine, error) {
	policy, err := reconcile.ParseDuplicatePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	return reconcile.NewEngine(identity, usage, reconcile.Options{
		Key:             config.DefaultKeyColumn,
		IdentitySuffix:  cfg.IdentitySuffix,
		UsageSuffix:     cfg.UsageSuffix,
		ExcludedDomains: cfg.ExcludedDomains,
		Duplicates:      policy,
	}), nil
}

// InitializeStorage opens the snapshot store holding the last good table.
func InitializeStorage(cfg *config.Config) (storage.SnapshotStore, error) {
	if cfg.SnapshotBackend == "memory" {
		log.Info("Using in-memory snapshot store")
		return memory.New(), nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	log.WithField("path", cfg.DataDir).Info("Initializing BadgerDB snapshot store...")
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Info("BadgerDB snapshot store initialized successfully")
	return store, nil
}

// InitializeCache creates the table cache and hooks the refresh monitor and
// websocket hub to its outcomes.
func InitializeCache(
	cfg *config.Config,
	builder reconcile.Builder,
	store storage.SnapshotStore,
	refreshMonitor *monitor.RefreshMonitor,
	hub *live.Hub,
) *reconcile.Cache {
	cache := reconcile.NewCache(builder, reconcile.CacheConfig{
		TTL:   cfg.CacheTTL,
		Store: store,
	})
	cache.OnRefresh(func(snap reconcile.Snapshot) {
		refreshMonitor.RecordSuccess(snap.Table.Len())
	})
	cache.OnError(refreshMonitor.RecordFailure)
	if hub != nil {
		cache.OnRefresh(hub.Notify)
	}
	log.WithField("ttl", cfg.CacheTTL).Info("Table cache ready")
	return cache
}

// InitializeHandler creates the API handler.
func InitializeHandler(
	cfg *config.Config,
	cache *reconcile.Cache,
	store storage.SnapshotStore,
	refreshMonitor *monitor.RefreshMonitor,
	hub *live.Hub,
) (*Handler, error) {
	memo, err := analytics.NewMemo(config.MemoSize)
	if err != nil {
		return nil, err
	}
	return NewHandler(HandlerConfig{
		Cache:   cache,
		Monitor: refreshMonitor,
		Store:   store,
		Hub:     hub,
		Memo:    memo,
		Limits: analytics.Limits{
			Titles:     cfg.TopTitles,
			Categories: cfg.TopCategories,
			Regions:    cfg.TopRegions,
			Users:      cfg.TopUsers,
		},
		InitialBalance: decimal.NewNullDecimal(cfg.Balance()),
		DefaultFrom:    cfg.From(),
	})
}
