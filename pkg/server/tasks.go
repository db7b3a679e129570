package server

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/adoptboard/pkg/reconcile"
	"github.com/nicktill/adoptboard/pkg/storage"
	"github.com/nicktill/adoptboard/pkg/storage/badger"
	log "github.com/sirupsen/logrus"
)

// RunRefresh keeps the table cache warm so that requests rarely pay for a
// rebuild. Every interval it checks whether the cached table has outlived its
// TTL (or a failed build's backoff has elapsed) and rebuilds it. Retry pacing
// after failures is the cache's exponential backoff.
func RunRefresh(cache *reconcile.Cache, clock reconcile.Clock, interval time.Duration, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run once on startup so the first request finds a table
	log.Info("Building initial table...")
	warmCache(cache, clock)

	for {
		select {
		case <-ticker.C:
			warmCache(cache, clock)
		case <-stop:
			log.Info("Stopping refresh scheduler")
			return
		}
	}
}

// warmCache rebuilds the table when it is due. It reports whether a build ran.
func warmCache(cache *reconcile.Cache, clock reconcile.Clock) bool {
	now := clock.Now()
	if !cache.Expired(now) {
		return false
	}

	start := time.Now()
	snap, err := cache.GetOrRefresh(context.Background(), now)
	fields := log.Fields{"duration": time.Since(start).Round(time.Millisecond)}
	switch {
	case err != nil:
		log.WithError(err).WithFields(fields).Warn("Scheduled refresh failed, no table available")
	case snap.Stale:
		log.WithError(snap.Err).WithFields(fields).Warn("Scheduled refresh failed, serving previous table")
	default:
		fields["rows"] = snap.Table.Len()
		fields["table_id"] = snap.Table.ID
		log.WithFields(fields).Info("Scheduled refresh completed")
	}
	return true
}

// RunBadgerGC runs BadgerDB garbage collection periodically to reclaim disk
// space. Replaced snapshots accumulate in the value log until collected.
func RunBadgerGC(store storage.SnapshotStore, interval time.Duration, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Debug("Snapshot store is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval).Info("BadgerDB GC scheduler started")

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Reclaim a value log file if half of it is garbage
			if err := badgerStore.RunGC(0.5); err != nil {
				log.WithField("duration", time.Since(start).Round(time.Millisecond)).Debug("GC completed (no rewrite needed)")
			} else {
				log.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("GC completed (disk space reclaimed)")
			}
		case <-stop:
			log.Info("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
