/*
Package storage keeps the last good reconciled tables so the dashboard can
keep serving data when a source is down.

# Why snapshots?

The reconciled table lives in the refresh cache for its TTL and is rebuilt
from the sources afterwards. A failed rebuild leaves the previous table in
place, but a process restart loses it. Saving each successful table lets the
cache fall back to the newest snapshot when the very first build after a
restart fails. Snapshots are never patched; every refresh writes a whole
table and the store prunes all but the newest DefaultRetain.

# Backends

  - memory: in-process, for tests and for deployments without a data dir
  - badger: BadgerDB (LSM tree + Snappy compression) under the data dir

Tables are keyed by their content fingerprint, so saving an unchanged table
only moves the "latest" pointer.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data/adoptboard"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	if err := store.Save(ctx, table); err != nil {
	    log.WithError(err).Warn("Snapshot save failed")
	}
	latest, err := store.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
	    // nothing saved yet
	}
*/
package storage
