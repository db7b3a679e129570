package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/nicktill/adoptboard/pkg/storage"
)

// snapshotPrefix namespaces snapshot keys.
// Format: [prefix][built_at unix nanos (8 bytes)][fingerprint (8 bytes)]
var snapshotPrefix = []byte("snap/")

// Storage implements storage.SnapshotStore using BadgerDB (LSM tree)
type Storage struct {
	db     *badger.DB
	retain int
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly defaults)
	MaxMemoryMB int64

	// Retain is the number of snapshots kept (0 = storage.DefaultRetain)
	Retain int
}

// New creates a BadgerDB snapshot store
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Default: 16 MB memtable. Snapshots are few and large, so they live
	// in the value log rather than the LSM tree.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	// BadgerDB caches are unbounded unless sized explicitly
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(2).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	retain := cfg.Retain
	if retain <= 0 {
		retain = storage.DefaultRetain
	}
	return &Storage{db: db, retain: retain}, nil
}

// Save stores t as the newest snapshot and prunes old ones.
// An earlier snapshot with identical content is replaced.
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Save(ctx context.Context, t *dataset.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil {
		return errors.New("cannot save nil table")
	}

	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	key := makeKey(t)

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			keys, err := snapshotKeys(txn)
			if err != nil {
				return err
			}

			// Drop same-content entries and everything beyond the retention window
			var kept [][]byte
			for _, k := range keys {
				if fingerprintOf(k) == t.Fingerprint() {
					if err := txn.Delete(k); err != nil {
						return err
					}
					continue
				}
				kept = append(kept, k)
			}
			if excess := len(kept) + 1 - s.retain; excess > 0 {
				for _, k := range kept[:excess] {
					if err := txn.Delete(k); err != nil {
						return err
					}
				}
			}

			if err := txn.Set(key, value); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("save operation cancelled: %w", ctx.Err())
	}
}

// Load returns the newest snapshot
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Load(ctx context.Context) (*dataset.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type loadResult struct {
		table *dataset.Table
		err   error
	}
	done := make(chan loadResult, 1)

	go func() {
		var res loadResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			keys, err := snapshotKeys(txn)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return storage.ErrNotFound
			}

			item, err := txn.Get(keys[len(keys)-1])
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				var t dataset.Table
				if err := json.Unmarshal(val, &t); err != nil {
					return fmt.Errorf("failed to decode snapshot: %w", err)
				}
				res.table = &t
				return nil
			})
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.table, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("load operation cancelled: %w", ctx.Err())
	}
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		keys, err := snapshotKeys(txn)
		if err != nil {
			return err
		}
		stats.Snapshots = len(keys)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stats.Snapshots > 0 {
		latest, err := s.Load(ctx)
		if err != nil {
			return nil, err
		}
		stats.LatestID = latest.ID
		stats.LatestBuiltAt = latest.BuiltAt
		stats.LatestRows = latest.Len()
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when there was nothing to reclaim
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// snapshotKeys lists snapshot keys oldest first
func snapshotKeys(txn *badger.Txn) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = snapshotPrefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(snapshotPrefix); it.ValidForPrefix(snapshotPrefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

// makeKey creates a key that sorts by build time
func makeKey(t *dataset.Table) []byte {
	key := make([]byte, len(snapshotPrefix)+16)
	n := copy(key, snapshotPrefix)
	binary.BigEndian.PutUint64(key[n:n+8], uint64(t.BuiltAt.UnixNano()))
	binary.BigEndian.PutUint64(key[n+8:n+16], t.Fingerprint())
	return key
}

// fingerprintOf extracts the content fingerprint from a snapshot key
func fingerprintOf(key []byte) uint64 {
	if !bytes.HasPrefix(key, snapshotPrefix) || len(key) < len(snapshotPrefix)+16 {
		return 0
	}
	n := len(snapshotPrefix)
	return binary.BigEndian.Uint64(key[n+8 : n+16])
}
