package memory

import (
	"context"
	"sync"

	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/nicktill/adoptboard/pkg/storage"
)

// Storage keeps snapshots in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	snapshots []*dataset.Table
	retain    int
	mu        sync.RWMutex
}

// New creates an in-memory snapshot store
func New() *Storage {
	return &Storage{retain: storage.DefaultRetain}
}

// Save appends t, replacing an identical latest snapshot
func (s *Storage) Save(ctx context.Context, t *dataset.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Tables are immutable once sealed, so storing the pointer is safe.
	if n := len(s.snapshots); n > 0 && s.snapshots[n-1].Fingerprint() == t.Fingerprint() {
		s.snapshots[n-1] = t
		return nil
	}
	s.snapshots = append(s.snapshots, t)
	if len(s.snapshots) > s.retain {
		s.snapshots = s.snapshots[len(s.snapshots)-s.retain:]
	}
	return nil
}

// Load returns the newest snapshot
func (s *Storage) Load(ctx context.Context) (*dataset.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, storage.ErrNotFound
	}
	return s.snapshots[len(s.snapshots)-1], nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{Snapshots: len(s.snapshots)}
	if len(s.snapshots) == 0 {
		return stats, nil
	}

	latest := s.snapshots[len(s.snapshots)-1]
	stats.LatestID = latest.ID
	stats.LatestBuiltAt = latest.BuiltAt
	stats.LatestRows = latest.Len()

	// Rough size estimate (each cell ~32 bytes)
	for _, t := range s.snapshots {
		stats.SizeBytes += uint64(t.Len()*len(t.Columns)) * 32
	}
	return stats, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}
