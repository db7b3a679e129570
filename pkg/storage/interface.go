package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/adoptboard/pkg/dataset"
)

// ErrNotFound is returned by Load when no snapshot has been saved yet.
var ErrNotFound = errors.New("no snapshot stored")

// SnapshotStore keeps the last successfully reconciled tables.
// Implementations: memory (testing), badger (production)
type SnapshotStore interface {
	// Save stores t as the latest snapshot
	Save(ctx context.Context, t *dataset.Table) error

	// Load returns the latest snapshot or ErrNotFound
	Load(ctx context.Context) (*dataset.Table, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Stats provides storage health and usage info
type Stats struct {
	// Snapshots currently retained
	Snapshots int `json:"snapshots"`

	// Latest snapshot identity
	LatestID      string    `json:"latest_id,omitempty"`
	LatestBuiltAt time.Time `json:"latest_built_at,omitempty"`
	LatestRows    int       `json:"latest_rows"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`
}

// DefaultRetain is how many snapshots a store keeps before pruning the oldest.
const DefaultRetain = 3
