package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/nicktill/adoptboard/pkg/source"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Builder produces a reconciled table. Engine is the production builder.
type Builder interface {
	Build(ctx context.Context, now time.Time) (*dataset.Table, Stats, error)
}

// Engine fetches both sources and reconciles them.
type Engine struct {
	identity source.Source
	usage    source.Source
	opts     Options
}

// NewEngine creates an engine over the two sources.
func NewEngine(identity, usage source.Source, opts Options) *Engine {
	return &Engine{identity: identity, usage: usage, opts: opts.withDefaults()}
}

// Build fetches both sources concurrently and joins them. Fetch failures are
// returned as *source.FetchError, a missing key column as *SchemaError.
func (e *Engine) Build(ctx context.Context, now time.Time) (*dataset.Table, Stats, error) {
	runID := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"run_id":   runID,
		"identity": e.identity.Name(),
		"usage":    e.usage.Name(),
	})
	start := time.Now()

	var identity, usage *dataset.RecordSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rs, err := fetch(gctx, e.identity)
		identity = rs
		return err
	})
	g.Go(func() error {
		rs, err := fetch(gctx, e.usage)
		usage = rs
		return err
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Warn("Source fetch failed")
		return nil, Stats{}, err
	}

	t, stats, err := Reconcile(identity, usage, e.opts)
	if err != nil {
		logger.WithError(err).Error("Reconciliation failed")
		return nil, stats, err
	}
	t.ID = runID
	t.BuiltAt = now

	logger.WithFields(log.Fields{
		"identity_rows":   stats.Identity.Rows,
		"usage_rows":      stats.Usage.Rows,
		"reconciled_rows": stats.Rows,
		"matched":         stats.Matched,
		"duplicates":      stats.Identity.Duplicates + stats.Usage.Duplicates,
		"excluded":        stats.Identity.Excluded + stats.Usage.Excluded,
		"policy":          stats.Policy,
		"duration":        time.Since(start).Round(time.Millisecond),
	}).Info("Reconciled table built")
	if len(stats.Collisions) > 0 {
		logger.WithField("columns", stats.Collisions).Debug("Suffixed colliding columns")
	}
	return t, stats, nil
}

// fetch guarantees the error is a *source.FetchError whatever the adapter returns.
func fetch(ctx context.Context, s source.Source) (*dataset.RecordSet, error) {
	rs, err := s.Fetch(ctx)
	if err != nil {
		var fe *source.FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &source.FetchError{Source: s.Name(), Err: err}
	}
	if rs == nil {
		return nil, &source.FetchError{Source: s.Name(), Err: errors.New("adapter returned no record set")}
	}
	if rs.Name == "" {
		rs.Name = s.Name()
	}
	return rs, nil
}
