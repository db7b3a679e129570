package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/nicktill/adoptboard/pkg/source"
	"github.com/nicktill/adoptboard/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBuilder returns tables with increasing generation numbers, or err when set.
type stubBuilder struct {
	calls atomic.Int32
	mu    sync.Mutex
	err   error
	gate  chan struct{}
}

func (b *stubBuilder) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *stubBuilder) Build(ctx context.Context, now time.Time) (*dataset.Table, Stats, error) {
	n := b.calls.Add(1)
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	err := b.err
	b.mu.Unlock()
	if err != nil {
		return nil, Stats{}, err
	}
	t := &dataset.Table{
		ID:      string(rune('a' + n - 1)),
		BuiltAt: now,
		Key:     "email",
		Columns: []string{"email", "gen"},
		Rows:    []dataset.Row{{"email": dataset.Str("a@x.com"), "gen": dataset.Str(string(rune('0' + n)))}},
	}
	return t.Seal(), Stats{Rows: 1}, nil
}

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestCache_FreshWithinTTL(t *testing.T) {
	b := &stubBuilder{}
	c := NewCache(b, CacheConfig{TTL: time.Hour})
	ctx := context.Background()

	first, err := c.GetOrRefresh(ctx, t0)
	require.NoError(t, err)
	second, err := c.GetOrRefresh(ctx, t0.Add(59*time.Minute))
	require.NoError(t, err)

	assert.Same(t, first.Table, second.Table)
	assert.Equal(t, int32(1), b.calls.Load())
	assert.False(t, second.Stale)
}

func TestCache_RebuildAfterTTL(t *testing.T) {
	b := &stubBuilder{}
	c := NewCache(b, CacheConfig{TTL: time.Hour})
	ctx := context.Background()

	first, err := c.GetOrRefresh(ctx, t0)
	require.NoError(t, err)
	second, err := c.GetOrRefresh(ctx, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.NotSame(t, first.Table, second.Table)
	assert.Equal(t, int32(2), b.calls.Load())
	assert.Equal(t, t0.Add(time.Hour), second.RefreshedAt)
}

func TestCache_InjectedClock(t *testing.T) {
	now := t0
	clock := ClockFunc(func() time.Time { return now })
	b := &stubBuilder{}
	c := NewCache(b, CacheConfig{TTL: time.Hour, Clock: clock})

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, c.Expired(now))

	now = now.Add(2 * time.Hour)
	assert.True(t, c.Expired(now))
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestCache_ConcurrentCallersShareOneBuild(t *testing.T) {
	b := &stubBuilder{gate: make(chan struct{})}
	c := NewCache(b, CacheConfig{TTL: time.Hour})

	const callers = 8
	tables := make([]*dataset.Table, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := c.GetOrRefresh(context.Background(), t0)
			if err == nil {
				tables[i] = snap.Table
			}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(b.gate)
	wg.Wait()

	assert.Equal(t, int32(1), b.calls.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, tables[0], tables[i])
	}
}

func TestCache_FetchErrorKeepsPreviousTable(t *testing.T) {
	b := &stubBuilder{}
	c := NewCache(b, CacheConfig{TTL: time.Hour, MinBackoff: time.Minute, MaxBackoff: 4 * time.Minute})
	ctx := context.Background()

	good, err := c.GetOrRefresh(ctx, t0)
	require.NoError(t, err)

	b.setErr(&source.FetchError{Source: "usage", Err: errors.New("timeout")})
	at := t0.Add(time.Hour)
	stale, err := c.GetOrRefresh(ctx, at)
	require.NoError(t, err)
	assert.Same(t, good.Table, stale.Table)
	assert.True(t, stale.Stale)
	assert.ErrorIs(t, stale.Err, source.ErrFetch)
	assert.Equal(t, int32(2), b.calls.Load())

	// within backoff: no new attempt
	_, _ = c.GetOrRefresh(ctx, at.Add(30*time.Second))
	assert.Equal(t, int32(2), b.calls.Load())

	// backoff doubles: second failure waits 2m
	_, _ = c.GetOrRefresh(ctx, at.Add(time.Minute))
	assert.Equal(t, int32(3), b.calls.Load())
	_, _ = c.GetOrRefresh(ctx, at.Add(2*time.Minute))
	assert.Equal(t, int32(3), b.calls.Load())

	// recovery clears the stale flag
	b.setErr(nil)
	fresh, err := c.GetOrRefresh(ctx, at.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, fresh.Stale)
	assert.NotSame(t, good.Table, fresh.Table)
}

func TestCache_NoTableReturnsError(t *testing.T) {
	b := &stubBuilder{}
	b.setErr(&SchemaError{Source: "usage", Column: "email"})
	c := NewCache(b, CacheConfig{TTL: time.Hour})

	snap, err := c.GetOrRefresh(context.Background(), t0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTable)
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Nil(t, snap.Table)

	var se *SchemaError
	assert.True(t, errors.As(err, &se))
}

func TestCache_RefreshForcesRebuild(t *testing.T) {
	now := t0
	b := &stubBuilder{}
	c := NewCache(b, CacheConfig{TTL: time.Hour, Clock: ClockFunc(func() time.Time { return now })})
	ctx := context.Background()

	_, err := c.Get(ctx)
	require.NoError(t, err)
	_, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), b.calls.Load())

	b.setErr(errors.New("boom"))
	snap, err := c.Refresh(ctx)
	assert.Error(t, err)
	assert.NotNil(t, snap.Table, "previous table still served")
	assert.True(t, snap.Stale)
}

func TestCache_SnapshotStoreFallback(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	// first process: a good build is saved
	good := NewCache(&stubBuilder{}, CacheConfig{TTL: time.Hour, Store: store})
	saved, err := good.GetOrRefresh(ctx, t0)
	require.NoError(t, err)

	// restarted process: sources are down
	b := &stubBuilder{}
	b.setErr(&source.FetchError{Source: "identity", Err: errors.New("dns")})
	c := NewCache(b, CacheConfig{TTL: time.Hour, Store: store})

	snap, err := c.GetOrRefresh(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Equal(t, saved.Table.ID, snap.Table.ID)
}

func TestCache_OnRefreshListener(t *testing.T) {
	c := NewCache(&stubBuilder{}, CacheConfig{TTL: time.Hour})

	var got []Snapshot
	c.OnRefresh(func(s Snapshot) { got = append(got, s) })

	_, err := c.GetOrRefresh(context.Background(), t0)
	require.NoError(t, err)
	_, err = c.GetOrRefresh(context.Background(), t0.Add(time.Minute))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Table.Len())
}

func TestCache_OnErrorHook(t *testing.T) {
	b := &stubBuilder{}
	b.setErr(&SchemaError{Source: "usage", Column: "email"})
	c := NewCache(b, CacheConfig{TTL: time.Hour})

	var got []error
	c.OnError(func(err error) { got = append(got, err) })

	_, err := c.GetOrRefresh(context.Background(), t0)
	require.ErrorIs(t, err, ErrNoTable)

	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0], ErrMissingKey)
}

func TestCache_Peek(t *testing.T) {
	c := NewCache(&stubBuilder{}, CacheConfig{})
	_, ok := c.Peek()
	assert.False(t, ok)

	_, err := c.GetOrRefresh(context.Background(), t0)
	require.NoError(t, err)
	snap, ok := c.Peek()
	assert.True(t, ok)
	assert.NotNil(t, snap.Table)
}
