package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/remote"
	"github.com/dmitrijs2005/attendkeeper/internal/client/remote/remotetest"
	"github.com/dmitrijs2005/attendkeeper/internal/client/storage"
	"github.com/dmitrijs2005/attendkeeper/internal/client/store"
	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	user = store.User("u1")
	t0   = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
)

type fakeTimer struct{ stopped bool }

func (f *fakeTimer) Stop() bool { f.stopped = true; return true }

type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
	timers []*fakeTimer
	fns    []func()
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{}
	c.delays = append(c.delays, d)
	c.timers = append(c.timers, t)
	c.fns = append(c.fns, f)
	return t
}

type fixture struct {
	store  *store.Store
	remote *remotetest.Remote
	engine *Engine
	clock  *fakeClock
	// now is the store clock; tests move it forward.
	now time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{now: t0}
	f.store = store.New(storage.NewMemoryKV(), logging.NewDiscardLogger(),
		store.WithClock(func() time.Time { return f.now }))
	f.remote = remotetest.New()
	f.engine = New(f.store, f.remote, cfg, logging.NewDiscardLogger())
	f.clock = &fakeClock{}
	f.engine.afterFunc = f.clock.afterFunc
	t.Cleanup(f.engine.Close)
	return f
}

func student(id, name string) *models.Student {
	return &models.Student{Meta: models.Meta{ID: id}, ProfileID: "p1", Name: name}
}

func (f *fixture) upsert(t *testing.T, e models.Entity) {
	t.Helper()
	require.NoError(t, f.store.UpsertEntity(context.Background(), user, e))
}

func TestFlush_DeliversAndClearsOutbox(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	f.upsert(t, &models.Profile{Meta: models.Meta{ID: "p1"}, Name: "Juniors"})
	f.upsert(t, student("s1", "Ann"))
	f.upsert(t, student("s2", "Bob"))

	res, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 3}, res)

	doc := f.store.Load(ctx, user)
	assert.Empty(t, doc.Outbox)
	require.NotNil(t, doc.LastSyncAt)
	assert.Equal(t, t0, *doc.LastSyncAt)
	require.NotEmpty(t, doc.SyncLog)
	assert.Equal(t, "flush complete", doc.SyncLog[len(doc.SyncLog)-1].Message)

	assert.Equal(t, 2, f.remote.Count(models.TableStudents))
	upserts := f.remote.CallsOf("Upsert")
	require.Len(t, upserts, 2)
	assert.Equal(t, models.TableProfiles, upserts[0].Table, "parents are sent first")
}

func TestFlush_FailureKeepsItemsAndCountsAttempt(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.remote.UpsertErr = fmt.Errorf("%w: connection refused", remote.ErrUnavailable)

	res, err := f.engine.Flush(ctx, user)
	require.ErrorIs(t, err, remote.ErrUnavailable)
	assert.Equal(t, 1, res.Failed)

	doc := f.store.Load(ctx, user)
	require.Len(t, doc.Outbox, 1)
	item := doc.Outbox[0]
	assert.Contains(t, []store.Status{store.StatusPending, store.StatusFailed}, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.Contains(t, item.Error, "connection refused")
	require.NotNil(t, item.LastAttempt)
	assert.Nil(t, doc.LastSyncAt)
	assert.Equal(t, store.LogError, doc.SyncLog[len(doc.SyncLog)-1].Level)
}

func TestFlush_BackoffDoublesAndSingleTimer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.MaxRetries = 3
	cfg.MaxAttempts = 10
	f := newFixture(t, cfg)
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.remote.UpsertErr = remote.ErrUnavailable

	for i := 0; i < 4; i++ {
		_, err := f.engine.Flush(ctx, user)
		require.Error(t, err)
	}

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, f.clock.delays)
	for _, tm := range f.clock.timers {
		assert.True(t, tm.stopped, "each new schedule cancels the previous timer")
	}
	count, scheduled := f.engine.RetryState()
	assert.Equal(t, 3, count)
	assert.False(t, scheduled, "no timer once retries are exhausted")

	f.remote.UpsertErr = nil
	_, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)
	count, _ = f.engine.RetryState()
	assert.Equal(t, 0, count)
}

func TestFlush_RetryTimerFlushes(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.remote.UpsertErr = remote.ErrUnavailable

	_, err := f.engine.Flush(ctx, user)
	require.Error(t, err)
	require.Len(t, f.clock.fns, 1)

	f.remote.UpsertErr = nil
	f.clock.fns[0]()

	assert.Empty(t, f.store.Load(ctx, user).Outbox)
	_, scheduled := f.engine.RetryState()
	assert.False(t, scheduled)
}

func TestFlush_ItemFailsAfterMaxAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	f := newFixture(t, cfg)
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.remote.UpsertErr = errors.New("validation failed")

	_, _ = f.engine.Flush(ctx, user)
	assert.Equal(t, store.StatusPending, f.store.Load(ctx, user).Outbox[0].Status)

	_, _ = f.engine.Flush(ctx, user)
	item := f.store.Load(ctx, user).Outbox[0]
	assert.Equal(t, store.StatusFailed, item.Status)
	assert.Equal(t, 2, item.Attempts)

	calls := len(f.remote.CallsOf("Upsert"))
	res, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res, "failed items wait for an explicit retry")
	assert.Len(t, f.remote.CallsOf("Upsert"), calls)

	n, err := f.store.RetryFailedItems(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.remote.UpsertErr = nil
	_, err = f.engine.Flush(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, f.store.Load(ctx, user).Outbox)
}

func TestFlush_PartialBatchAttributesRows(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.upsert(t, student("s2", "Bob"))
	f.remote.Reject = map[string]string{"s2": "invalid: name"}

	res, err := f.engine.Flush(ctx, user)
	require.Error(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)

	doc := f.store.Load(ctx, user)
	require.Len(t, doc.Outbox, 1)
	e, err := doc.Outbox[0].Entity()
	require.NoError(t, err)
	assert.Equal(t, "s2", e.SyncMeta().ID)
	assert.Contains(t, doc.Outbox[0].Error, "invalid: name")
	assert.Equal(t, 1, f.remote.Count(models.TableStudents))
}

func TestFlush_DeleteIsSoftDelete(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	_, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteEntity(ctx, user, models.TableStudents, "s1"))
	_, err = f.engine.Flush(ctx, user)
	require.NoError(t, err)

	deletes := f.remote.CallsOf("SoftDelete")
	require.Len(t, deletes, 1)
	assert.Equal(t, []string{"s1"}, deletes[0].IDs)
	assert.Len(t, f.remote.CallsOf("DeleteByProfiles"), 0)

	row, ok := f.remote.Row(models.TableStudents, "s1")
	require.True(t, ok, "row is kept remotely")
	assert.True(t, row.SyncMeta().Deleted)

	doc := f.store.Load(ctx, user)
	assert.Len(t, doc.Entities.Students, 1)
	assert.Empty(t, doc.Outbox)
}

func TestFlush_CollapsesItemsForSameEntity(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.upsert(t, student("s1", "Ann B."))
	require.NoError(t, f.store.DeleteEntity(ctx, user, models.TableStudents, "s1"))
	f.upsert(t, student("s2", "Bob"))

	res, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Sent)

	upserts := f.remote.CallsOf("Upsert")
	require.Len(t, upserts, 1)
	assert.Equal(t, []string{"s2"}, upserts[0].IDs)
	deletes := f.remote.CallsOf("SoftDelete")
	require.Len(t, deletes, 1)
	assert.Equal(t, []string{"s1"}, deletes[0].IDs)
	assert.Empty(t, f.store.Load(ctx, user).Outbox)
}

func TestFlush_DrainsBacklogInBatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	f := newFixture(t, cfg)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.upsert(t, student(fmt.Sprintf("s%d", i), "kid"))
	}

	res, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 5}, res)

	var sizes []int
	for _, c := range f.remote.CallsOf("Upsert") {
		sizes = append(sizes, len(c.IDs))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, 5, f.remote.Count(models.TableStudents))
	assert.Empty(t, f.store.Load(ctx, user).Outbox)
	_, scheduled := f.engine.RetryState()
	assert.False(t, scheduled)
}

func TestFlush_StopsDrainingAtFailedBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	f := newFixture(t, cfg)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.upsert(t, student(fmt.Sprintf("s%d", i), "kid"))
	}
	f.remote.Reject = map[string]string{"s2": "invalid: name"}

	res, err := f.engine.Flush(ctx, user)
	require.Error(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Remaining)
	assert.Len(t, f.remote.CallsOf("Upsert"), 2)
	_, scheduled := f.engine.RetryState()
	assert.True(t, scheduled)
}

func TestFlush_DeletesKeepTheirOwnTimestamps(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.upsert(t, student("s2", "Bob"))
	_, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteEntity(ctx, user, models.TableStudents, "s1"))
	later := t0.Add(48 * time.Hour)
	f.now = later
	require.NoError(t, f.store.DeleteEntity(ctx, user, models.TableStudents, "s2"))

	_, err = f.engine.Flush(ctx, user)
	require.NoError(t, err)

	deletes := f.remote.CallsOf("SoftDelete")
	require.Len(t, deletes, 2)
	assert.Equal(t, []string{"s1"}, deletes[0].IDs)
	assert.Equal(t, []string{"s2"}, deletes[1].IDs)

	s1, ok := f.remote.Row(models.TableStudents, "s1")
	require.True(t, ok)
	assert.True(t, s1.SyncMeta().UpdatedAt.Equal(t0))
	s2, ok := f.remote.Row(models.TableStudents, "s2")
	require.True(t, ok)
	assert.True(t, s2.SyncMeta().UpdatedAt.Equal(later))
}

func TestFlush_ConcurrentCallIsDropped(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))

	f.remote.Gate = make(chan struct{})
	f.remote.Entered = make(chan struct{})

	done := make(chan Result)
	go func() {
		res, _ := f.engine.Flush(ctx, user)
		done <- res
	}()

	<-f.remote.Entered
	assert.True(t, f.engine.Busy())

	res, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(f.remote.Gate)
	first := <-done
	assert.Equal(t, 1, first.Sent)
	assert.False(t, f.engine.Busy())
	assert.Len(t, f.remote.CallsOf("Upsert"), 1)
}

func TestFlush_RecoversInterruptedItems(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))

	_, err := f.store.Update(ctx, user, func(doc *store.Document) error {
		doc.Outbox[0].Status = store.StatusInflight
		doc.Outbox[0].Attempts = 1
		return nil
	})
	require.NoError(t, err)

	res, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Empty(t, f.store.Load(ctx, user).Outbox)
}

func TestFlush_UnavailableStopsRemainingTables(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, &models.Profile{Meta: models.Meta{ID: "p1"}, Name: "Juniors"})
	f.upsert(t, student("s1", "Ann"))
	f.remote.UpsertErr = remote.ErrUnavailable

	res, err := f.engine.Flush(ctx, user)
	require.ErrorIs(t, err, remote.ErrUnavailable)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, f.remote.CallsOf("Upsert"), 1)
}

func TestFlush_GuestIsNoop(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, f.store.UpsertEntity(ctx, store.Guest(), student("s1", "Ann")))

	res, err := f.engine.Flush(ctx, store.Guest())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, f.remote.Calls)
}

func TestClose_StopsPendingRetry(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.remote.UpsertErr = remote.ErrUnavailable

	_, _ = f.engine.Flush(ctx, user)
	require.Len(t, f.clock.timers, 1)

	f.engine.Close()
	assert.True(t, f.clock.timers[0].stopped)

	f.clock.fns[0]()
	assert.Len(t, f.remote.CallsOf("Upsert"), 1, "a fired timer after Close does nothing")
}

func TestCancelRetry_StopsTimerAndKeepsEngineUsable(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.remote.UpsertErr = fmt.Errorf("%w: down", remote.ErrUnavailable)

	_, err := f.engine.Flush(ctx, user)
	require.Error(t, err)
	require.Len(t, f.clock.timers, 1)

	f.engine.CancelRetry()
	assert.True(t, f.clock.timers[0].stopped)
	count, scheduled := f.engine.RetryState()
	assert.Zero(t, count)
	assert.False(t, scheduled)

	f.remote.UpsertErr = nil
	res, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}
