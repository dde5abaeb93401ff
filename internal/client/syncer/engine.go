// Package syncer drains the local outbox to the remote row store and pulls
// remote rows back into the local store.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/remote"
	"github.com/dmitrijs2005/attendkeeper/internal/client/store"
	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/merge"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
)

type Config struct {
	// BatchSize bounds the items claimed and sent together.
	BatchSize int
	// BaseDelay is the first retry delay; each failed flush doubles it.
	BaseDelay time.Duration
	// MaxRetries bounds consecutive automatic retries.
	MaxRetries int
	// MaxAttempts is the per-item ceiling after which an item is failed.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   50,
		BaseDelay:   time.Second,
		MaxRetries:  5,
		MaxAttempts: 5,
	}
}

// Result summarizes one flush.
type Result struct {
	Skipped   bool
	Sent      int
	Failed    int
	Remaining int
}

type stopper interface {
	Stop() bool
}

// Engine owns the busy flag and retry timer for one process. It is safe for
// concurrent use.
type Engine struct {
	store  *store.Store
	remote remote.Remote
	cfg    Config
	logger logging.Logger

	busy atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	timer      stopper
	retryCount int
	afterFunc  func(d time.Duration, f func()) stopper
}

func New(s *store.Store, r remote.Remote, cfg Config, l logging.Logger) *Engine {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  s,
		remote: r,
		cfg:    cfg,
		logger: l.With("module", "syncer"),
		ctx:    ctx,
		cancel: cancel,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Busy reports whether a flush is running.
func (e *Engine) Busy() bool { return e.busy.Load() }

// RetryState reports the consecutive failure count and whether a retry
// timer is armed.
func (e *Engine) RetryState() (count int, scheduled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryCount, e.timer != nil
}

// Close cancels the retry timer. Flushes already running finish.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Flush drains the pending outbox in batches of BatchSize, stopping at the
// first batch with a failure. A call made while another flush runs returns
// immediately with Result.Skipped set. Remote failures are recorded on the
// items and in the sync log, a retry is scheduled, and the first failure is
// returned.
func (e *Engine) Flush(ctx context.Context, id store.Identity) (Result, error) {
	if id.IsGuest() {
		return Result{}, nil
	}
	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Debug(ctx, "flush already running, dropped", "identity", id.String())
		return Result{Skipped: true}, nil
	}
	defer e.busy.Store(false)

	var res Result
	for ctx.Err() == nil {
		batch, err := e.claim(ctx, id)
		if err != nil {
			return res, fmt.Errorf("claim outbox batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		failures := e.send(ctx, batch)

		doc, err := e.store.Update(ctx, id, func(doc *store.Document) error {
			e.settle(doc, batch, failures)
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("settle outbox batch: %w", err)
		}

		res.Sent += len(batch) - len(failures)
		res.Failed += len(failures)
		res.Remaining = len(doc.Outbox)

		if len(failures) > 0 {
			first := firstFailure(batch, failures)
			e.logger.Warn(ctx, "flush failed", "identity", id.String(), "sent", res.Sent, "failed", res.Failed, "error", first)
			e.scheduleRetry(id)
			return res, first
		}
	}

	if res.Sent > 0 {
		e.logger.Info(ctx, "flush complete", "identity", id.String(), "sent", res.Sent, "remaining", res.Remaining)
	}
	e.resetRetry()
	return res, nil
}

// claim recovers items left inflight by an interrupted run, then marks the
// next batch of pending items inflight.
func (e *Engine) claim(ctx context.Context, id store.Identity) ([]store.OutboxItem, error) {
	var batch []store.OutboxItem
	_, err := e.store.Update(ctx, id, func(doc *store.Document) error {
		now := e.store.Now()
		for i := range doc.Outbox {
			it := &doc.Outbox[i]
			if it.Status == store.StatusInflight {
				e.release(it, "interrupted")
			}
		}
		for i := range doc.Outbox {
			if len(batch) >= e.cfg.BatchSize {
				break
			}
			it := &doc.Outbox[i]
			if it.Status != store.StatusPending {
				continue
			}
			it.Status = store.StatusInflight
			it.Attempts++
			at := now
			it.LastAttempt = &at
			batch = append(batch, *it)
		}
		return nil
	})
	return batch, err
}

func (e *Engine) release(it *store.OutboxItem, reason string) {
	it.Error = reason
	if it.Attempts >= e.cfg.MaxAttempts {
		it.Status = store.StatusFailed
		return
	}
	it.Status = store.StatusPending
}

// send delivers the batch table by table, parents first. It returns the
// failure reason per outbox item id.
func (e *Engine) send(ctx context.Context, batch []store.OutboxItem) map[string]error {
	failures := map[string]error{}
	groups := group(batch)

	var fatal error
	for _, table := range models.AllTables {
		g, ok := groups[table]
		if !ok {
			continue
		}
		if fatal != nil {
			g.failAll(failures, fatal)
			continue
		}

		if err := e.sendUpserts(ctx, table, g, failures); isFatal(err) {
			fatal = err
			g.failAll(failures, fatal)
			continue
		}
		if err := e.sendDeletes(ctx, table, g, failures); isFatal(err) {
			fatal = err
			g.failAll(failures, fatal)
		}
	}
	return failures
}

func isFatal(err error) bool {
	return errors.Is(err, remote.ErrUnavailable) || errors.Is(err, remote.ErrUnauthorized)
}

func (e *Engine) sendUpserts(ctx context.Context, table models.TableName, g *tableGroup, failures map[string]error) error {
	rows := make([]json.RawMessage, 0, len(g.upserts))
	for _, entityID := range g.upserts {
		rows = append(rows, g.latest[entityID].Payload)
	}
	if len(rows) == 0 {
		return nil
	}

	err := e.remote.Upsert(ctx, table, rows)
	if err == nil {
		return nil
	}

	var be *remote.BatchError
	if errors.As(err, &be) {
		for _, entityID := range g.upserts {
			if msg, ok := be.Failed(entityID); ok {
				g.fail(entityID, failures, fmt.Errorf("%s %s rejected: %s", table, entityID, msg))
			}
		}
		return nil
	}

	for _, entityID := range g.upserts {
		g.fail(entityID, failures, err)
	}
	return err
}

func (e *Engine) sendDeletes(ctx context.Context, table models.TableName, g *tableGroup, failures map[string]error) error {
	if len(g.deletes) == 0 {
		return nil
	}

	// One call per tombstone timestamp, so every row keeps its own deletion
	// time remotely.
	now := e.store.Now()
	var order []time.Time
	byAt := map[time.Time][]string{}
	for _, entityID := range g.deletes {
		at := g.tombstoneAt[entityID]
		if at.IsZero() {
			at = now
		}
		at = at.UTC()
		if _, ok := byAt[at]; !ok {
			order = append(order, at)
		}
		byAt[at] = append(byAt[at], entityID)
	}

	var failed error
	for _, at := range order {
		ids := byAt[at]
		err := e.remote.SoftDelete(ctx, table, ids, at)
		if err == nil {
			continue
		}
		for _, entityID := range ids {
			g.fail(entityID, failures, err)
		}
		if isFatal(err) {
			return err
		}
		failed = err
	}
	return failed
}

// settle removes delivered items and returns failed ones to pending, or to
// failed once they reached MaxAttempts.
func (e *Engine) settle(doc *store.Document, batch []store.OutboxItem, failures map[string]error) {
	inBatch := make(map[string]bool, len(batch))
	for _, it := range batch {
		inBatch[it.ID] = true
	}

	kept := doc.Outbox[:0]
	exhausted := 0
	for _, it := range doc.Outbox {
		if !inBatch[it.ID] {
			kept = append(kept, it)
			continue
		}
		err, failed := failures[it.ID]
		if !failed {
			continue
		}
		e.release(&it, err.Error())
		if it.Status == store.StatusFailed {
			exhausted++
		}
		kept = append(kept, it)
	}
	doc.Outbox = kept

	now := e.store.Now()
	sent := len(batch) - len(failures)
	if len(failures) == 0 {
		doc.LastSyncAt = &now
		doc.Log(store.SyncLogEntry{
			At: now, Level: store.LogInfo, Message: "flush complete",
			Details: map[string]any{"sent": sent, "remaining": len(doc.Outbox)},
		})
		return
	}

	doc.Log(store.SyncLogEntry{
		At: now, Level: store.LogError, Message: "flush failed",
		Details: map[string]any{
			"sent":      sent,
			"failed":    len(failures),
			"exhausted": exhausted,
			"error":     firstFailure(batch, failures).Error(),
		},
	})
}

func firstFailure(batch []store.OutboxItem, failures map[string]error) error {
	for _, it := range batch {
		if err, ok := failures[it.ID]; ok {
			return err
		}
	}
	return nil
}

// CancelRetry drops any scheduled retry and resets the backoff. Unlike
// Close, the engine stays usable.
func (e *Engine) CancelRetry() { e.resetRetry() }

func (e *Engine) resetRetry() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryCount = 0
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// scheduleRetry arms a single timer for BaseDelay * 2^retryCount, replacing
// any timer already armed.
func (e *Engine) scheduleRetry(id store.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx.Err() != nil {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.retryCount >= e.cfg.MaxRetries {
		e.logger.Warn(e.ctx, "automatic retries exhausted", "identity", id.String(), "retries", e.retryCount)
		return
	}

	delay := e.cfg.BaseDelay << e.retryCount
	e.retryCount++
	e.logger.Info(e.ctx, "retry scheduled", "identity", id.String(), "delay", delay, "retry", e.retryCount)

	var t stopper
	t = e.afterFunc(delay, func() {
		e.mu.Lock()
		if e.timer == t {
			e.timer = nil
		}
		e.mu.Unlock()
		if e.ctx.Err() != nil {
			return
		}
		_, _ = e.Flush(e.ctx, id)
	})
	e.timer = t
}

// LoadFromCloud fetches every table of the user in parallel and reconciles
// them into the local document. Local rows are never dropped. Queued writes
// older than an adopted remote row are removed from the outbox so a later
// flush cannot overwrite the newer row.
func (e *Engine) LoadFromCloud(ctx context.Context, id store.Identity) (*store.Document, error) {
	if id.IsGuest() {
		return nil, remote.ErrNoSession
	}

	fetched, err := remote.FetchAll(ctx, e.remote, id.UserID)
	if err != nil {
		_ = e.store.AppendSyncLog(ctx, id, store.SyncLogEntry{
			Level: store.LogError, Message: "load from cloud failed",
			Details: map[string]any{"error": err.Error()},
		})
		return nil, err
	}

	doc, err := e.store.Update(ctx, id, func(doc *store.Document) error {
		before := doc.Entities.LiveCount()
		doc.Entities = merge.Tables(doc.Entities, fetched)
		superseded := doc.DropSuperseded()
		doc.Log(store.SyncLogEntry{
			At: e.store.Now(), Level: store.LogInfo, Message: "loaded from cloud",
			Details: map[string]any{
				"remote": fetched.LiveCount(), "before": before, "after": doc.Entities.LiveCount(),
				"superseded": superseded,
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist cloud merge: %w", err)
	}

	e.logger.Info(ctx, "loaded from cloud", "identity", id.String(), "rows", doc.Entities.LiveCount())
	return doc, nil
}
