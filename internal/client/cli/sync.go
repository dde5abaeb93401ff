package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/store"
)

// logTail is how many sync log entries 'log' prints.
const logTail = 20

func (a *App) requireSignIn() error {
	if !a.isSignedIn() {
		return errNotSignedIn
	}
	return nil
}

// Status prints the identity, connectivity and outbox state.
func (a *App) Status(ctx context.Context) error {
	doc := a.store.Load(ctx, a.identity())
	counts := doc.CountByStatus()
	retries, scheduled := a.engine.RetryState()

	last := "never"
	if doc.LastSyncAt != nil {
		last = doc.LastSyncAt.Local().Format(time.DateTime)
	}
	printlnFn(fmt.Sprintf("identity: %s (%s)", a.identity(), a.Mode()))
	printlnFn(fmt.Sprintf("records: %d live, migrated: %t", doc.Entities.LiveCount(), doc.Migrated))
	printlnFn(fmt.Sprintf("outbox: %d pending, %d inflight, %d failed",
		counts[store.StatusPending], counts[store.StatusInflight], counts[store.StatusFailed]))
	printlnFn(fmt.Sprintf("last sync: %s, retries: %d, retry scheduled: %t", last, retries, scheduled))
	return nil
}

// Sync flushes the outbox now.
func (a *App) Sync(ctx context.Context) error {
	if err := a.requireSignIn(); err != nil {
		return err
	}
	res, err := a.engine.Flush(ctx, a.identity())
	switch {
	case res.Skipped:
		printlnFn("A sync is already running")
	case err != nil:
		return fmt.Errorf("sent %d, failed %d: %w", res.Sent, res.Failed, err)
	default:
		printlnFn(fmt.Sprintf("Sent %d, remaining %d", res.Sent, res.Remaining))
	}
	return nil
}

// Pull loads every table from the cloud and merges it locally.
func (a *App) Pull(ctx context.Context) error {
	if err := a.requireSignIn(); err != nil {
		return err
	}
	views, err := a.facade.LoadProfiles(ctx, a.userID())
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Loaded %d profiles", len(views)))
	return nil
}

func (a *App) migrate(ctx context.Context) error {
	doc, err := a.migrator.MigrateGuest(ctx, a.userID())
	if err != nil {
		return err
	}
	a.logger.Info(ctx, "guest store migrated", "records", doc.Entities.LiveCount())
	return nil
}

// Migrate moves the guest store into the signed-in account. Running it again
// after a success does nothing.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.requireSignIn(); err != nil {
		return err
	}
	if err := a.migrate(ctx); err != nil {
		return err
	}
	printlnFn("Guest data migrated")
	return nil
}

// Retry re-queues failed outbox items and flushes.
func (a *App) Retry(ctx context.Context) error {
	if err := a.requireSignIn(); err != nil {
		return err
	}
	n, err := a.store.RetryFailedItems(ctx, a.identity())
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Re-queued %d items", n))
	a.flush(ctx)
	return nil
}

// Log prints the most recent sync log entries.
func (a *App) Log(ctx context.Context) error {
	entries := a.store.Load(ctx, a.identity()).SyncLog
	if len(entries) == 0 {
		printlnFn("Sync log is empty")
		return nil
	}
	if len(entries) > logTail {
		entries = entries[len(entries)-logTail:]
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s [%s] %s", e.At.Local().Format(time.DateTime), e.Level, e.Message)
		if len(e.Details) > 0 {
			line += fmt.Sprintf(" %v", e.Details)
		}
		printlnFn(line)
	}
	return nil
}

// Backup uploads a snapshot of the current store.
func (a *App) Backup(ctx context.Context) error {
	if err := a.requireSignIn(); err != nil {
		return err
	}
	key, err := a.backup.Upload(ctx, a.store.Load(ctx, a.identity()))
	if err != nil {
		return err
	}
	printlnFn("Snapshot stored as", key)
	return nil
}
