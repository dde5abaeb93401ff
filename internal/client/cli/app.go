package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/backup"
	"github.com/dmitrijs2005/attendkeeper/internal/client/cloudsync"
	"github.com/dmitrijs2005/attendkeeper/internal/client/config"
	"github.com/dmitrijs2005/attendkeeper/internal/client/migrate"
	"github.com/dmitrijs2005/attendkeeper/internal/client/remote"
	"github.com/dmitrijs2005/attendkeeper/internal/client/storage"
	"github.com/dmitrijs2005/attendkeeper/internal/client/store"
	"github.com/dmitrijs2005/attendkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/rpc"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// sessionKey holds the persisted tokens in the local KV store.
const sessionKey = "attendkeeper:session"

var errNotSignedIn = errors.New("not signed in, use 'signin' first")

// authClient is the part of the remote client the App needs for sessions.
type authClient interface {
	SignIn(ctx context.Context, idToken string) (rpc.Session, error)
	SignOut()
	Ping(ctx context.Context) error
	Session() rpc.Session
	SetSession(s rpc.Session)
}

type App struct {
	config   *config.Config
	logger   logging.Logger
	kv       storage.KV
	store    *store.Store
	auth     authClient
	engine   *syncer.Engine
	migrator *migrate.Migrator
	facade   *cloudsync.Facade
	backup   migrate.Snapshotter

	mu   sync.Mutex
	mode Mode

	reader  *bufio.Reader
	out     io.Writer
	closers []func() error
}

// NewApp opens the local database, imports any legacy data and connects the
// sync components to the server at c.ServerEndpointAddr.
func NewApp(ctx context.Context, c *config.Config, l logging.Logger) (*App, error) {
	db, err := storage.Open(ctx, c.DataFile)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	kv := storage.NewSQLiteKV(db)

	client, err := remote.Dial(c.ServerEndpointAddr, l)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := store.New(kv, l)
	engine := syncer.New(s, client, syncer.Config{
		BatchSize:   c.BatchSize,
		BaseDelay:   c.RetryBaseDelay,
		MaxRetries:  c.MaxRetries,
		MaxAttempts: c.MaxAttempts,
	}, l)

	uploader := backup.NewUploader(client)
	m := migrate.New(s, client, l)
	m.ConflictWindow = c.ConflictWindow
	m.Snapshot = uploader

	a := newApp(c, l, kv, s, client, engine, m, uploader)
	a.closers = append(a.closers, client.Close, db.Close)

	if imported, err := s.ImportLegacy(ctx); err != nil {
		l.Warn(ctx, "legacy import failed", "error", err)
	} else if imported {
		l.Info(ctx, "legacy profiles imported into guest store")
	}

	a.restoreSession(ctx)
	client.OnSession(func(sess rpc.Session) {
		if err := a.saveSession(context.Background(), sess); err != nil {
			l.Warn(context.Background(), "failed to persist session", "error", err)
		}
	})

	return a, nil
}

func newApp(c *config.Config, l logging.Logger, kv storage.KV, s *store.Store, auth authClient,
	engine *syncer.Engine, m *migrate.Migrator, snap migrate.Snapshotter) *App {
	return &App{
		config:   c,
		logger:   l.With("module", "cli"),
		kv:       kv,
		store:    s,
		auth:     auth,
		engine:   engine,
		migrator: m,
		facade:   cloudsync.New(s, engine, l),
		backup:   snap,
		mode:     ModeOffline,
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}
}

// Close stops pending retries and releases the connection and database.
func (a *App) Close() {
	a.engine.Close()
	for _, c := range a.closers {
		_ = c()
	}
}

func (a *App) userID() string { return a.auth.Session().UserID }

func (a *App) isSignedIn() bool { return a.userID() != "" }

func (a *App) identity() store.Identity {
	if id := a.userID(); id != "" {
		return store.User(id)
	}
	return store.Guest()
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// setMode records the connectivity mode and reports whether it changed.
func (a *App) setMode(ctx context.Context, mode Mode) bool {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()
	if changed {
		a.logger.Info(ctx, "switched mode", "mode", mode)
	}
	return changed
}

func (a *App) restoreSession(ctx context.Context) {
	raw, err := a.kv.Get(ctx, sessionKey)
	if err != nil || raw == nil {
		return
	}
	var s rpc.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		a.logger.Warn(ctx, "discarding unreadable session", "error", err)
		return
	}
	a.auth.SetSession(s)
}

func (a *App) saveSession(ctx context.Context, s rpc.Session) error {
	if s.UserID == "" {
		return a.kv.Delete(ctx, sessionKey)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return a.kv.Set(ctx, sessionKey, raw)
}

// flush pushes the outbox when signed in. Failures are left to the engine's
// retry schedule and only logged.
func (a *App) flush(ctx context.Context) {
	if !a.isSignedIn() {
		return
	}
	if _, err := a.engine.Flush(ctx, a.identity()); err != nil {
		a.logger.Warn(ctx, "flush failed", "error", err)
	}
}

// checkOnline pings the server once and updates the mode. Coming back online
// triggers a flush.
func (a *App) checkOnline(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := a.auth.Ping(pctx)
	cancel()

	if err != nil {
		a.setMode(ctx, ModeOffline)
		return
	}
	if a.setMode(ctx, ModeOnline) {
		a.flush(ctx)
	}
}

// StartOnlineStatusWatcher pings the server every interval until ctx ends.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	a.checkOnline(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}
