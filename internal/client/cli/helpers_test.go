package cli

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/config"
	"github.com/dmitrijs2005/attendkeeper/internal/client/migrate"
	"github.com/dmitrijs2005/attendkeeper/internal/client/remote/remotetest"
	"github.com/dmitrijs2005/attendkeeper/internal/client/storage"
	"github.com/dmitrijs2005/attendkeeper/internal/client/store"
	"github.com/dmitrijs2005/attendkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/rpc"
)

var t0 = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

type fakeAuth struct {
	session   rpc.Session
	next      rpc.Session
	signInErr error
	pingErr   error
	tokens    []string
	pings     int
}

func (f *fakeAuth) SignIn(ctx context.Context, idToken string) (rpc.Session, error) {
	f.tokens = append(f.tokens, idToken)
	if f.signInErr != nil {
		return rpc.Session{}, f.signInErr
	}
	f.session = f.next
	return f.session, nil
}
func (f *fakeAuth) SignOut()                       { f.session = rpc.Session{} }
func (f *fakeAuth) Ping(ctx context.Context) error { f.pings++; return f.pingErr }
func (f *fakeAuth) Session() rpc.Session           { return f.session }
func (f *fakeAuth) SetSession(s rpc.Session)       { f.session = s }

type fakeSnapshot struct {
	docs []*store.Document
	err  error
}

func (f *fakeSnapshot) Upload(ctx context.Context, doc *store.Document) (string, error) {
	f.docs = append(f.docs, doc)
	return "snapshots/u1/x.json", f.err
}

type testEnv struct {
	app    *App
	auth   *fakeAuth
	remote *remotetest.Remote
	store  *store.Store
	kv     *storage.MemoryKV
	snap   *fakeSnapshot
	out    *[]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	l := logging.NewDiscardLogger()
	kv := storage.NewMemoryKV()
	s := store.New(kv, l, store.WithClock(func() time.Time { return t0 }))
	r := remotetest.New()
	e := syncer.New(s, r, syncer.Config{BaseDelay: time.Hour}, l)
	t.Cleanup(e.Close)
	m := migrate.New(s, r, l)
	snap := &fakeSnapshot{}
	m.Snapshot = snap
	auth := &fakeAuth{next: rpc.Session{UserID: "u1", Email: "coach@example.com", AccessToken: "a", RefreshToken: "r"}}

	cfg := &config.Config{}
	cfg.LoadDefaults()
	a := newApp(cfg, l, kv, s, auth, e, m, snap)
	a.out = io.Discard

	return &testEnv{app: a, auth: auth, remote: r, store: s, kv: kv, snap: snap, out: captureOutput(t)}
}

// input feeds the answers to the following prompts.
func (env *testEnv) input(lines ...string) {
	text := ""
	for _, l := range lines {
		text += l + "\n"
	}
	env.app.reader = rdr(text)
}

func (env *testEnv) signIn(t *testing.T) {
	t.Helper()
	orig := getSecret
	getSecret = func(string, io.Writer) (string, error) { return "google-token", nil }
	t.Cleanup(func() { getSecret = orig })
	if err := env.app.SignIn(context.Background()); err != nil {
		t.Fatalf("sign in: %v", err)
	}
}
