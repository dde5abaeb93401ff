// Package cli provides the interactive attendkeeper command-line client.
//
// It wires configuration, the local SQLite-backed store, the sync engine, the
// guest migrator and an interactive REPL. The client works offline from the
// first keystroke: records are kept in a guest store until the user signs in,
// after which they are migrated once and every later change goes through the
// outbox. A background watcher pings the server and flushes the outbox when
// connectivity comes back.
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
package cli
