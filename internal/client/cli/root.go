package cli

import (
	"context"
	"fmt"
)

func (a *App) getStatus() string {
	s := "guest"
	if a.isSignedIn() {
		s = a.auth.Session().Email
		if s == "" {
			s = a.userID()
		}
	}
	return fmt.Sprintf("(%s %s)", s, a.Mode())
}

// Root runs the online watcher and the REPL until the user exits.
func (a *App) Root(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	printlnFn("Welcome to attendkeeper (type 'help' for commands)")
	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)

	runREPL(ctx, a, a.getStatus, a.reader)
}
