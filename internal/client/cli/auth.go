package cli

import (
	"context"
	"fmt"
)

// getSimpleText and getSecret are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getSecret = GetSecret

// SignIn exchanges a Google ID token for a session, migrates the guest store
// into the account and pushes anything queued.
//
// A failed migration does not undo the sign-in: the guest data stays where it
// is and 'migrate' retries it.
func (a *App) SignIn(ctx context.Context) error {
	token, err := getSecret("Google ID token", a.out)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("empty ID token")
	}

	s, err := a.auth.SignIn(ctx, token)
	if err != nil {
		a.logger.Warn(ctx, "sign in failed", "error", err)
		return err
	}
	if err := a.saveSession(ctx, s); err != nil {
		a.logger.Warn(ctx, "failed to persist session", "error", err)
	}
	a.setMode(ctx, ModeOnline)
	printlnFn(fmt.Sprintf("Signed in as %s", orDash(s.Email)))

	if err := a.migrate(ctx); err != nil {
		printlnFn("Guest data was not migrated, use 'migrate' to retry:", err)
	}
	a.flush(ctx)
	return nil
}

// SignOut forgets the session. Local user data stays on disk for the next
// sign-in; new records go to the guest store again.
func (a *App) SignOut(ctx context.Context) error {
	if !a.isSignedIn() {
		return errNotSignedIn
	}
	a.engine.CancelRetry()
	a.auth.SignOut()
	if err := a.saveSession(ctx, a.auth.Session()); err != nil {
		return err
	}
	printlnFn("Signed out")
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
