// Package models holds the server-side records persisted by the repositories.
package models

import "time"

// User is an account created on first Google sign-in.
type User struct {
	ID        string
	GoogleSub string
	Email     string
	CreatedAt time.Time
}
