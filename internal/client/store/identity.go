package store

import "fmt"

const (
	keyPrefix = "attendkeeper:store:"
	// GuestKey holds the unauthenticated document.
	GuestKey = keyPrefix + "guest"
)

// Identity selects a document. The zero value is the guest.
type Identity struct {
	UserID string
}

// Guest is the unauthenticated identity.
func Guest() Identity { return Identity{} }

// User is the identity of an authenticated account.
func User(id string) Identity { return Identity{UserID: id} }

func (i Identity) IsGuest() bool { return i.UserID == "" }

// Key returns the storage key; user keys never collide with the guest key.
func (i Identity) Key() string {
	if i.IsGuest() {
		return GuestKey
	}
	return fmt.Sprintf("%suser:%s:v%d", keyPrefix, i.UserID, SchemaVersion)
}

func (i Identity) String() string {
	if i.IsGuest() {
		return "guest"
	}
	return "user:" + i.UserID
}
