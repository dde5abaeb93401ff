package models

import (
	"encoding/json"
	"time"
)

// Row is one entity stored by the row store. Data holds the full entity
// JSON; UpdatedAt and Deleted mirror the fields inside it so they can be
// queried without unpacking the document.
type Row struct {
	Table     string
	ID        string
	UserID    string
	Data      json.RawMessage
	UpdatedAt time.Time
	Deleted   bool
}
