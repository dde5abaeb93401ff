package rpc

import (
	"encoding/json"
	"time"
)

type SignInRequest struct {
	IDToken string `json:"id_token"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Session is returned by SignIn and Refresh.
type Session struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type PingResponse struct {
	Status string `json:"status"`
}

type SelectRequest struct {
	Table  string `json:"table"`
	UserID string `json:"user_id"`
}

type SelectResponse struct {
	Rows []json.RawMessage `json:"rows"`
}

type UpsertRequest struct {
	Table string            `json:"table"`
	Rows  []json.RawMessage `json:"rows"`
}

// RowFailure reports one rejected row of a batch.
type RowFailure struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Failure codes carried by RowFailure.
const (
	CodeInvalid  = "invalid"
	CodeConflict = "conflict"
	CodeInternal = "internal"
)

type UpsertResponse struct {
	Written int          `json:"written"`
	Failed  []RowFailure `json:"failed"`
}

type SoftDeleteRequest struct {
	Table string    `json:"table"`
	IDs   []string  `json:"ids"`
	At    time.Time `json:"at"`
}

type SoftDeleteResponse struct {
	Updated int `json:"updated"`
}

type DeleteByProfilesRequest struct {
	Table      string   `json:"table"`
	UserID     string   `json:"user_id"`
	ProfileIDs []string `json:"profile_ids"`
}

type DeleteByProfilesResponse struct {
	Deleted int `json:"deleted"`
}

type PresignResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}
