// Package common contains shared constants and sentinel errors used across
// attendkeeper components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"
