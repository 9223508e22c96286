package domain

import "time"

// AccessToken is an opaque bearer credential presented to resource servers.
// Tokens are immutable once issued; a refresh produces a brand-new record
// rather than mutating this one.
type AccessToken struct {
	Value        string            `json:"value"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"` // nil means non-expiring
	Scope        []string          `json:"scope,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"` // value of the linked refresh token, "" if none
	Extra        map[string]string `json:"extra,omitempty"`         // opaque enhancer claims
}

// Expired reports whether the token's expiry has passed at the given instant.
// Non-expiring tokens (nil ExpiresAt) are never expired. Expiry is evaluated
// by wall-clock comparison only; expired records stay in the store until
// explicitly removed.
func (t AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// RefreshToken is the longer-lived credential used solely to obtain a new
// access token without re-authenticating. At most one access token is
// derived from a given refresh token at any time.
type RefreshToken struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil means non-expiring
}

// Expired reports whether the refresh token's expiry has passed.
func (t RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
