package domain

import (
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"strings"

	"github.com/aussiebroadwan/tokend/pkg/idx"
)

// Principal is the authenticated resource owner a grant was issued for.
type Principal struct {
	Name        string   `json:"name"`
	Authorities []string `json:"authorities,omitempty"`
}

// Grant links a client, an optional user principal and a granted scope. It
// is the authentication record every token is issued against. Details is
// opaque passthrough metadata and survives refresh cycles untouched.
type Grant struct {
	ID       idx.ID            `json:"id"`
	ClientID string            `json:"client_id"`
	User     *Principal        `json:"user,omitempty"` // nil for client-only grants
	Scope    []string          `json:"scope,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// NewGrant allocates a grant with a fresh record ID. Scope is copied so the
// caller's slice stays independent.
func NewGrant(clientID string, user *Principal, scope []string) Grant {
	return Grant{
		ID:       idx.New(),
		ClientID: clientID,
		User:     user,
		Scope:    append([]string(nil), scope...),
	}
}

// TokenRequest is the client-side request presented at the token endpoint,
// reduced to what the lifecycle engine needs.
type TokenRequest struct {
	ClientID  string
	Scope     []string // empty means keep the original grant scope
	GrantType string
}

// ClientOnly reports whether the grant carries no user principal
// (service-to-service credentials).
func (g Grant) ClientOnly() bool {
	return g.User == nil
}

// Refresh rebases the grant onto a refresh request, producing the grant the
// refreshed access token will be issued against. Scope and details carry
// over; narrowing is the caller's decision via NarrowScope.
func (g Grant) Refresh(req TokenRequest) Grant {
	out := g
	out.Scope = append([]string(nil), g.Scope...)
	if len(g.Details) > 0 {
		out.Details = make(map[string]string, len(g.Details))
		for k, v := range g.Details {
			out.Details[k] = v
		}
	}
	return out
}

// NarrowScope returns a copy of the grant with scope replaced. Callers must
// have verified the new scope is a subset of the current one.
func (g Grant) NarrowScope(scope []string) Grant {
	out := g
	out.Scope = append([]string(nil), scope...)
	return out
}

// HasScope reports whether every requested scope entry is present in the
// grant's scope.
func (g Grant) HasScope(requested []string) bool {
	held := make(map[string]struct{}, len(g.Scope))
	for _, s := range g.Scope {
		held[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := held[s]; !ok {
			return false
		}
	}
	return true
}

// Fingerprint returns a deterministic digest over client, principal and
// sorted scope. Stores index access tokens by it to answer lookup-by-grant.
// Two grants for the same client+user+scope share a fingerprint even though
// issuance never shares the tokens themselves.
func (g Grant) Fingerprint() string {
	scope := append([]string(nil), g.Scope...)
	sort.Strings(scope)

	var user string
	if g.User != nil {
		user = g.User.Name
	}

	h := sha256.New()
	h.Write([]byte(g.ClientID))
	h.Write([]byte{0})
	h.Write([]byte(user))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(scope, " ")))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
