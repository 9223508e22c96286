package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
)

// ErrClientNotRegistered is returned by a ClientRegistry when the client id
// does not resolve.
var ErrClientNotRegistered = errors.New("client not registered")

// ClientRegistry resolves per-client policy: allowed grant types and token
// validity windows. It is an external collaborator; when unset the engine
// falls back to its own defaults.
type ClientRegistry interface {
	LoadClientByClientID(ctx context.Context, clientID string) (domain.ClientPolicy, error)
}

// Reauthenticator re-validates a previously authenticated user principal at
// refresh time, defending against principal state changes such as disabled
// accounts. Failures propagate to the refresh caller unswallowed.
type Reauthenticator interface {
	Authenticate(ctx context.Context, principal domain.Principal) (domain.Principal, error)
}

// TokenEnhancer post-processes a freshly minted access token before it is
// persisted, e.g. to embed extra claims. Implementations may add entries to
// Extra but must not change the token's value, expiry, scope or refresh
// link.
type TokenEnhancer interface {
	Enhance(ctx context.Context, token domain.AccessToken, grant domain.Grant) (domain.AccessToken, error)
}

// StaticRegistry is a map-backed ClientRegistry for tests and embedding.
type StaticRegistry struct {
	Clients map[string]domain.ClientPolicy
}

var _ ClientRegistry = (*StaticRegistry)(nil)

func (r *StaticRegistry) LoadClientByClientID(ctx context.Context, clientID string) (domain.ClientPolicy, error) {
	policy, ok := r.Clients[clientID]
	if !ok {
		return domain.ClientPolicy{}, fmt.Errorf("%w: %s", ErrClientNotRegistered, clientID)
	}
	return policy, nil
}
