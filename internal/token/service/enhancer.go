package service

import (
	"context"
	"crypto/ed25519"
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// ClaimsEnhancer is a TokenEnhancer that attaches a signed EdDSA assertion
// to each freshly minted access token under Extra["assertion"]. Resource
// servers that cannot reach the engine can verify the assertion offline;
// the opaque token value remains the credential of record.
//
// The enhancer never touches the token's value, expiry, scope or refresh
// link.
type ClaimsEnhancer struct {
	Issuer string
	Key    ed25519.PrivateKey
	Kid    string // optional key identifier for the JWT header
}

var _ TokenEnhancer = (*ClaimsEnhancer)(nil)

func (e *ClaimsEnhancer) Enhance(ctx context.Context, token domain.AccessToken, grant domain.Grant) (domain.AccessToken, error) {
	if len(e.Key) == 0 {
		return domain.AccessToken{}, errors.New("claims enhancer: signing key not configured")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		// jti is the token fingerprint, not the token value: the assertion
		// must not become a second usable credential.
		"jti": cryptox.FingerprintToken(token.Value),
		"iss": e.Issuer,
		"cid": grant.ClientID,
		"scp": strings.Join(token.Scope, " "),
		"iat": now.Unix(),
	}
	if grant.User != nil {
		claims["sub"] = grant.User.Name
	} else {
		claims["sub"] = grant.ClientID
	}
	if token.ExpiresAt != nil {
		claims["exp"] = token.ExpiresAt.Unix()
	}

	assertion := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	if e.Kid != "" {
		assertion.Header["kid"] = e.Kid
	}

	signed, err := assertion.SignedString(e.Key)
	if err != nil {
		return domain.AccessToken{}, err
	}

	out := token
	out.Extra = make(map[string]string, len(token.Extra)+1)
	for k, v := range token.Extra {
		out.Extra[k] = v
	}
	out.Extra["assertion"] = signed
	return out, nil
}
