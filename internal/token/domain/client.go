package domain

// Grant type identifiers the policy layer recognises.
const (
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
)

// ClientPolicy is the per-client policy the registry resolves: which grant
// types the client may use and how long its tokens live. Validity values are
// seconds; nil means "not set, fall back to the engine default" and 0 means
// "never expires".
type ClientPolicy struct {
	ClientID             string
	GrantTypes           []string
	AccessTokenValidity  *int
	RefreshTokenValidity *int
}

// AllowsGrantType reports whether the policy permits the given grant type.
func (p ClientPolicy) AllowsGrantType(grantType string) bool {
	for _, gt := range p.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}
