package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
)

// queries implements the token persistence operations against either the
// root database connection or a transaction. Rows are keyed by the SHA-256
// fingerprint of the token value so raw bearer values never appear in an
// index; the serialized record carries the value itself, which is what the
// read paths hand back.
type queries struct {
	db dbtx
}

func (q queries) StoreAccessToken(ctx context.Context, token domain.AccessToken, grant domain.Grant) error {
	tokenJSON, err := marshalAccessToken(token)
	if err != nil {
		return err
	}
	grantJSON, err := marshalGrant(grant)
	if err != nil {
		return err
	}

	var refreshID string
	if token.RefreshToken != "" {
		refreshID = cryptox.FingerprintToken(token.RefreshToken)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO access_tokens (token_id, token, expires_at, refresh_token_id, grant_fingerprint, authentication, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cryptox.FingerprintToken(token.Value),
		tokenJSON,
		mapOptionalTime(token.ExpiresAt),
		refreshID,
		grant.Fingerprint(),
		grantJSON,
		time.Now().UTC(),
	)
	return err
}

func (q queries) ReadAccessToken(ctx context.Context, value string) (domain.AccessToken, error) {
	var tokenJSON string
	err := q.db.QueryRowContext(ctx,
		`SELECT token FROM access_tokens WHERE token_id = ?`,
		cryptox.FingerprintToken(value),
	).Scan(&tokenJSON)
	if err != nil {
		return domain.AccessToken{}, mapNotFound(err)
	}
	return unmarshalAccessToken(tokenJSON)
}

func (q queries) RemoveAccessToken(ctx context.Context, token domain.AccessToken) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE token_id = ?`,
		cryptox.FingerprintToken(token.Value),
	)
	return err
}

func (q queries) RemoveAccessTokenUsingRefreshToken(ctx context.Context, refreshValue string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE refresh_token_id = ? AND refresh_token_id != ''`,
		cryptox.FingerprintToken(refreshValue),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (q queries) StoreRefreshToken(ctx context.Context, token domain.RefreshToken, grant domain.Grant) error {
	tokenJSON, err := marshalRefreshToken(token)
	if err != nil {
		return err
	}
	grantJSON, err := marshalGrant(grant)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_id, token, expires_at, authentication, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		cryptox.FingerprintToken(token.Value),
		tokenJSON,
		mapOptionalTime(token.ExpiresAt),
		grantJSON,
		time.Now().UTC(),
	)
	return err
}

func (q queries) ReadRefreshToken(ctx context.Context, value string) (domain.RefreshToken, error) {
	var tokenJSON string
	err := q.db.QueryRowContext(ctx,
		`SELECT token FROM refresh_tokens WHERE token_id = ?`,
		cryptox.FingerprintToken(value),
	).Scan(&tokenJSON)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	return unmarshalRefreshToken(tokenJSON)
}

func (q queries) RemoveRefreshToken(ctx context.Context, value string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE token_id = ?`,
		cryptox.FingerprintToken(value),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (q queries) ReadAuthentication(ctx context.Context, accessValue string) (domain.Grant, error) {
	var grantJSON string
	err := q.db.QueryRowContext(ctx,
		`SELECT authentication FROM access_tokens WHERE token_id = ?`,
		cryptox.FingerprintToken(accessValue),
	).Scan(&grantJSON)
	if err != nil {
		return domain.Grant{}, mapNotFound(err)
	}
	return unmarshalGrant(grantJSON)
}

func (q queries) ReadAuthenticationForRefreshToken(ctx context.Context, refreshValue string) (domain.Grant, error) {
	var grantJSON string
	err := q.db.QueryRowContext(ctx,
		`SELECT authentication FROM refresh_tokens WHERE token_id = ?`,
		cryptox.FingerprintToken(refreshValue),
	).Scan(&grantJSON)
	if err != nil {
		return domain.Grant{}, mapNotFound(err)
	}
	return unmarshalGrant(grantJSON)
}

func (q queries) GetAccessToken(ctx context.Context, grant domain.Grant) (domain.AccessToken, error) {
	var tokenJSON string
	err := q.db.QueryRowContext(ctx, `
		SELECT token FROM access_tokens
		WHERE grant_fingerprint = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		grant.Fingerprint(),
	).Scan(&tokenJSON)
	if err != nil {
		return domain.AccessToken{}, mapNotFound(err)
	}
	return unmarshalAccessToken(tokenJSON)
}

func (q queries) DeleteExpiredAccessTokens(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE expires_at IS NOT NULL AND expires_at < ?`,
		time.Now().UTC(),
	)
	return err
}

func (q queries) DeleteExpiredRefreshTokens(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at IS NOT NULL AND expires_at < ?`,
		time.Now().UTC(),
	)
	return err
}
