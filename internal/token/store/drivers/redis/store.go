// Package redis provides a Store backed by a single Redis instance. Records
// are keyed by the SHA-256 fingerprint of the token value; two small index
// keys answer "access token for this refresh token" and "latest access
// token for this grant". The at-most-once removal guarantees ride on
// GETDEL/DEL atomicity, with compare-and-delete Lua for index cleanup.
//
// No record carries a Redis TTL: expiry stays lazy, enforced by the engine
// on read and refresh paths and by the administrative purge, matching the
// other drivers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/store"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/redis/go-redis/v9"
)

const (
	accessPrefix        = "tokend:access:"
	refreshPrefix       = "tokend:refresh:"
	accessByRefreshKey  = "tokend:axr:" // refresh fingerprint -> access fingerprint
	accessByGrantKey    = "tokend:axg:" // grant fingerprint -> latest access fingerprint
	fieldToken          = "token"
	fieldGrant          = "grant"
	fieldGrantFP        = "grant_fp"
	fieldRefreshFP      = "refresh_fp"
)

// consumeByRefreshScript atomically claims the access-token index entry for
// a refresh token and deletes the access record it points at. GETDEL is the
// serialization point: across concurrent callers exactly one sees the
// index value.
const consumeByRefreshScript = `
local afp = redis.call("GETDEL", KEYS[1])
if not afp then
  return 0
end
local akey = ARGV[1] .. afp
local gfp = redis.call("HGET", akey, "grant_fp")
redis.call("DEL", akey)
if gfp then
  local gkey = ARGV[2] .. gfp
  if redis.call("GET", gkey) == afp then
    redis.call("DEL", gkey)
  end
end
return 1
`

// compareAndDelScript deletes KEYS[1] only while it still points at
// ARGV[1], so a stale index entry never takes out a newer token's index.
const compareAndDelScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	consumeByRefreshLua = redis.NewScript(consumeByRefreshScript)
	compareAndDelLua    = redis.NewScript(compareAndDelScript)
)

type Store struct {
	client *redis.Client
}

var _ store.Store = (*Store)(nil)

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) StoreAccessToken(ctx context.Context, token domain.AccessToken, grant domain.Grant) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return err
	}
	grantJSON, err := json.Marshal(grant)
	if err != nil {
		return err
	}

	fp := cryptox.FingerprintToken(token.Value)
	gfp := grant.Fingerprint()
	var rfp string
	if token.RefreshToken != "" {
		rfp = cryptox.FingerprintToken(token.RefreshToken)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, accessPrefix+fp,
			fieldToken, string(tokenJSON),
			fieldGrant, string(grantJSON),
			fieldGrantFP, gfp,
			fieldRefreshFP, rfp,
		)
		if rfp != "" {
			pipe.Set(ctx, accessByRefreshKey+rfp, fp, 0)
		}
		pipe.Set(ctx, accessByGrantKey+gfp, fp, 0)
		return nil
	})
	return err
}

func (s *Store) ReadAccessToken(ctx context.Context, value string) (domain.AccessToken, error) {
	raw, err := s.client.HGet(ctx, accessPrefix+cryptox.FingerprintToken(value), fieldToken).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AccessToken{}, store.ErrNotFound
		}
		return domain.AccessToken{}, err
	}

	var token domain.AccessToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return domain.AccessToken{}, err
	}
	return token, nil
}

func (s *Store) RemoveAccessToken(ctx context.Context, token domain.AccessToken) error {
	fp := cryptox.FingerprintToken(token.Value)
	akey := accessPrefix + fp

	fields, err := s.client.HMGet(ctx, akey, fieldGrantFP, fieldRefreshFP).Result()
	if err != nil {
		return err
	}

	if err := s.client.Del(ctx, akey).Err(); err != nil {
		return err
	}

	if gfp, ok := fields[0].(string); ok && gfp != "" {
		if err := compareAndDelLua.Run(ctx, s.client, []string{accessByGrantKey + gfp}, fp).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
	}
	if rfp, ok := fields[1].(string); ok && rfp != "" {
		if err := compareAndDelLua.Run(ctx, s.client, []string{accessByRefreshKey + rfp}, fp).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
	}
	return nil
}

func (s *Store) RemoveAccessTokenUsingRefreshToken(ctx context.Context, refreshValue string) (bool, error) {
	rfp := cryptox.FingerprintToken(refreshValue)
	n, err := consumeByRefreshLua.Run(ctx, s.client,
		[]string{accessByRefreshKey + rfp},
		accessPrefix, accessByGrantKey,
	).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) StoreRefreshToken(ctx context.Context, token domain.RefreshToken, grant domain.Grant) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return err
	}
	grantJSON, err := json.Marshal(grant)
	if err != nil {
		return err
	}

	return s.client.HSet(ctx, refreshPrefix+cryptox.FingerprintToken(token.Value),
		fieldToken, string(tokenJSON),
		fieldGrant, string(grantJSON),
	).Err()
}

func (s *Store) ReadRefreshToken(ctx context.Context, value string) (domain.RefreshToken, error) {
	raw, err := s.client.HGet(ctx, refreshPrefix+cryptox.FingerprintToken(value), fieldToken).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RefreshToken{}, store.ErrNotFound
		}
		return domain.RefreshToken{}, err
	}

	var token domain.RefreshToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return domain.RefreshToken{}, err
	}
	return token, nil
}

func (s *Store) RemoveRefreshToken(ctx context.Context, value string) (bool, error) {
	n, err := s.client.Del(ctx, refreshPrefix+cryptox.FingerprintToken(value)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ReadAuthentication(ctx context.Context, accessValue string) (domain.Grant, error) {
	return s.readGrant(ctx, accessPrefix+cryptox.FingerprintToken(accessValue))
}

func (s *Store) ReadAuthenticationForRefreshToken(ctx context.Context, refreshValue string) (domain.Grant, error) {
	return s.readGrant(ctx, refreshPrefix+cryptox.FingerprintToken(refreshValue))
}

func (s *Store) readGrant(ctx context.Context, key string) (domain.Grant, error) {
	raw, err := s.client.HGet(ctx, key, fieldGrant).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Grant{}, store.ErrNotFound
		}
		return domain.Grant{}, err
	}

	var grant domain.Grant
	if err := json.Unmarshal([]byte(raw), &grant); err != nil {
		return domain.Grant{}, err
	}
	return grant, nil
}

func (s *Store) GetAccessToken(ctx context.Context, grant domain.Grant) (domain.AccessToken, error) {
	fp, err := s.client.Get(ctx, accessByGrantKey+grant.Fingerprint()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AccessToken{}, store.ErrNotFound
		}
		return domain.AccessToken{}, err
	}

	raw, err := s.client.HGet(ctx, accessPrefix+fp, fieldToken).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AccessToken{}, store.ErrNotFound
		}
		return domain.AccessToken{}, err
	}

	var token domain.AccessToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return domain.AccessToken{}, err
	}
	return token, nil
}

func (s *Store) DeleteExpiredAccessTokens(ctx context.Context) error {
	now := time.Now()
	return s.scan(ctx, accessPrefix+"*", func(key string) error {
		raw, err := s.client.HGet(ctx, key, fieldToken).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		var t domain.AccessToken
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return err
		}
		if t.Expired(now) {
			return s.RemoveAccessToken(ctx, t)
		}
		return nil
	})
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context) error {
	now := time.Now()
	return s.scan(ctx, refreshPrefix+"*", func(key string) error {
		raw, err := s.client.HGet(ctx, key, fieldToken).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		var t domain.RefreshToken
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return err
		}
		if t.Expired(now) {
			return s.client.Del(ctx, key).Err()
		}
		return nil
	})
}

func (s *Store) scan(ctx context.Context, pattern string, fn func(key string) error) error {
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasPrefix(key, accessPrefix) && !strings.HasPrefix(key, refreshPrefix) {
			continue
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return iter.Err()
}

// WithTx runs fn against the store itself. Redis offers no interactive
// transactions over this access pattern; every individual operation is
// already atomic.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.client.Close() }
