package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tazhibayda/identity-service/internal/clock"
	"github.com/tazhibayda/identity-service/internal/domain"
	"github.com/tazhibayda/identity-service/internal/helper"
	"github.com/tazhibayda/identity-service/internal/metrics"
	"go.uber.org/zap"
)

type Redis struct{ C *redis.Client }

func NewRedis(addr string) *Redis {
	return &Redis{C: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *Redis) Ping(ctx context.Context) error { return r.C.Ping(ctx).Err() }
func (r *Redis) Close() error                   { return r.C.Close() }

const tokenKeyPrefix = "identity:authtoken:"

type cachedToken struct {
	UserID string    `json:"u"`
	Expiry time.Time `json:"e"`
}

// CachedTokens is a read-through cache for auth token lookups. The cached
// entry keeps the expiry, so validity is still decided by the caller against
// its clock. Redis failures degrade to the backing store.
type CachedTokens struct {
	next  TokenStore
	rdb   *Redis
	ttl   time.Duration
	clock clock.Clock
	log   *zap.Logger
}

func NewCachedTokens(next TokenStore, rdb *Redis, ttl time.Duration, clk clock.Clock, log *zap.Logger) *CachedTokens {
	return &CachedTokens{next: next, rdb: rdb, ttl: ttl, clock: clk, log: log}
}

// keys are hashed so raw tokens never sit in Redis.
func tokenKey(token string) string {
	return tokenKeyPrefix + helper.SHA256Hex(token)
}

func (c *CachedTokens) InsertAuthToken(ctx context.Context, tok domain.AuthToken) error {
	if err := c.next.InsertAuthToken(ctx, tok); err != nil {
		return err
	}
	c.put(ctx, tok)
	return nil
}

func (c *CachedTokens) FindAuthToken(ctx context.Context, token string) (domain.AuthToken, error) {
	raw, err := c.rdb.C.Get(ctx, tokenKey(token)).Bytes()
	switch {
	case err == nil:
		var ct cachedToken
		if jerr := json.Unmarshal(raw, &ct); jerr == nil {
			metrics.TokenCache.WithLabelValues("hit").Inc()
			return domain.AuthToken{Token: token, UserID: ct.UserID, ExpiryTime: ct.Expiry}, nil
		}
		c.log.Warn("token cache: bad entry")
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("token cache: get failed", zap.Error(err))
	}
	metrics.TokenCache.WithLabelValues("miss").Inc()

	tok, err := c.next.FindAuthToken(ctx, token)
	if err != nil {
		return domain.AuthToken{}, err
	}
	c.put(ctx, tok)
	return tok, nil
}

func (c *CachedTokens) put(ctx context.Context, tok domain.AuthToken) {
	ttl := c.ttl
	if left := tok.ExpiryTime.Sub(c.clock.Now()); left < ttl {
		ttl = left
	}
	if ttl <= 0 {
		return
	}
	b, err := json.Marshal(cachedToken{UserID: tok.UserID, Expiry: tok.ExpiryTime})
	if err != nil {
		return
	}
	if err := c.rdb.C.Set(ctx, tokenKey(tok.Token), b, ttl).Err(); err != nil {
		c.log.Warn("token cache: set failed", zap.Error(err))
	}
}
