package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/storage/postgres"
)

// credCacheTTL bounds how long a deactivated org keeps authenticating
// through the cache.
const credCacheTTL = 5 * time.Minute

const credCachePrefix = "org:cred:"

// cachedOrg is the subset of the org row the HMAC gate needs.
type cachedOrg struct {
	OrgID            string `json:"org_id"`
	Name             string `json:"name"`
	ClientSecretHash string `json:"client_secret_hash"`
	IsActive         bool   `json:"is_active"`
}

// CredentialCache fronts org-by-client-id lookups with Redis. Every signed
// request hits this path, so the database only sees cache misses.
type CredentialCache struct {
	store  OrgResolver
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCredentialCache wraps store with a Redis cache.
func NewCredentialCache(store OrgResolver, client *redis.Client, logger zerolog.Logger) *CredentialCache {
	return &CredentialCache{
		store:  store,
		client: client,
		ttl:    credCacheTTL,
		logger: logger.With().Str("component", "cred-cache").Logger(),
	}
}

// GetOrgByClientIDHash resolves through the cache, falling back to the store
// on miss or Redis failure. Cache errors never fail the request.
func (c *CredentialCache) GetOrgByClientIDHash(ctx context.Context, clientIDHash string) (postgres.Org, error) {
	key := credCachePrefix + clientIDHash

	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var cached cachedOrg
		if jerr := json.Unmarshal([]byte(raw), &cached); jerr == nil {
			orgID, perr := uuid.Parse(cached.OrgID)
			if perr == nil {
				return postgres.Org{
					ID:               orgID,
					Name:             cached.Name,
					ClientIDHash:     clientIDHash,
					ClientSecretHash: cached.ClientSecretHash,
					IsActive:         cached.IsActive,
				}, nil
			}
		}
		// Corrupt entry: fall through to the store and overwrite.
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Msg("cache read failed, falling back to store")
	}

	org, err := c.store.GetOrgByClientIDHash(ctx, clientIDHash)
	if err != nil {
		return postgres.Org{}, err
	}

	payload, merr := json.Marshal(cachedOrg{
		OrgID:            org.ID.String(),
		Name:             org.Name,
		ClientSecretHash: org.ClientSecretHash,
		IsActive:         org.IsActive,
	})
	if merr == nil {
		if serr := c.client.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
			c.logger.Warn().Err(serr).Msg("cache write failed")
		}
	}
	return org, nil
}

// Invalidate drops a cached credential entry, used when an org is
// deactivated.
func (c *CredentialCache) Invalidate(ctx context.Context, clientIDHash string) error {
	return c.client.Del(ctx, credCachePrefix+clientIDHash).Err()
}
