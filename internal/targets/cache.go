package targets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// CachedResolver fronts another resolver with Redis. Misses and not-found
// results always reach the underlying resolver; Redis failures degrade to it.
type CachedResolver struct {
	next   automation.TargetResolver
	redis  *redis.Client
	ttl    time.Duration
	orgTTL time.Duration
	logger *logging.Logger
}

// NewCachedResolver wraps next. A nil client returns a pass-through cache.
func NewCachedResolver(next automation.TargetResolver, client *redis.Client, ttl, orgTTL time.Duration, logger *logging.Logger) *CachedResolver {
	if next == nil {
		panic("targets: resolver required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if orgTTL <= 0 {
		orgTTL = time.Hour
	}
	return &CachedResolver{next: next, redis: client, ttl: ttl, orgTTL: orgTTL, logger: logger}
}

var _ automation.TargetResolver = (*CachedResolver)(nil)

func targetKey(orgID string, kind automation.TargetKind, id string) string {
	return fmt.Sprintf("clinic:target:%s:%s:%s", orgID, kind, id)
}

func orgNameKey(orgID string) string {
	return "clinic:org-name:" + orgID
}

// ResolveTarget serves from cache when possible.
func (c *CachedResolver) ResolveTarget(ctx context.Context, orgID string, kind automation.TargetKind, targetID string) (*automation.TargetProfile, error) {
	if c.redis == nil {
		return c.next.ResolveTarget(ctx, orgID, kind, targetID)
	}
	key := targetKey(orgID, kind, targetID)
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var profile automation.TargetProfile
		if jsonErr := json.Unmarshal(data, &profile); jsonErr == nil {
			return &profile, nil
		}
		c.logger.Warn("targets: dropping unreadable cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("targets: cache read failed", "org_id", orgID, "error", err)
	}

	profile, err := c.next.ResolveTarget(ctx, orgID, kind, targetID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(profile); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("targets: cache write failed", "org_id", orgID, "error", err)
		}
	}
	return profile, nil
}

// OrganizationName serves the clinic name from cache when possible.
func (c *CachedResolver) OrganizationName(ctx context.Context, orgID string) (string, error) {
	if c.redis == nil {
		return c.next.OrganizationName(ctx, orgID)
	}
	key := orgNameKey(orgID)
	name, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("targets: cache read failed", "org_id", orgID, "error", err)
	}

	name, err = c.next.OrganizationName(ctx, orgID)
	if err != nil {
		return "", err
	}
	if err := c.redis.Set(ctx, key, name, c.orgTTL).Err(); err != nil {
		c.logger.Warn("targets: cache write failed", "org_id", orgID, "error", err)
	}
	return name, nil
}

// Invalidate drops a cached profile after the CRUD layer edits or deletes it.
func (c *CachedResolver) Invalidate(ctx context.Context, orgID string, kind automation.TargetKind, targetID string) error {
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, targetKey(orgID, kind, targetID)).Err(); err != nil {
		return fmt.Errorf("targets: invalidate: %w", err)
	}
	return nil
}
