package bootstrap

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-automation/internal/automation"
	appconfig "github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/internal/targets"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// BuildTargetResolver reads leads and patients from Postgres, fronted by Redis when configured.
// Without a pool it returns an empty in-memory directory.
func BuildTargetResolver(cfg *appconfig.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *logging.Logger) automation.TargetResolver {
	if logger == nil {
		logger = logging.Default()
	}
	var base automation.TargetResolver
	if pool != nil {
		base = targets.NewPostgresResolver(pool)
	} else {
		logger.Warn("target directory running in memory; follow-ups will fail address_not_found")
		base = targets.NewMemoryDirectory()
	}
	if redisClient == nil || cfg == nil {
		return base
	}
	return targets.NewCachedResolver(base, redisClient, cfg.TargetCacheTTL, cfg.OrgNameCacheTTL, logger)
}
