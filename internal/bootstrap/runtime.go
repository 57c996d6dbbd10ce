// Package bootstrap establishes runtime dependencies shared by the server and
// tooling commands.
package bootstrap

import (
	"fmt"

	"murmur/internal/cache"
	"murmur/internal/config"
	"murmur/internal/database"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// Migrate runs schema migration after connecting. Production deployments
	// migrate out-of-band instead.
	Migrate bool
}

// InitRuntime connects to the database and Redis. The Redis client may be nil
// when the server is unreachable; callers degrade to uncached operation.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	if opts.Migrate {
		if err := database.Migrate(db); err != nil {
			return nil, nil, fmt.Errorf("schema migration failed: %w", err)
		}
	}

	cache.InitRedis(cfg.RedisURL)
	return db, cache.GetClient(), nil
}
