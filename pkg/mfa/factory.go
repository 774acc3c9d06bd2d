package mfa

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RepositoryConfig contains configuration for creating an mfa repository
type RepositoryConfig struct {
	// DB is required for PostgreSQL repositories (DBTX interface)
	DB DBTX
	// Redis is required for Redis repositories
	Redis redis.Cmdable
	// KeyPrefix namespaces Redis keys, defaults to "mfa:"
	KeyPrefix string
}

// NewRepository creates a new mfa repository based on the persistence type
func NewRepository(persistenceType string, config RepositoryConfig) (Repository, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.DB == nil {
			return nil, fmt.Errorf("db required for postgres repository")
		}
		return NewPostgresRepository(config.DB), nil
	case "redis":
		if config.Redis == nil {
			return nil, fmt.Errorf("redis client required for redis repository")
		}
		return NewRedisRepository(config.Redis, config.KeyPrefix), nil
	case "memory", "inmem":
		return NewInMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, redis, memory)", persistenceType)
	}
}
