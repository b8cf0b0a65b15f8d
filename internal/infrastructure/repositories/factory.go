package repositories

import (
	"context"
	"fmt"

	"rillcall/internal/core/ports"
	"rillcall/internal/infrastructure/repositories/memory"
	redisrepo "rillcall/internal/infrastructure/repositories/redis"
	"rillcall/internal/infrastructure/repositories/sqlite"
	"rillcall/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory owns the shared redis client and builds history stores with fallback.
type RepositoryFactory struct {
	cfg         *config.Config
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to redis when a backend needs it. A failed
// connection is not fatal: redis-backed components fall back to memory.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{cfg: cfg, logger: logger}

	if cfg.UsesRedis() {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory backends", "error", err)
			return factory
		}
		if err := redisrepo.Migrate(ctx, client, logger); err != nil {
			logger.Warnw("redis migrations failed, falling back to memory backends", "error", err)
			_ = redisrepo.CloseRedisClient(client)
			return factory
		}
		factory.redisClient = client
	}

	return factory
}

// RedisClient returns the shared client, or nil if redis is unused or unreachable.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// CreateHistoryRepository builds the configured history backend.
func (f *RepositoryFactory) CreateHistoryRepository() (ports.HistoryRepository, error) {
	switch f.cfg.History.Backend {
	case "redis":
		if f.redisClient != nil {
			f.logger.Info("using Redis history repository")
			return redisrepo.NewRedisHistoryRepository(f.redisClient), nil
		}
		f.logger.Warn("redis unavailable, history kept in memory")
	case "sqlite":
		repo, err := sqlite.Open(f.cfg.History.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite history: %w", err)
		}
		f.logger.Infow("using SQLite history repository", "path", f.cfg.History.SQLitePath)
		return repo, nil
	default:
		f.logger.Info("using memory history repository")
	}
	return memory.NewMemoryHistoryRepository(), nil
}

// Close closes the redis connection if used
func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
