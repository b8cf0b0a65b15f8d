package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "rillcall:schema:version"
	currentSchemaVersion = 1
)

// Migration is one step of the history keyspace layout.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs pending migrations. A keyspace written by a newer build is refused.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion > currentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", currentVersion, currentSchemaVersion)
	}
	if currentVersion == currentSchemaVersion {
		logger.Debugw("schema is up to date", "version", currentVersion)
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}

		logger.Infow("running migration", "version", migration.Version)
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// v1 caps every per-user history list.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				iter := client.Scan(ctx, 0, historyKeyPrefix+"*", 100).Iterator()
				for iter.Next(ctx) {
					if err := client.LTrim(ctx, iter.Val(), 0, maxHistoryPerUser-1).Err(); err != nil {
						return err
					}
				}
				return iter.Err()
			},
		},
	}
}
