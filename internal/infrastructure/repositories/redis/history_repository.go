package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	historyKeyPrefix  = "rillcall:history:"
	maxHistoryPerUser = 1000
)

// RedisHistoryRepository keeps one capped list per caller, newest first.
type RedisHistoryRepository struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisHistoryRepository(client *redis.Client) ports.HistoryRepository {
	return &RedisHistoryRepository{client: client, now: time.Now}
}

func (r *RedisHistoryRepository) historyKey(userID domain.UserID) string {
	return historyKeyPrefix + string(userID)
}

func (r *RedisHistoryRepository) Insert(ctx context.Context, table string, record any) error {
	rec, err := domain.HistoryRecordOf(table, record)
	if err != nil {
		return err
	}

	data, err := json.Marshal(domain.StoredCallRecord{
		ID:                uuid.NewString(),
		RecordedAt:        r.now().UTC(),
		CallHistoryRecord: rec,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	key := r.historyKey(rec.CallerID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, maxHistoryPerUser-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store call record in Redis: %w", err)
	}
	return nil
}

func (r *RedisHistoryRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.StoredCallRecord, error) {
	if limit <= 0 {
		return []domain.StoredCallRecord{}, nil
	}

	items, err := r.client.LRange(ctx, r.historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read call history from Redis: %w", err)
	}

	records := make([]domain.StoredCallRecord, 0, len(items))
	for _, item := range items {
		var rec domain.StoredCallRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *RedisHistoryRepository) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close is a no-op; the shared client is closed by its owner.
func (r *RedisHistoryRepository) Close() error {
	return nil
}
