package redis

import (
	"context"
	"os"
	"testing"

	"rillcall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisHistoryRepository(t *testing.T) {
	addr := os.Getenv("RILLCALL_TEST_REDIS")
	if addr == "" {
		t.Skip("RILLCALL_TEST_REDIS not set")
	}

	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()
	client, err := NewRedisClient(addr, "", 0, 2, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseRedisClient(client) })
	require.NoError(t, Migrate(ctx, client, logger))

	user := domain.UserID("history-test-" + t.Name())
	t.Cleanup(func() { client.Del(ctx, historyKeyPrefix+string(user)) })

	repo := NewRedisHistoryRepository(client)
	for _, d := range []int64{3, 8} {
		require.NoError(t, repo.Insert(ctx, domain.CallHistoryTable, domain.CallHistoryRecord{
			CallerID: user, ReceiverID: "peer", Type: domain.CallTypeVideo, DurationSeconds: d,
		}))
	}

	got, err := repo.ListByUser(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(8), got[0].DurationSeconds)
	assert.NotEmpty(t, got[0].ID)

	assert.ErrorIs(t, repo.Insert(ctx, "other", domain.CallHistoryRecord{}), domain.ErrUnsupportedRecord)
	assert.NoError(t, repo.HealthCheck(ctx))
}
