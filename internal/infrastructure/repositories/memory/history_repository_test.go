package memory

import (
	"context"
	"testing"

	"rillcall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHistoryRepository_InsertAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryHistoryRepository()

	require.NoError(t, repo.Insert(ctx, domain.CallHistoryTable, domain.CallHistoryRecord{
		CallerID: "alice", ReceiverID: "bob", Type: domain.CallTypeAudio, DurationSeconds: 5,
	}))
	require.NoError(t, repo.Insert(ctx, domain.CallHistoryTable, &domain.CallHistoryRecord{
		CallerID: "alice", ReceiverID: "carol", Type: domain.CallTypeVideo, DurationSeconds: 9,
	}))
	require.NoError(t, repo.Insert(ctx, domain.CallHistoryTable, domain.CallHistoryRecord{
		CallerID: "bob", ReceiverID: "alice", Type: domain.CallTypeAudio, DurationSeconds: 5,
	}))

	got, err := repo.ListByUser(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.UserID("carol"), got[0].ReceiverID, "newest first")
	assert.Equal(t, domain.UserID("bob"), got[1].ReceiverID)
	assert.NotEqual(t, got[0].ID, got[1].ID)

	limited, err := repo.ListByUser(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryHistoryRepository_RejectsUnknownRecords(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryHistoryRepository()

	assert.ErrorIs(t, repo.Insert(ctx, "peers", domain.CallHistoryRecord{}), domain.ErrUnsupportedRecord)
	assert.ErrorIs(t, repo.Insert(ctx, domain.CallHistoryTable, map[string]any{}), domain.ErrUnsupportedRecord)
	assert.NoError(t, repo.HealthCheck(ctx))
}
