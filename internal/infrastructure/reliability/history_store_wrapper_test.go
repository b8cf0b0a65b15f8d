package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/pkg/circuitbreaker"
	"rillcall/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Insert(ctx context.Context, table string, record any) error {
	return m.Called(ctx, table, record).Error(0)
}

func (m *MockHistoryRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.StoredCallRecord, error) {
	args := m.Called(ctx, userID, limit)
	records, _ := args.Get(0).([]domain.StoredCallRecord)
	return records, args.Error(1)
}

func (m *MockHistoryRepository) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockHistoryRepository) Close() error {
	return m.Called().Error(0)
}

func fastRetry() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}
}

var record = domain.CallHistoryRecord{CallerID: "alice", ReceiverID: "bob", Type: domain.CallTypeAudio, DurationSeconds: 3}

func TestHistoryStoreWrapper_RetriesTransientFailure(t *testing.T) {
	repo := new(MockHistoryRepository)
	repo.On("Insert", mock.Anything, domain.CallHistoryTable, record).Return(errors.New("timeout")).Once()
	repo.On("Insert", mock.Anything, domain.CallHistoryTable, record).Return(nil).Once()

	w := NewHistoryStoreWrapper(repo, fastRetry(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, w.Insert(context.Background(), domain.CallHistoryTable, record))
	repo.AssertNumberOfCalls(t, "Insert", 2)
}

func TestHistoryStoreWrapper_OpensAfterFailures(t *testing.T) {
	repo := new(MockHistoryRepository)
	repo.On("Insert", mock.Anything, domain.CallHistoryTable, record).Return(errors.New("down"))

	cb := circuitbreaker.DefaultConfig()
	cb.FailureThreshold = 2
	cb.Timeout = time.Hour
	// State change callbacks run on their own goroutine and may outlive the test.
	w := NewHistoryStoreWrapper(repo, retry.Config{}, cb, zap.NewNop().Sugar())

	ctx := context.Background()
	assert.Error(t, w.Insert(ctx, domain.CallHistoryTable, record))
	assert.Error(t, w.Insert(ctx, domain.CallHistoryTable, record))

	err := w.Insert(ctx, domain.CallHistoryTable, record)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	repo.AssertNumberOfCalls(t, "Insert", 2)
	assert.Equal(t, circuitbreaker.StateOpen, w.GetCircuitBreakerStats().State)
}

func TestHistoryStoreWrapper_RejectsBadRecordWithoutStore(t *testing.T) {
	repo := new(MockHistoryRepository)
	w := NewHistoryStoreWrapper(repo, fastRetry(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	err := w.Insert(context.Background(), "peers", record)
	assert.ErrorIs(t, err, domain.ErrUnsupportedRecord)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, w.GetCircuitBreakerStats().FailureCount)
}

func TestHistoryStoreWrapper_Reads(t *testing.T) {
	repo := new(MockHistoryRepository)
	want := []domain.StoredCallRecord{{ID: "1", CallHistoryRecord: record}}
	repo.On("ListByUser", mock.Anything, domain.UserID("alice"), 10).Return(want, nil)
	repo.On("HealthCheck", mock.Anything).Return(nil)
	repo.On("Close").Return(nil)

	w := NewHistoryStoreWrapper(repo, fastRetry(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())
	got, err := w.ListByUser(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, w.HealthCheck(context.Background()))
	assert.NoError(t, w.Close())
	repo.AssertExpectations(t)
}
