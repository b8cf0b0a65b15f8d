package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
)

type MemoryHistoryRepository struct {
	records []domain.StoredCallRecord
	seq     int64
	now     func() time.Time
	mu      sync.RWMutex
}

func NewMemoryHistoryRepository() ports.HistoryRepository {
	return &MemoryHistoryRepository{now: time.Now}
}

func (r *MemoryHistoryRepository) Insert(ctx context.Context, table string, record any) error {
	rec, err := domain.HistoryRecordOf(table, record)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.records = append(r.records, domain.StoredCallRecord{
		ID:                strconv.FormatInt(r.seq, 10),
		RecordedAt:        r.now(),
		CallHistoryRecord: rec,
	})
	return nil
}

// ListByUser returns the user's own records, newest first.
func (r *MemoryHistoryRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.StoredCallRecord, error) {
	if limit <= 0 {
		return []domain.StoredCallRecord{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.StoredCallRecord, 0, limit)
	for i := len(r.records) - 1; i >= 0 && len(result) < limit; i-- {
		if r.records[i].CallerID == userID {
			result = append(result, r.records[i])
		}
	}
	return result, nil
}

func (r *MemoryHistoryRepository) HealthCheck(ctx context.Context) error {
	return nil
}

func (r *MemoryHistoryRepository) Close() error {
	return nil
}
