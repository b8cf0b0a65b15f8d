package ports

import (
	"context"

	"rillcall/internal/core/domain"
)

// Persistence is the generic insert capability of the backing store.
type Persistence interface {
	Insert(ctx context.Context, table string, record any) error
}

type HistoryReader interface {
	ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.StoredCallRecord, error)
}

type HistoryRepository interface {
	Persistence
	HistoryReader
	HealthCheck(ctx context.Context) error
	Close() error
}
