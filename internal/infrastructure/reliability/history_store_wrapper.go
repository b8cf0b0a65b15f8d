package reliability

import (
	"context"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/pkg/circuitbreaker"
	"rillcall/pkg/retry"
	"rillcall/pkg/tracing"

	"go.uber.org/zap"
)

// HistoryStoreWrapper guards a history repository with retry and a circuit breaker.
// Reads bypass retry; a stale list is better than a slow one.
type HistoryStoreWrapper struct {
	repo   ports.HistoryRepository
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewHistoryStoreWrapper(
	repo ports.HistoryRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *HistoryStoreWrapper {
	// Rejected records and an open breaker will not improve by waiting.
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors,
		domain.ErrUnsupportedRecord,
		circuitbreaker.ErrOpen,
		context.Canceled,
		context.DeadlineExceeded,
	)

	w := &HistoryStoreWrapper{
		repo:           repo,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("history store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

var _ ports.HistoryRepository = (*HistoryStoreWrapper)(nil)

func (w *HistoryStoreWrapper) Insert(ctx context.Context, table string, record any) error {
	// A malformed record is a caller bug and must not trip the breaker.
	if _, err := domain.HistoryRecordOf(table, record); err != nil {
		return err
	}

	ctx, span := tracing.TraceDatabaseOperation(ctx, "insert", table)
	defer span.End()

	err := retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.repo.Insert(ctx, table, record)
		})
	})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (w *HistoryStoreWrapper) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.StoredCallRecord, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "list", domain.CallHistoryTable)
	defer span.End()

	records, err := circuitbreaker.ExecuteWithResult(ctx, w.circuitBreaker, func() ([]domain.StoredCallRecord, error) {
		return w.repo.ListByUser(ctx, userID, limit)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return records, err
}

func (w *HistoryStoreWrapper) HealthCheck(ctx context.Context) error {
	return w.repo.HealthCheck(ctx)
}

func (w *HistoryStoreWrapper) Close() error {
	return w.repo.Close()
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *HistoryStoreWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
