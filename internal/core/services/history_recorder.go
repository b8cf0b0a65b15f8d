package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"go.uber.org/zap"
)

// HistoryRecorder persists completed calls. Writes are fire-and-forget:
// failures are logged and never retried.
type HistoryRecorder struct {
	store   ports.Persistence
	reader  ports.HistoryReader
	timeout time.Duration
	metrics ports.CallMetrics
	logger  *zap.SugaredLogger

	wg sync.WaitGroup
}

// NewHistoryRecorder creates a recorder. reader may be nil when the store is write-only.
func NewHistoryRecorder(
	store ports.Persistence,
	reader ports.HistoryReader,
	timeout time.Duration,
	metrics ports.CallMetrics,
	logger *zap.SugaredLogger,
) *HistoryRecorder {
	return &HistoryRecorder{
		store:   store,
		reader:  reader,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

// Record writes rec asynchronously. Records without a positive duration are
// dropped and Record reports false.
func (h *HistoryRecorder) Record(rec domain.CallHistoryRecord) bool {
	if rec.DurationSeconds <= 0 {
		return false
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		err := h.store.Insert(ctx, domain.CallHistoryTable, rec)
		h.metrics.HistoryWritten(err)
		if err != nil {
			h.logger.Warnw("failed to record call history",
				"caller_id", rec.CallerID,
				"receiver_id", rec.ReceiverID,
				"duration_seconds", rec.DurationSeconds,
				"error", err,
			)
			return
		}
		h.logger.Infow("call history recorded",
			"caller_id", rec.CallerID,
			"receiver_id", rec.ReceiverID,
			"type", rec.Type,
			"duration_seconds", rec.DurationSeconds,
		)
	}()
	return true
}

// Wait blocks until in-flight writes have finished.
func (h *HistoryRecorder) Wait() {
	h.wg.Wait()
}

func (h *HistoryRecorder) List(ctx context.Context, userID domain.UserID, limit int) ([]domain.StoredCallRecord, error) {
	if h.reader == nil {
		return nil, fmt.Errorf("call history is not readable from this store")
	}
	return h.reader.ListByUser(ctx, userID, limit)
}
