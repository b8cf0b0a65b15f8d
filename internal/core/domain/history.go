package domain

import (
	"fmt"
	"time"
)

const CallHistoryTable = "call_history"

// CallHistoryRecord is written once, when a connected call ends.
type CallHistoryRecord struct {
	CallerID        UserID   `json:"callerId"`
	ReceiverID      UserID   `json:"receiverId"`
	Type            CallType `json:"type"`
	DurationSeconds int64    `json:"durationSeconds"`
}

// StoredCallRecord is a history record as read back from persistence.
type StoredCallRecord struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	CallHistoryRecord
}

// CallDuration returns whole elapsed seconds between start and end, floored.
func CallDuration(startedAt, endedAt time.Time) int64 {
	if startedAt.IsZero() || endedAt.Before(startedAt) {
		return 0
	}
	return int64(endedAt.Sub(startedAt) / time.Second)
}

// HistoryRecordOf unpacks a record handed to a persistence adapter for table.
func HistoryRecordOf(table string, record any) (CallHistoryRecord, error) {
	if table != CallHistoryTable {
		return CallHistoryRecord{}, fmt.Errorf("%w: table %q", ErrUnsupportedRecord, table)
	}
	switch r := record.(type) {
	case CallHistoryRecord:
		return r, nil
	case *CallHistoryRecord:
		if r != nil {
			return *r, nil
		}
	}
	return CallHistoryRecord{}, fmt.Errorf("%w: %T", ErrUnsupportedRecord, record)
}
