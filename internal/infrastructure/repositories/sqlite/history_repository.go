package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_history (
	id               TEXT PRIMARY KEY,
	caller_id        TEXT NOT NULL,
	receiver_id      TEXT NOT NULL,
	type             TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL,
	recorded_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_history_caller ON call_history(caller_id, recorded_at);
`

// SQLiteHistoryRepository stores call history in a local SQLite file.
type SQLiteHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file and its parent directory if needed.
func Open(path string) (*SQLiteHistoryRepository, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases intact.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteHistoryRepository{db: db, now: time.Now}, nil
}

var _ ports.HistoryRepository = (*SQLiteHistoryRepository)(nil)

func (r *SQLiteHistoryRepository) Insert(ctx context.Context, table string, record any) error {
	rec, err := domain.HistoryRecordOf(table, record)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO call_history (id, caller_id, receiver_id, type, duration_seconds, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(rec.CallerID), string(rec.ReceiverID), string(rec.Type),
		rec.DurationSeconds, r.now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

func (r *SQLiteHistoryRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.StoredCallRecord, error) {
	if limit <= 0 {
		return []domain.StoredCallRecord{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, caller_id, receiver_id, type, duration_seconds, recorded_at
		 FROM call_history WHERE caller_id = ?
		 ORDER BY recorded_at DESC, rowid DESC LIMIT ?`,
		string(userID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query call history: %w", err)
	}
	defer rows.Close()

	records := []domain.StoredCallRecord{}
	for rows.Next() {
		var (
			rec                        domain.StoredCallRecord
			caller, receiver, callType string
			recordedAt                 int64
		)
		if err := rows.Scan(&rec.ID, &caller, &receiver, &callType, &rec.DurationSeconds, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec.CallerID = domain.UserID(caller)
		rec.ReceiverID = domain.UserID(receiver)
		rec.Type = domain.CallType(callType)
		rec.RecordedAt = time.Unix(0, recordedAt).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SQLiteHistoryRepository) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteHistoryRepository) Close() error {
	return r.db.Close()
}
