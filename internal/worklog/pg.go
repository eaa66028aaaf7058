package worklog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS work_logs (
	id TEXT PRIMARY KEY,
	session_id TEXT UNIQUE,
	query TEXT,
	start_time TIMESTAMPTZ,
	end_time TIMESTAMPTZ,
	final_output TEXT,
	entry_count INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS work_log_entries (
	id BIGSERIAL PRIMARY KEY,
	work_log_id TEXT REFERENCES work_logs(session_id),
	step INTEGER,
	timestamp TIMESTAMPTZ,
	level TEXT,
	category TEXT,
	message TEXT,
	details_json TEXT,
	confidence DOUBLE PRECISION,
	duration_ms BIGINT,
	tool_name TEXT,
	tool_input_json TEXT,
	tool_output_json TEXT,
	tool_status TEXT
);

CREATE INDEX IF NOT EXISTS idx_entries_work_log ON work_log_entries(work_log_id);
CREATE INDEX IF NOT EXISTS idx_work_logs_session ON work_logs(session_id);
CREATE INDEX IF NOT EXISTS idx_work_logs_time ON work_logs(start_time DESC);
`

// PGStore persists work logs in Postgres for managed deployments.
type PGStore struct {
	db *sql.DB
}

// NewPGStore connects with the pgx stdlib driver and applies the
// schema.
func NewPGStore(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) SaveLog(ctx context.Context, log *WorkLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var end any
	if log.EndTime != nil {
		end = log.EndTime.UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work_logs (id, session_id, query, start_time, end_time, final_output, entry_count)
		VALUES ($1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			final_output = EXCLUDED.final_output,
			entry_count = EXCLUDED.entry_count`,
		log.SessionID, log.Query, log.StartTime.UTC(), end, log.FinalOutput, len(log.Entries)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM work_log_entries WHERE work_log_id = $1`, log.SessionID); err != nil {
		return err
	}
	for _, e := range log.Entries {
		details, toolInput, toolOutput, err := marshalEntryJSON(&e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO work_log_entries
				(work_log_id, step, timestamp, level, category, message, details_json,
				 confidence, duration_ms, tool_name, tool_input_json, tool_output_json, tool_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			log.SessionID, e.Step, e.Timestamp.UTC(), string(e.Level), e.Category, e.Message,
			details, e.Confidence, e.DurationMs, nullIfEmpty(e.ToolName), toolInput, toolOutput,
			nullIfEmpty(e.ToolStatus)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGStore) GetLog(ctx context.Context, sessionID string) (*WorkLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, query, start_time, end_time, final_output
		FROM work_logs WHERE session_id = $1`, sessionID)
	return s.loadLog(ctx, row)
}

func (s *PGStore) LastLog(ctx context.Context) (*WorkLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, query, start_time, end_time, final_output
		FROM work_logs ORDER BY start_time DESC LIMIT 1`)
	return s.loadLog(ctx, row)
}

func (s *PGStore) loadLog(ctx context.Context, row *sql.Row) (*WorkLog, error) {
	var log WorkLog
	var end sql.NullTime
	var finalOutput sql.NullString
	err := row.Scan(&log.SessionID, &log.Query, &log.StartTime, &end, &finalOutput)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if end.Valid {
		log.EndTime = &end.Time
	}
	log.FinalOutput = finalOutput.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, timestamp, level, category, message, details_json,
		       confidence, duration_ms, tool_name, tool_input_json, tool_output_json, tool_status
		FROM work_log_entries WHERE work_log_id = $1 ORDER BY step`, log.SessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	log.Entries, err = scanEntries(rows)
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (s *PGStore) CleanupOldLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM work_log_entries WHERE work_log_id IN (
			SELECT session_id FROM work_logs WHERE start_time < $1
		)`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM work_logs WHERE start_time < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}
