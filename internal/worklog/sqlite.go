package worklog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS work_logs (
	id TEXT PRIMARY KEY,
	session_id TEXT UNIQUE,
	query TEXT,
	start_time TIMESTAMP,
	end_time TIMESTAMP,
	final_output TEXT,
	entry_count INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS work_log_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	work_log_id TEXT,
	step INTEGER,
	timestamp TIMESTAMP,
	level TEXT,
	category TEXT,
	message TEXT,
	details_json TEXT,
	confidence REAL,
	duration_ms INTEGER,
	tool_name TEXT,
	tool_input_json TEXT,
	tool_output_json TEXT,
	tool_status TEXT,
	FOREIGN KEY (work_log_id) REFERENCES work_logs(session_id)
);

CREATE INDEX IF NOT EXISTS idx_entries_work_log ON work_log_entries(work_log_id);
CREATE INDEX IF NOT EXISTS idx_work_logs_session ON work_logs(session_id);
CREATE INDEX IF NOT EXISTS idx_work_logs_time ON work_logs(start_time DESC);
`

// SQLiteStore persists work logs in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) SaveLog(ctx context.Context, log *WorkLog) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			end_time = excluded.end_time,
			final_output = excluded.final_output,
			entry_count = excluded.entry_count`,
		log.SessionID, log.SessionID, log.Query, log.StartTime.UTC(), end, log.FinalOutput, len(log.Entries)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM work_log_entries WHERE work_log_id = ?`, log.SessionID); err != nil {
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
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			log.SessionID, e.Step, e.Timestamp.UTC(), string(e.Level), e.Category, e.Message,
			details, e.Confidence, e.DurationMs, nullIfEmpty(e.ToolName), toolInput, toolOutput,
			nullIfEmpty(e.ToolStatus)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetLog(ctx context.Context, sessionID string) (*WorkLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, query, start_time, end_time, final_output
		FROM work_logs WHERE session_id = ?`, sessionID)
	return s.loadLog(ctx, row)
}

func (s *SQLiteStore) LastLog(ctx context.Context) (*WorkLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, query, start_time, end_time, final_output
		FROM work_logs ORDER BY start_time DESC LIMIT 1`)
	return s.loadLog(ctx, row)
}

func (s *SQLiteStore) loadLog(ctx context.Context, row *sql.Row) (*WorkLog, error) {
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
		FROM work_log_entries WHERE work_log_id = ? ORDER BY step`, log.SessionID)
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

// CleanupOldLogs removes logs started before now-olderThan. The cutoff
// is bound as a parameter, never spliced into the statement.
func (s *SQLiteStore) CleanupOldLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM work_log_entries WHERE work_log_id IN (
			SELECT session_id FROM work_logs WHERE start_time < ?
		)`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM work_logs WHERE start_time < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

func marshalEntryJSON(e *Entry) (details, toolInput, toolOutput any, err error) {
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return nil, nil, nil, err
		}
		details = string(b)
	}
	if e.ToolInput != nil {
		b, err := json.Marshal(e.ToolInput)
		if err != nil {
			return nil, nil, nil, err
		}
		toolInput = string(b)
	}
	if e.ToolOutput != nil {
		b, err := json.Marshal(e.ToolOutput)
		if err != nil {
			return nil, nil, nil, err
		}
		toolOutput = string(b)
	}
	return details, toolInput, toolOutput, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var level string
		var details, toolInput, toolOutput, toolName, toolStatus sql.NullString
		var confidence sql.NullFloat64
		var durationMs sql.NullInt64
		if err := rows.Scan(&e.Step, &e.Timestamp, &level, &e.Category, &e.Message, &details,
			&confidence, &durationMs, &toolName, &toolInput, &toolOutput, &toolStatus); err != nil {
			return nil, err
		}
		e.Level = Level(level)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, err
			}
		}
		if confidence.Valid {
			e.Confidence = &confidence.Float64
		}
		if durationMs.Valid {
			e.DurationMs = &durationMs.Int64
		}
		e.ToolName = toolName.String
		e.ToolStatus = toolStatus.String
		if toolInput.Valid && toolInput.String != "" {
			if err := json.Unmarshal([]byte(toolInput.String), &e.ToolInput); err != nil {
				return nil, err
			}
		}
		if toolOutput.Valid && toolOutput.String != "" {
			if err := json.Unmarshal([]byte(toolOutput.String), &e.ToolOutput); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
