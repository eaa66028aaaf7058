package worklog

import (
	"context"
	"time"
)

// Store persists work logs. Implementations are SQLite for single-node
// installs and Postgres for managed mode.
type Store interface {
	// SaveLog upserts the log header and rewrites its entries.
	SaveLog(ctx context.Context, log *WorkLog) error
	// GetLog loads one session's log, nil when unknown.
	GetLog(ctx context.Context, sessionID string) (*WorkLog, error)
	// LastLog loads the most recently started log, nil when empty.
	LastLog(ctx context.Context) (*WorkLog, error)
	// CleanupOldLogs deletes logs started before the cutoff and
	// returns how many were removed.
	CleanupOldLogs(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}
