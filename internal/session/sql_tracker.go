package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prappser/prappser_uploads/internal/apperror"
)

// SQLTracker keeps session bookkeeping in Postgres so that several server
// instances sharing one chunk directory see the same arrivals.
type SQLTracker struct {
	db *sql.DB
}

func NewSQLTracker(db *sql.DB) *SQLTracker {
	return &SQLTracker{db: db}
}

func (t *SQLTracker) RecordArrival(ctx context.Context, info Info, index int, size int64) (*State, error) {
	return t.update(ctx, info, map[int]int64{index: size})
}

func (t *SQLTracker) Restore(ctx context.Context, info Info, sizes map[int]int64) (*State, error) {
	return t.update(ctx, info, sizes)
}

func (t *SQLTracker) GetState(ctx context.Context, sessionID string) (*State, error) {
	return t.load(ctx, t.db, sessionID)
}

func (t *SQLTracker) Forget(ctx context.Context, sessionID string) error {
	// chunks go with the session row (ON DELETE CASCADE)
	if _, err := t.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE session_id = $1`, sessionID); err != nil {
		return dbError("forget session", err)
	}
	return nil
}

func (t *SQLTracker) Count(ctx context.Context) (int, error) {
	var count int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM upload_sessions`).Scan(&count); err != nil {
		return 0, dbError("count sessions", err)
	}
	return count, nil
}

func (t *SQLTracker) ListStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT session_id FROM upload_sessions WHERE updated_at < $1 ORDER BY session_id`, cutoff.Unix())
	if err != nil {
		return nil, dbError("list stale sessions", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbError("scan session", err)
		}
		stale = append(stale, id)
	}
	return stale, rows.Err()
}

func (t *SQLTracker) MarkAssembled(ctx context.Context, sessionID string) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO assembled_sessions (session_id, assembled_at) VALUES ($1, $2)
		 ON CONFLICT (session_id) DO UPDATE SET assembled_at = EXCLUDED.assembled_at`,
		sessionID, timeNow().UnixNano())
	if err != nil {
		return dbError("mark session assembled", err)
	}
	return nil
}

func (t *SQLTracker) AssembledSince(ctx context.Context, sessionID string, since time.Time) (bool, error) {
	var assembled bool
	err := t.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM assembled_sessions WHERE session_id = $1 AND assembled_at >= $2)`,
		sessionID, since.UnixNano()).Scan(&assembled)
	if err != nil {
		return false, dbError("check assembled session", err)
	}
	return assembled, nil
}

func (t *SQLTracker) PurgeAssembled(ctx context.Context, before time.Time) (int, error) {
	result, err := t.db.ExecContext(ctx, `DELETE FROM assembled_sessions WHERE assembled_at < $1`, before.UnixNano())
	if err != nil {
		return 0, dbError("purge assembled sessions", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, dbError("purge assembled sessions", err)
	}
	return int(purged), nil
}

func (t *SQLTracker) update(ctx context.Context, info Info, sizes map[int]int64) (*State, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dbError("begin transaction", err)
	}
	defer tx.Rollback()

	now := timeNow().Unix()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO upload_sessions (session_id, file_name, total_size, chunk_size, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO NOTHING`,
		info.SessionID, info.FileName, info.TotalSize, info.ChunkSize, now)
	if err != nil {
		return nil, dbError("create session", err)
	}

	var stored Info
	err = tx.QueryRowContext(ctx,
		`SELECT session_id, file_name, total_size, chunk_size FROM upload_sessions WHERE session_id = $1 FOR UPDATE`,
		info.SessionID).Scan(&stored.SessionID, &stored.FileName, &stored.TotalSize, &stored.ChunkSize)
	if err != nil {
		return nil, dbError("lock session", err)
	}
	if !stored.Matches(info) {
		return nil, stored.mismatchError(info)
	}

	for index, size := range sizes {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO upload_session_chunks (session_id, chunk_index, chunk_size)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (session_id, chunk_index) DO UPDATE SET
			 chunk_size = EXCLUDED.chunk_size`,
			info.SessionID, index, size)
		if err != nil {
			return nil, dbError("record chunk", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE upload_sessions SET updated_at = $1 WHERE session_id = $2`, now, info.SessionID); err != nil {
		return nil, dbError("touch session", err)
	}

	state, err := t.load(ctx, tx, info.SessionID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, dbError("commit", err)
	}
	return state, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (t *SQLTracker) load(ctx context.Context, q queryer, sessionID string) (*State, error) {
	state := &State{Arrived: make(map[int]int64)}
	err := q.QueryRowContext(ctx,
		`SELECT session_id, file_name, total_size, chunk_size, updated_at FROM upload_sessions WHERE session_id = $1`,
		sessionID).Scan(&state.SessionID, &state.FileName, &state.TotalSize, &state.ChunkSize, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, dbError("get session", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT chunk_index, chunk_size FROM upload_session_chunks WHERE session_id = $1 ORDER BY chunk_index`,
		sessionID)
	if err != nil {
		return nil, dbError("get chunks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var index int
		var size int64
		if err := rows.Scan(&index, &size); err != nil {
			return nil, dbError("scan chunk", err)
		}
		state.Arrived[index] = size
	}

	if err := rows.Err(); err != nil {
		return nil, dbError("get chunks", err)
	}
	return state, nil
}

func dbError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperror.ErrStorageUnavailable, op, err)
}
