package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storybot/internal/logging"
	"storybot/internal/types"
)

// createdAtLayout is fixed-width so that text ordering equals time ordering.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Append writes one turn and returns it with its id and timestamp set.
// The first turn of a session must be the system turn, and it must be the only one.
func (s *LocalStore) Append(ctx context.Context, turn types.Turn) (types.Turn, error) {
	if !turn.Role.Valid() {
		return types.Turn{}, &StorageError{Op: "append", Err: fmt.Errorf("%w: %q", ErrInvalidRole, turn.Role)}
	}
	if turn.SessionID < 1 {
		return types.Turn{}, &StorageError{Op: "append", Err: fmt.Errorf("%w: got %d", ErrInvalidSession, turn.SessionID)}
	}
	if turn.TokenCount < 0 {
		turn.TokenCount = 0
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	turn.CreatedAt = turn.CreatedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Turn{}, &StorageError{Op: "append", Err: err}
	}
	defer tx.Rollback()

	var existing, systems int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN role = 'system' THEN 1 ELSE 0 END), 0)
		 FROM turns WHERE user_id = ? AND session_id = ?`,
		turn.UserID, turn.SessionID,
	).Scan(&existing, &systems)
	if err != nil {
		return types.Turn{}, &StorageError{Op: "append", Err: err}
	}

	switch {
	case turn.Role == types.RoleSystem && existing > 0:
		return types.Turn{}, &StorageError{Op: "append", Err: fmt.Errorf("%w: user %d session %d", ErrSystemTurnNotFirst, turn.UserID, turn.SessionID)}
	case turn.Role != types.RoleSystem && systems == 0:
		return types.Turn{}, &StorageError{Op: "append", Err: fmt.Errorf("%w: user %d session %d", ErrSessionNotOpened, turn.UserID, turn.SessionID)}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns (user_id, role, content, created_at, token_count, session_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.UserID, string(turn.Role), turn.Content,
		turn.CreatedAt.Format(createdAtLayout), turn.TokenCount, turn.SessionID,
	)
	if err != nil {
		logging.StoreError("Failed to append turn for user %d session %d: %v", turn.UserID, turn.SessionID, err)
		return types.Turn{}, &StorageError{Op: "append", Err: err}
	}
	if turn.ID, err = res.LastInsertId(); err != nil {
		return types.Turn{}, &StorageError{Op: "append", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return types.Turn{}, &StorageError{Op: "append", Err: err}
	}

	logging.StoreDebug("Appended %s turn id=%d user=%d session=%d tokens=%d",
		turn.Role, turn.ID, turn.UserID, turn.SessionID, turn.TokenCount)
	return turn, nil
}

// History returns the turns of one session in chronological order.
func (s *LocalStore) History(ctx context.Context, userID int64, sessionID int) ([]types.Turn, error) {
	timer := logging.StartTimer(logging.CategoryStore, "History")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, created_at, token_count, session_id
		 FROM turns
		 WHERE user_id = ? AND session_id = ?
		 ORDER BY created_at, id`,
		userID, sessionID,
	)
	if err != nil {
		return nil, &StorageError{Op: "history", Err: err}
	}
	defer rows.Close()

	turns := []types.Turn{}
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, &StorageError{Op: "history", Err: err}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "history", Err: err}
	}

	logging.StoreDebug("Loaded %d turns for user=%d session=%d", len(turns), userID, sessionID)
	return turns, nil
}

func scanTurn(rows *sql.Rows) (types.Turn, error) {
	var (
		t         types.Turn
		role      string
		createdAt string
	)
	if err := rows.Scan(&t.ID, &t.UserID, &role, &t.Content, &createdAt, &t.TokenCount, &t.SessionID); err != nil {
		return types.Turn{}, err
	}
	r, err := types.ParseRole(role)
	if err != nil {
		return types.Turn{}, err
	}
	t.Role = r
	if t.CreatedAt, err = time.Parse(createdAtLayout, createdAt); err != nil {
		return types.Turn{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	return t, nil
}

// SessionCount returns how many distinct sessions the user has written to.
func (s *LocalStore) SessionCount(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT session_id) FROM turns WHERE user_id = ?", userID,
	).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "session count", Err: err}
	}
	return n, nil
}

// LatestSessionID returns the highest session id of the user; ok is false
// when the user has no turns.
func (s *LocalStore) LatestSessionID(ctx context.Context, userID int64) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(session_id) FROM turns WHERE user_id = ?", userID,
	).Scan(&latest)
	if err != nil {
		return 0, false, &StorageError{Op: "latest session", Err: err}
	}
	if !latest.Valid {
		return 0, false, nil
	}
	return int(latest.Int64), true, nil
}

// SessionTokenTotal sums the stored token counts of one session.
func (s *LocalStore) SessionTokenTotal(ctx context.Context, userID int64, sessionID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(token_count), 0) FROM turns WHERE user_id = ? AND session_id = ?",
		userID, sessionID,
	).Scan(&total)
	if err != nil {
		return 0, &StorageError{Op: "session tokens", Err: err}
	}
	return total, nil
}

// LifetimeTokenTotal sums token counts across every user and session.
func (s *LocalStore) LifetimeTokenTotal(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(token_count), 0) FROM turns").Scan(&total)
	if err != nil {
		return 0, &StorageError{Op: "lifetime tokens", Err: err}
	}
	return total, nil
}

// UserCount returns how many distinct users have ever written a turn.
func (s *LocalStore) UserCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT user_id) FROM turns").Scan(&n); err != nil {
		return 0, &StorageError{Op: "user count", Err: err}
	}
	return n, nil
}
