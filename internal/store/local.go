// Package store persists story turns in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"storybot/internal/logging"
	"storybot/internal/types"
)

// TurnStore is the append-only turn log the rest of the bot depends on.
type TurnStore interface {
	Append(ctx context.Context, turn types.Turn) (types.Turn, error)
	History(ctx context.Context, userID int64, sessionID int) ([]types.Turn, error)
	SessionCount(ctx context.Context, userID int64) (int, error)
	LatestSessionID(ctx context.Context, userID int64) (int, bool, error)
	SessionTokenTotal(ctx context.Context, userID int64, sessionID int) (int, error)
	LifetimeTokenTotal(ctx context.Context) (int64, error)
	UserCount(ctx context.Context) (int, error)
}

// LocalStore implements TurnStore on a single SQLite file.
//
// Sessions have no table of their own: a session exists once its first
// (system) turn is written.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

var _ TurnStore = (*LocalStore)(nil)

// NewLocalStore opens (creating if needed) the database at path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.StoreError("Failed to create directory %s: %v", dir, err)
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("create directory: %w", err)}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, &StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}

	logging.Store("LocalStore ready")
	return s, nil
}

func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		session_id INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_user_session
		ON turns(user_id, session_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create turns table: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *LocalStore) Path() string {
	return s.dbPath
}

// Close releases the database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}
