package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrConcurrentModification signals an optimistic version check that lost
// to a concurrent writer.
var ErrConcurrentModification = errors.New("concurrent modification")

// DB represents the database connection.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// NewDB initializes a new database connection and creates tables if they don't exist.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL mode, busy timeout and enforced foreign keys
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:     db,
		logger: logger,
	}

	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			telegram_chat_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS team_members (
			team_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (team_id, user_id),
			FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS blocked_users (
			user_id INTEGER PRIMARY KEY,
			blocked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			reason TEXT,
			blocked_by INTEGER NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			type TEXT NOT NULL DEFAULT 'personal',
			team_id INTEGER,
			creator_id INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (team_id) REFERENCES teams(id),
			FOREIGN KEY (creator_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS schedule_participants (
			schedule_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			PRIMARY KEY (schedule_id, user_id),
			FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			team_id INTEGER NOT NULL DEFAULT 0,
			author_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'text',
			content TEXT NOT NULL,
			request_id TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS change_requests (
			id TEXT PRIMARY KEY,
			schedule_id INTEGER NOT NULL,
			proposer_id INTEGER NOT NULL,
			new_start DATETIME NOT NULL,
			new_end DATETIME NOT NULL,
			new_content TEXT,
			target_date TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			proposal_message_id TEXT,
			resolution_message_id TEXT,
			resolved_by INTEGER,
			delivered BOOLEAN NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE CASCADE,
			FOREIGN KEY (proposer_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS acknowledgements (
			request_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			seen BOOLEAN NOT NULL DEFAULT 0,
			seen_at DATETIME,
			PRIMARY KEY (request_id, user_id),
			FOREIGN KEY (request_id) REFERENCES change_requests(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			actor_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// At most one open request per schedule, enforced by the store
		// rather than application-level checks.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_change_requests_pending
			ON change_requests(schedule_id) WHERE status = 'pending'`,

		`CREATE INDEX IF NOT EXISTS idx_schedules_team ON schedules(team_id)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_creator ON schedules(creator_id)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_start ON schedules(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON schedule_participants(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_team_date ON messages(team_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_request ON messages(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_change_requests_status ON change_requests(status, delivered)`,
		`CREATE INDEX IF NOT EXISTS idx_acknowledgements_user ON acknowledgements(user_id, seen)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_request ON audit_log(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// IsTransient reports whether the error is a temporary SQLite condition
// (busy or locked) that a caller may retry.
func IsTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (db *DB) Close() error {
	return db.DB.Close()
}
