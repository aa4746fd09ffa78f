package database

import (
	"database/sql"
	"fmt"

	"schoolchat/internal/auth"
)

// schema is applied idempotently at startup. Timestamps are stored as
// sqlite DATETIME and round-trip through time.Time in the driver.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		class TEXT NOT NULL DEFAULT '',
		homeroom_teacher TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS teachers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL REFERENCES students(id),
		title TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES chat_sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		read_by_teacher INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT UNIQUE NOT NULL,
		principal_id INTEGER NOT NULL,
		principal_type TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_student ON chat_sessions(student_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_token ON tokens(token)`,
}

// applySchema creates the tables and indexes.
func applySchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

// seedDefaultTeacher inserts the bootstrap teacher account on first
// run so a fresh deployment has a working dashboard login.
func seedDefaultTeacher(db *sql.DB, username, password string) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM teachers`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count teachers: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash seed password: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO teachers (username, password_hash) VALUES (?, ?)`, username, hash); err != nil {
		return fmt.Errorf("failed to seed teacher account: %w", err)
	}
	return nil
}

// applyPragmas tunes sqlite for one writer and concurrent readers.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
