package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a wrapper around sql.DB
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err = db.Ping(); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Initialize sets up the database tables
func (db *DB) Initialize() error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role INTEGER NOT NULL,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`)
	if err != nil {
		return err
	}

	// One token row per user, removed with the user. This is the stricter of
	// the two schema revisions the app has shipped with.
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS spotify_tokens (
		token_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL UNIQUE,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
	)`)
	if err != nil {
		return err
	}

	// Singleton pointer naming the admin whose token drives shared playback.
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS active_controller (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		user_id INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
	)`)

	return err
}
