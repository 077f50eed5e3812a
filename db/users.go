package db

import (
	"database/sql"
	"time"

	"github.com/ekyaaa/cafe-tone/models"
)

// CreateUser adds a new user to the database
func (db *DB) CreateUser(user *models.User) (int64, error) {
	now := time.Now()

	result, err := db.Exec(`
	INSERT INTO users (name, email, password_hash, role, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		user.Name, user.Email, user.PasswordHash, user.Role, now, now)

	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

// GetUserByID retrieves a user by primary key. Returns nil, nil when the
// user does not exist.
func (db *DB) GetUserByID(userID int64) (*models.User, error) {
	user := &models.User{}

	err := db.QueryRow(`
	SELECT user_id, name, email, password_hash, role, created_at, updated_at
	FROM users WHERE user_id = ?`, userID).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash,
		&user.Role, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email. Returns nil, nil when no user
// has that email.
func (db *DB) GetUserByEmail(email string) (*models.User, error) {
	user := &models.User{}

	err := db.QueryRow(`
	SELECT user_id, name, email, password_hash, role, created_at, updated_at
	FROM users WHERE email = ?`, email).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash,
		&user.Role, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// CountUsers returns the number of user rows.
func (db *DB) CountUsers() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
