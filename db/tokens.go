package db

import (
	"database/sql"
	"time"

	"github.com/ekyaaa/cafe-tone/models"
)

// UpsertToken creates or replaces the token row for a user and marks that
// user as the active controller, in one transaction. Called from the OAuth
// callback path only; refreshes go through UpdateToken.
func (db *DB) UpsertToken(userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	now := time.Now()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
	INSERT INTO spotify_tokens (user_id, access_token, refresh_token, expires_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		access_token = excluded.access_token,
		refresh_token = excluded.refresh_token,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at`,
		userID, accessToken, refreshToken, expiresAt, now, now)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
	INSERT INTO active_controller (id, user_id) VALUES (1, ?)
	ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id`, userID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateToken replaces all three token fields after a refresh. The row is
// always written whole so a reader never observes a new access token paired
// with a stale expiry.
func (db *DB) UpdateToken(userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := db.Exec(`
	UPDATE spotify_tokens
	SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
	WHERE user_id = ?`,
		accessToken, refreshToken, expiresAt, time.Now(), userID)

	return err
}

// GetTokenByUserID retrieves the token row owned by a user. Returns nil, nil
// when the user has no token.
func (db *DB) GetTokenByUserID(userID int64) (*models.SpotifyToken, error) {
	token := &models.SpotifyToken{}

	err := db.QueryRow(`
	SELECT token_id, user_id, access_token, refresh_token, expires_at, created_at, updated_at
	FROM spotify_tokens WHERE user_id = ?`, userID).Scan(
		&token.ID, &token.UserID, &token.AccessToken, &token.RefreshToken,
		&token.ExpiresAt, &token.CreatedAt, &token.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return token, nil
}

// GetActiveAdminToken finds the token driving shared playback: the active
// controller pointer when it still names an admin with a token, otherwise the
// lowest-id admin owning a token row. Token rows held by non-admin users are
// ignored either way. Returns nil, nil when no admin is connected.
func (db *DB) GetActiveAdminToken() (*models.SpotifyToken, error) {
	token := &models.SpotifyToken{}

	err := db.QueryRow(`
	SELECT t.token_id, t.user_id, t.access_token, t.refresh_token, t.expires_at, t.created_at, t.updated_at
	FROM spotify_tokens t
	JOIN active_controller a ON a.user_id = t.user_id
	JOIN users u ON u.user_id = t.user_id
	WHERE u.role = ?`, models.RoleAdmin).Scan(
		&token.ID, &token.UserID, &token.AccessToken, &token.RefreshToken,
		&token.ExpiresAt, &token.CreatedAt, &token.UpdatedAt)

	if err == nil {
		return token, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// Pointer unset or stale; fall back to the deterministic join.
	err = db.QueryRow(`
	SELECT t.token_id, t.user_id, t.access_token, t.refresh_token, t.expires_at, t.created_at, t.updated_at
	FROM spotify_tokens t
	JOIN users u ON u.user_id = t.user_id
	WHERE u.role = ?
	ORDER BY t.user_id ASC
	LIMIT 1`, models.RoleAdmin).Scan(
		&token.ID, &token.UserID, &token.AccessToken, &token.RefreshToken,
		&token.ExpiresAt, &token.CreatedAt, &token.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return token, nil
}

// DeleteToken removes a user's token row and clears the active controller
// pointer if it named that user. Deletion is immediate; reconnecting requires
// a fresh authorization.
func (db *DB) DeleteToken(userID int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM spotify_tokens WHERE user_id = ?`, userID); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM active_controller WHERE user_id = ?`, userID); err != nil {
		return err
	}

	return tx.Commit()
}
