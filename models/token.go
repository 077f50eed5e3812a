package models

import "time"

// SpotifyToken holds the OAuth credentials of the one user who connected a
// Spotify account. At most one row exists per user; the row is replaced whole
// on refresh and removed on disconnect.
type SpotifyToken struct {
	ID           int64
	UserID       int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the access token may no longer be used without a
// refresh attempt first.
func (t *SpotifyToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
