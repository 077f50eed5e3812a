package tokens

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ekyaaa/cafe-tone/db"
	"github.com/ekyaaa/cafe-tone/models"
	"github.com/ekyaaa/cafe-tone/spotify"
)

// ErrNotConnected means the user has no stored Spotify credentials.
var ErrNotConnected = errors.New("spotify account not connected")

// expirySkew refreshes tokens slightly early so a token that passes the
// check here does not expire mid-request at the provider.
const expirySkew = 30 * time.Second

// Manager is the single choke point for Spotify credentials. Everything that
// needs an access token goes through GetValidAccessToken; nothing else reads
// or refreshes token rows.
type Manager struct {
	db     *db.DB
	auth   *spotify.Authenticator
	logger *slog.Logger

	mu        sync.Mutex
	userLocks map[int64]*sync.Mutex
}

func NewManager(database *db.DB, auth *spotify.Authenticator, logger *slog.Logger) *Manager {
	return &Manager{
		db:        database,
		auth:      auth,
		logger:    logger,
		userLocks: make(map[int64]*sync.Mutex),
	}
}

// userLock returns the mutex serializing refreshes for one user. Per-user
// rather than global so one admin's slow refresh never blocks another's.
func (m *Manager) userLock(userID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[userID] = lock
	}
	return lock
}

// Connect exchanges an authorization code and stores the resulting token set
// for the user, making them the active controller.
func (m *Manager) Connect(ctx context.Context, userID int64, code string) error {
	set, err := m.auth.Exchange(ctx, code)
	if err != nil {
		return err
	}

	if err := m.db.UpsertToken(userID, set.AccessToken, set.RefreshToken, set.ExpiresAt); err != nil {
		return err
	}

	m.logger.Info("spotify account connected", "user_id", userID, "expires_at", set.ExpiresAt)
	return nil
}

// Disconnect removes the user's stored credentials.
func (m *Manager) Disconnect(userID int64) error {
	if err := m.db.DeleteToken(userID); err != nil {
		return err
	}

	m.logger.Info("spotify account disconnected", "user_id", userID)
	return nil
}

// IsConnected reports whether the user has a token row, without validating it.
func (m *Manager) IsConnected(userID int64) (bool, error) {
	token, err := m.db.GetTokenByUserID(userID)
	if err != nil {
		return false, err
	}
	return token != nil, nil
}

// GetValidAccessToken returns an access token guaranteed fresh for at least
// the skew window, refreshing and persisting first when needed. Concurrent
// callers for the same user coalesce on one refresh: the per-user lock is
// taken before the expiry check, so the second caller re-reads the row the
// first one just wrote.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID int64) (string, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	token, err := m.db.GetTokenByUserID(userID)
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", ErrNotConnected
	}

	if !token.Expired(time.Now().Add(expirySkew)) {
		return token.AccessToken, nil
	}

	set, err := m.auth.Refresh(ctx, token.RefreshToken)
	if err != nil {
		// Row stays in place so the UI still shows a connection; the error
		// tells the caller a reconnect is required.
		m.logger.Error("token refresh failed", "user_id", userID, "error", err)
		return "", err
	}

	if err := m.db.UpdateToken(userID, set.AccessToken, set.RefreshToken, set.ExpiresAt); err != nil {
		return "", err
	}

	m.logger.Info("token refreshed", "user_id", userID, "expires_at", set.ExpiresAt)
	return set.AccessToken, nil
}

// ActiveAdmin returns the token row of the admin whose account drives shared
// playback, or nil when no admin is connected.
func (m *Manager) ActiveAdmin() (*models.SpotifyToken, error) {
	return m.db.GetActiveAdminToken()
}

// GetActiveAdminAccessToken resolves the connected admin and returns a fresh
// access token for that account, along with the admin's user id. Returns
// ErrNotConnected when no admin has connected.
func (m *Manager) GetActiveAdminAccessToken(ctx context.Context) (string, int64, error) {
	row, err := m.db.GetActiveAdminToken()
	if err != nil {
		return "", 0, err
	}
	if row == nil {
		return "", 0, ErrNotConnected
	}

	access, err := m.GetValidAccessToken(ctx, row.UserID)
	if err != nil {
		return "", 0, err
	}

	return access, row.UserID, nil
}
