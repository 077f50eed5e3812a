package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ekyaaa/cafe-tone/db"
	"github.com/ekyaaa/cafe-tone/models"
)

type Session struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionManager keeps sessions in sqlite with an in-memory cache in front,
// so logins survive restarts but the hot path stays off the database.
type SessionManager struct {
	db       *db.DB
	sessions map[string]*Session
	lifetime time.Duration
	mu       sync.RWMutex
}

func NewSessionManager(database *db.DB, lifetime time.Duration) *SessionManager {

	_, err := database.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at TIMESTAMP,
		expires_at TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
	)`)

	if err != nil {
		slog.Error("error creating sessions table", "error", err)
	}

	return &SessionManager{
		db:       database,
		sessions: make(map[string]*Session),
		lifetime: lifetime,
	}
}

// create a new session for a user
func (sm *SessionManager) CreateSession(userID int64) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// random session id
	b := make([]byte, 32)
	rand.Read(b)
	sessionID := base64.URLEncoding.EncodeToString(b)

	now := time.Now().UTC()

	session := &Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.lifetime),
	}

	sm.sessions[sessionID] = session

	if sm.db != nil {
		_, err := sm.db.Exec(`
		INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)`,
			sessionID, userID, session.CreatedAt, session.ExpiresAt)

		if err != nil {
			slog.Error("error storing session in database", "error", err)
		}
	}

	return session
}

// retrieve a session by ID
func (sm *SessionManager) GetSession(sessionID string) (*Session, bool) {
	sm.mu.RLock()
	session, exists := sm.sessions[sessionID]
	sm.mu.RUnlock()

	if exists {
		if time.Now().UTC().After(session.ExpiresAt) {
			sm.DeleteSession(sessionID)
			return nil, false
		}
		return session, true
	}

	// not in memory, check the database
	if sm.db != nil {
		session = &Session{ID: sessionID}

		err := sm.db.QueryRow(`
		SELECT user_id, created_at, expires_at
		FROM sessions WHERE id = ?`, sessionID).Scan(
			&session.UserID, &session.CreatedAt, &session.ExpiresAt)

		if err != nil {
			return nil, false
		}

		if time.Now().UTC().After(session.ExpiresAt) {
			sm.DeleteSession(sessionID)
			return nil, false
		}

		sm.mu.Lock()
		sm.sessions[sessionID] = session
		sm.mu.Unlock()

		return session, true
	}

	return nil, false
}

// remove a session
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if sm.db != nil {
		_, err := sm.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID)
		if err != nil {
			slog.Error("error deleting session from database", "error", err)
		}
	}
}

// set a session cookie for the user
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, session *Session) {
	cookie := &http.Cookie{
		Name:     "session",
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		Expires:  session.ExpiresAt,
	}
	http.SetCookie(w, cookie)
}

// ClearSessionCookie clears the session cookie
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	cookie := &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		MaxAge:   -1,
	}
	http.SetCookie(w, cookie)
}

// resolve the request's session cookie to a full user row. The role on the
// user decides what the playback endpoints allow, so handlers always get the
// current row, not a snapshot from login time.
func (sm *SessionManager) userFromRequest(r *http.Request) (*models.User, bool) {
	cookie, err := r.Cookie("session")
	if err != nil {
		return nil, false
	}

	session, exists := sm.GetSession(cookie.Value)
	if !exists {
		return nil, false
	}

	user, err := sm.db.GetUserByID(session.UserID)
	if err != nil || user == nil {
		return nil, false
	}

	return user, true
}

// middleware for browser pages: unauthenticated requests get the login page
func WithAuth(handler http.HandlerFunc, sm *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := sm.userFromRequest(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		r = r.WithContext(WithUser(r.Context(), user))
		handler(w, r)
	}
}

// middleware for JSON endpoints: unauthenticated requests get a 401 body
func WithAPIAuth(handler http.HandlerFunc, sm *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := sm.userFromRequest(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "authentication required"}`))
			return
		}

		r = r.WithContext(WithUser(r.Context(), user))
		handler(w, r)
	}
}

type contextKey int

const (
	userKey contextKey = iota
)

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func GetUser(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok
}
