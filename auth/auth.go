package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/ekyaaa/cafe-tone/db"
	"github.com/ekyaaa/cafe-tone/models"
	"github.com/ekyaaa/cafe-tone/session"
)

// Service owns password login. Spotify OAuth identifies the shared account,
// never an app user, so every user signs in here first.
type Service struct {
	db       *db.DB
	sessions *session.SessionManager
}

func NewService(database *db.DB, sessions *session.SessionManager) *Service {
	return &Service{
		db:       database,
		sessions: sessions,
	}
}

// Seed inserts the default accounts when the users table is empty, so a fresh
// install is usable without a registration flow.
func (s *Service) Seed() error {
	n, err := s.db.CountUsers()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	defaults := []struct {
		name  string
		email string
		role  models.Role
	}{
		{"Admin", "admin@cafetone.local", models.RoleAdmin},
		{"User", "user@cafetone.local", models.RoleUser},
		{"VIP", "vip@cafetone.local", models.RoleVIP},
	}

	for _, d := range defaults {
		hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		_, err = s.db.CreateUser(&models.User{
			Name:         d.name,
			Email:        d.email,
			PasswordHash: string(hash),
			Role:         d.role,
		})
		if err != nil {
			return err
		}

		slog.Info("seeded user", "email", d.email, "role", d.role.String())
	}

	return nil
}

func (s *Service) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	// already signed in? straight to the player
	if cookie, err := r.Cookie("session"); err == nil {
		if _, ok := s.sessions.GetSession(cookie.Value); ok {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, loginPage)
}

func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		slog.Error("error looking up user", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// same rejection for unknown email and wrong password
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, loginFailedPage)
		return
	}

	sess := s.sessions.CreateSession(user.ID)
	s.sessions.SetSessionCookie(w, sess)

	slog.Info("user logged in", "user_id", user.ID, "role", user.Role.String())

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Service) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("session"); err == nil {
		s.sessions.DeleteSession(cookie.Value)
	}

	s.sessions.ClearSessionCookie(w)

	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

const loginPage = `<!DOCTYPE html>
<html>
<head><title>Cafe Tone - Login</title></head>
<body>
<h1>Cafe Tone</h1>
<form method="POST" action="/login">
	<label>Email <input type="email" name="email" required></label><br>
	<label>Password <input type="password" name="password" required></label><br>
	<button type="submit">Sign in</button>
</form>
</body>
</html>`

const loginFailedPage = `<!DOCTYPE html>
<html>
<head><title>Cafe Tone - Login</title></head>
<body>
<h1>Cafe Tone</h1>
<p>Invalid email or password.</p>
<p><a href="/login">Try again</a></p>
</body>
</html>`
