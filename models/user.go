package models

import "time"

// Role is the access level assigned to a user at creation. It never changes
// afterwards; there is no role-change flow.
type Role int

const (
	RoleAdmin Role = iota + 1
	RoleUser
	RoleVIP
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleUser:
		return "user"
	case RoleVIP:
		return "vip"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleVIP:
		return true
	}
	return false
}

// User represents an account that can log in to Cafe Tone.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// IsAdmin reports whether the user may connect Spotify and control playback.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserSummary is the subset of User embedded in ConnectionStatus responses.
type UserSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}
