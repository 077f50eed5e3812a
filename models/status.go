package models

// ConnectionStatus is the per-request view of who can see and control shared
// playback. It is computed fresh from the users/tokens tables on every
// request and never cached server-side.
//
// Invariant: CanControl implies both IsAdmin and IsConnected.
type ConnectionStatus struct {
	IsAdmin          bool        `json:"is_admin"`
	CanControl       bool        `json:"can_control"`
	IsConnected      bool        `json:"is_connected"`
	ConnectedAdminID *int64      `json:"connected_admin_id"`
	User             UserSummary `json:"user"`
}
